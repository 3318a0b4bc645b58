// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gamesession/pkg/errutil"
)

func setup(t *testing.T, cfg Config) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := Setup("gamesession", "1.0.0", cfg, &buf)
	require.NoError(t, err)
	return logger, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	logger, buf := setup(t, Config{Format: "json"})

	logger.Info("test message")

	entry := decode(t, buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "gamesession", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	logger, buf := setup(t, Config{Format: "text"})

	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "service=gamesession")
}

func TestSetup_DefaultsToJSONAtInfo(t *testing.T) {
	logger, buf := setup(t, Config{})

	logger.Debug("hidden")
	assert.Zero(t, buf.Len(), "debug is below the default level")

	logger.Info("shown")
	assert.Equal(t, "shown", decode(t, buf)["msg"])
}

func TestSetup_Level(t *testing.T) {
	logger, buf := setup(t, Config{Level: "warn"})
	logger.Info("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn("shown")
	assert.Equal(t, "WARN", decode(t, buf)["level"])

	logger, buf = setup(t, Config{Level: "debug"})
	logger.Debug("shown")
	assert.Equal(t, "DEBUG", decode(t, buf)["level"])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		code string
	}{
		{"empty", Config{}, ""},
		{"text debug", Config{Format: "text", Level: "debug"}, ""},
		{"bad format", Config{Format: "xml"}, "LOG_FORMAT_INVALID"},
		{"bad level", Config{Level: "loud"}, "LOG_LEVEL_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)

			_, err = Setup("gamesession", "1.0.0", tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestHandler_TraceContext(t *testing.T) {
	logger, buf := setup(t, Config{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	entry := decode(t, buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	logger, buf := setup(t, Config{})

	logger.Info("no trace message")

	entry := decode(t, buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestHandler_WithAttrsAndGroupKeepTraceFields(t *testing.T) {
	logger, buf := setup(t, Config{})

	Component(logger, "registry").WithGroup("login").Info("grouped", "reason", "banned")

	entry := decode(t, buf)
	assert.Equal(t, "registry", entry["component"])
	assert.Equal(t, "gamesession", entry["login"].(map[string]any)["service"])
	assert.Equal(t, "banned", entry["login"].(map[string]any)["reason"])
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger, err := SetDefault("test-service", "2.0.0", Config{Format: "json"})
	require.NoError(t, err)
	assert.Same(t, logger, slog.Default())
}
