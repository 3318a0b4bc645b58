// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gamesession/pkg/errutil"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func fastRetry() ConnectOptions {
	return ConnectOptions{Attempts: 4, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestWaitReady_RecoversAfterFailures(t *testing.T) {
	p := &flakyPinger{failures: 2}
	require.NoError(t, waitReady(context.Background(), p, fastRetry()))
	assert.Equal(t, 3, p.calls)
}

func TestWaitReady_GivesUpAfterAttempts(t *testing.T) {
	p := &flakyPinger{failures: 100}
	err := waitReady(context.Background(), p, fastRetry())
	require.Error(t, err)
	assert.Equal(t, 4, p.calls)
	assert.Contains(t, err.Error(), "connection refused")
	errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
	errutil.AssertErrorContext(t, err, "attempts", 4)
}

func TestWaitReady_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyPinger{failures: 100}

	err := waitReady(ctx, p, ConnectOptions{Attempts: 10, Backoff: time.Hour})
	require.Error(t, err)
	assert.LessOrEqual(t, p.calls, 1)
}

func TestConnect_InvalidDSN(t *testing.T) {
	_, err := Connect(context.Background(), "postgres://%zz", ConnectOptions{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
