// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gamesession/internal/config"
	"github.com/holomush/gamesession/internal/ticket"
	"github.com/holomush/gamesession/internal/ticket/tickettest"
	"github.com/holomush/gamesession/pkg/errutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")

	cfg, err := config.Load("", false, nil)
	require.NoError(t, err)

	assert.Equal(t, config.Default(), *cfg)
	assert.Len(t, cfg.Issuers, 2)
	assert.Equal(t, ":10050", cfg.HTTP.Addr)
}

func TestLoad_MissingOptionalFile(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "gamesession", cfg.InstanceName)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), true, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoad_File(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	path := writeFile(t, t.TempDir(), "gamesession.yaml", `
instance_name: eu-1
http:
  addr: ":8080"
  allowed_origins: ["https://example.org"]
  shutdown_timeout: 3s
log:
  format: text
  level: debug
policy:
  whitelist: true
  block_psv: true
whitelist_path: /etc/gamesession/whitelist.json
issuers:
  - name: rpcn
    algorithm: ES384
    key_file: /etc/gamesession/rpcn.pem
peer:
  lag_threshold: 16
  write_timeout: 250ms
`)

	cfg, err := config.Load(path, true, nil)
	require.NoError(t, err)

	assert.Equal(t, "eu-1", cfg.InstanceName)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://example.org"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Policy.WhitelistEnabled)
	assert.True(t, cfg.Policy.BlockPSV)
	assert.False(t, cfg.Policy.BlockPSP)
	assert.Equal(t, "/etc/gamesession/whitelist.json", cfg.WhitelistPath)
	assert.Equal(t, []config.Issuer{{Name: "rpcn", Algorithm: "ES384", KeyFile: "/etc/gamesession/rpcn.pem"}}, cfg.Issuers,
		"a configured issuer list replaces the defaults")
	assert.Equal(t, 16, cfg.Peer.LagThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Peer.WriteTimeout)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr, "unset keys keep defaults")
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	path := writeFile(t, t.TempDir(), "gamesession.yaml", `
instance_name: from-file
http:
  addr: ":8080"
log:
  level: warn
`)
	fs := newFlags(t, "--instance-name=from-flag", "--block-primary", "--peer-lag-threshold=8")

	cfg, err := config.Load(path, true, fs)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.InstanceName)
	assert.Equal(t, ":8080", cfg.HTTP.Addr, "unchanged flags do not override the file")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Policy.BlockPrimary)
	assert.Equal(t, 8, cfg.Peer.LagThreshold)
}

func TestLoad_DatabaseURL(t *testing.T) {
	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "postgres://env/db")
		cfg, err := config.Load("", false, nil)
		require.NoError(t, err)
		assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	})

	t.Run("flag wins over environment", func(t *testing.T) {
		t.Setenv(config.EnvDatabaseURL, "postgres://env/db")
		cfg, err := config.Load("", false, newFlags(t, "--database-url=postgres://flag/db"))
		require.NoError(t, err)
		assert.Equal(t, "postgres://flag/db", cfg.Database.URL)
	})
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "http: [unclosed")
	_, err := config.Load(path, true, nil)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"empty addr", func(c *config.Config) { c.HTTP.Addr = "" }, "CONFIG_INVALID"},
		{"zero shutdown timeout", func(c *config.Config) { c.HTTP.ShutdownTimeout = 0 }, "CONFIG_INVALID"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "LOG_FORMAT_INVALID"},
		{"whitelist without path", func(c *config.Config) {
			c.Policy.WhitelistEnabled = true
			c.WhitelistPath = ""
		}, "CONFIG_INVALID"},
		{"no issuers", func(c *config.Config) { c.Issuers = nil }, "CONFIG_INVALID"},
		{"unknown issuer", func(c *config.Config) { c.Issuers[0].Name = "xbl" }, "CONFIG_INVALID"},
		{"duplicate issuer", func(c *config.Config) { c.Issuers[1].Name = c.Issuers[0].Name }, "CONFIG_INVALID"},
		{"issuer without key", func(c *config.Config) { c.Issuers[0].KeyFile = "" }, "CONFIG_INVALID"},
		{"negative lag threshold", func(c *config.Config) { c.Peer.LagThreshold = -1 }, "CONFIG_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestIssuerKeys(t *testing.T) {
	dir := t.TempDir()
	psn, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rpcn, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Issuers = []config.Issuer{
		{Name: "psn", Algorithm: "ES256", KeyFile: writeFile(t, dir, "psn.pem", string(tickettest.PublicKeyPEM(t, &psn.PublicKey)))},
		{Name: "rpcn", Algorithm: "ES384", KeyFile: writeFile(t, dir, "rpcn.pem", string(tickettest.PublicKeyPEM(t, &rpcn.PublicKey)))},
	}

	keys, err := cfg.IssuerKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, ticket.IssuerPSN, keys[0].Issuer)
	assert.Equal(t, jwt.SigningMethodES256, keys[0].Method)
	assert.Equal(t, ticket.IssuerRPCN, keys[1].Issuer)
	assert.True(t, rpcn.PublicKey.Equal(keys[1].PublicKey))

	_, err = ticket.NewVerifier(keys...)
	assert.NoError(t, err)
}

func TestIssuerKeys_MissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Issuers = []config.Issuer{{Name: "psn", Algorithm: "ES256", KeyFile: filepath.Join(t.TempDir(), "none.pem")}}

	_, err := cfg.IssuerKeys()
	errutil.AssertErrorCode(t, err, "ISSUER_KEY_READ_FAILED")
}
