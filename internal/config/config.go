// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the server configuration from a YAML file and
// command line flags. Flags that were set explicitly win over the file;
// anything set in neither keeps its default.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gamesession/internal/logging"
	"github.com/holomush/gamesession/internal/session"
	"github.com/holomush/gamesession/internal/ticket"
	"github.com/holomush/gamesession/internal/whitelist"
)

// EnvDatabaseURL is consulted when database.url is not configured.
const EnvDatabaseURL = "DATABASE_URL"

// HTTP configures the public listener.
type HTTP struct {
	Addr            string        `koanf:"addr"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Database configures account storage. An empty URL selects the in-memory
// repository.
type Database struct {
	URL             string `koanf:"url"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`
	AutoMigrate     bool   `koanf:"auto_migrate"`
}

// Issuer names a trusted ticket issuer and its public key.
type Issuer struct {
	Name      string `koanf:"name"`
	Algorithm string `koanf:"algorithm"`
	KeyFile   string `koanf:"key_file"`
}

// Peer tunes the peer gateway.
type Peer struct {
	LagThreshold int           `koanf:"lag_threshold"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Config is the complete server configuration.
type Config struct {
	InstanceName  string         `koanf:"instance_name"`
	HTTP          HTTP           `koanf:"http"`
	MetricsAddr   string         `koanf:"metrics_addr"`
	Log           logging.Config `koanf:"log"`
	Database      Database       `koanf:"database"`
	Policy        session.Policy `koanf:"policy"`
	WhitelistPath string         `koanf:"whitelist_path"`
	Issuers       []Issuer       `koanf:"issuers"`
	Peer          Peer           `koanf:"peer"`
}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	return Config{
		InstanceName: "gamesession",
		HTTP: HTTP{
			Addr:            ":10050",
			ShutdownTimeout: 10 * time.Second,
		},
		MetricsAddr:   "127.0.0.1:9100",
		Log:           logging.Config{Format: "json", Level: "info"},
		Database:      Database{ConnectAttempts: 5},
		WhitelistPath: whitelist.DefaultPath,
		Issuers:       defaultIssuers(),
		Peer:          Peer{LagThreshold: 256, WriteTimeout: 5 * time.Second},
	}
}

func defaultIssuers() []Issuer {
	return []Issuer{
		{Name: ticket.IssuerPSN.String(), Algorithm: "ES256", KeyFile: "keys/psn.pem"},
		{Name: ticket.IssuerRPCN.String(), Algorithm: "ES256", KeyFile: "keys/rpcn.pem"},
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"instance-name":          "instance_name",
	"http-addr":              "http.addr",
	"allowed-origins":        "http.allowed_origins",
	"shutdown-timeout":       "http.shutdown_timeout",
	"metrics-addr":           "metrics_addr",
	"log-format":             "log.format",
	"log-level":              "log.level",
	"database-url":           "database.url",
	"auto-migrate":           "database.auto_migrate",
	"whitelist":              "policy.whitelist",
	"whitelist-path":         "whitelist_path",
	"block-companion-ps3":    "policy.block_companion_ps3",
	"block-psp":              "policy.block_psp",
	"block-psv":              "policy.block_psv",
	"block-primary":          "policy.block_primary",
	"peer-lag-threshold":     "peer.lag_threshold",
	"peer-write-timeout":     "peer.write_timeout",
	"database-connect-tries": "database.connect_attempts",
}

// RegisterFlags adds the configuration flags to flags, defaulted from Default.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("instance-name", d.InstanceName, "instance name reported by GetInstanceName")
	flags.String("http-addr", d.HTTP.Addr, "HTTP listen address")
	flags.StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	flags.Duration("shutdown-timeout", d.HTTP.ShutdownTimeout, "time allowed for graceful shutdown")
	flags.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("log-format", d.Log.Format, "log format (json or text)")
	flags.String("log-level", d.Log.Level, "minimum log level (debug, info, warn, error)")
	flags.String("database-url", "", "PostgreSQL URL (default: $"+EnvDatabaseURL+", empty = in-memory accounts)")
	flags.Bool("auto-migrate", d.Database.AutoMigrate, "apply pending migrations at startup")
	flags.Uint64("database-connect-tries", d.Database.ConnectAttempts, "database ping attempts at startup")
	flags.Bool("whitelist", false, "only allow whitelisted names to log in")
	flags.String("whitelist-path", d.WhitelistPath, "whitelist JSON file")
	flags.Bool("block-companion-ps3", false, "reject companion title logins from PS3")
	flags.Bool("block-psp", false, "reject logins from PSP")
	flags.Bool("block-psv", false, "reject logins from PS Vita")
	flags.Bool("block-primary", false, "reject primary title logins")
	flags.Int("peer-lag-threshold", d.Peer.LagThreshold, "undelivered events at which a peer is logged as lagging")
	flags.Duration("peer-write-timeout", d.Peer.WriteTimeout, "write deadline for peer sends")
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is non-empty) and explicitly set flags (when flags is non-nil).
// A missing file is an error only when required is true.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	// Issuers are filled in afterwards: decoding a list over a prefilled
	// slice would merge entries by index.
	cfg := Default()
	cfg.Issuers = nil
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	if len(cfg.Issuers) == 0 {
		cfg.Issuers = defaultIssuers()
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv(EnvDatabaseURL)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http.addr").Errorf("http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "http.shutdown_timeout").
			Errorf("http.shutdown_timeout must be positive")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if c.Policy.WhitelistEnabled && c.WhitelistPath == "" {
		return oops.Code("CONFIG_INVALID").With("key", "whitelist_path").
			Errorf("whitelist_path is required when the whitelist is enabled")
	}
	if len(c.Issuers) == 0 {
		return oops.Code("CONFIG_INVALID").With("key", "issuers").Errorf("at least one issuer is required")
	}
	seen := make(map[string]bool, len(c.Issuers))
	for _, iss := range c.Issuers {
		if _, err := ticket.ParseIssuer(iss.Name); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "issuers").Wrap(err)
		}
		if seen[iss.Name] {
			return oops.Code("CONFIG_INVALID").With("key", "issuers").With("issuer", iss.Name).
				Errorf("issuer %q configured twice", iss.Name)
		}
		seen[iss.Name] = true
		if iss.KeyFile == "" {
			return oops.Code("CONFIG_INVALID").With("key", "issuers").With("issuer", iss.Name).
				Errorf("issuer %q has no key_file", iss.Name)
		}
	}
	if c.Peer.LagThreshold < 0 || c.Peer.WriteTimeout < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "peer").Errorf("peer settings must not be negative")
	}
	return nil
}

// IssuerKeys reads and parses every configured issuer key.
func (c *Config) IssuerKeys() ([]ticket.IssuerKey, error) {
	keys := make([]ticket.IssuerKey, 0, len(c.Issuers))
	for _, iss := range c.Issuers {
		issuer, err := ticket.ParseIssuer(iss.Name)
		if err != nil {
			return nil, err
		}
		pemData, err := os.ReadFile(iss.KeyFile)
		if err != nil {
			return nil, oops.Code("ISSUER_KEY_READ_FAILED").
				With("issuer", iss.Name).
				With("path", iss.KeyFile).
				Wrap(err)
		}
		key, err := ticket.ParseIssuerKey(issuer, iss.Algorithm, pemData)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
