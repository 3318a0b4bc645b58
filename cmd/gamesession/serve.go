// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/holomush/gamesession/internal/account"
	"github.com/holomush/gamesession/internal/account/postgres"
	"github.com/holomush/gamesession/internal/config"
	"github.com/holomush/gamesession/internal/logging"
	"github.com/holomush/gamesession/internal/observability"
	"github.com/holomush/gamesession/internal/peer"
	"github.com/holomush/gamesession/internal/session"
	"github.com/holomush/gamesession/internal/store"
	"github.com/holomush/gamesession/internal/ticket"
	"github.com/holomush/gamesession/internal/web"
	"github.com/holomush/gamesession/internal/whitelist"
	"github.com/holomush/gamesession/pkg/errutil"
)

const readHeaderTimeout = 10 * time.Second

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// AccountsOpener returns the account repository and a function that
	// releases it.
	// Default: openAccounts
	AccountsOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (account.Repository, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the public listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogOutput receives log records.
	// Default: os.Stderr
	LogOutput io.Writer
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	WatchSessions(c observability.SessionCounter)
	WatchPeers(c observability.PeerCounter)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the HTTP session API and the peer gateway. Configuration is read
from --config and overridden by any flag given on the command line.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until ctx is cancelled, a shutdown
// signal arrives or a listener fails. If deps is nil, default
// implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.AccountsOpener == nil {
		deps.AccountsOpener = openAccounts
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.Setup("gamesession", version, cfg.Log, deps.LogOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	keys, err := cfg.IssuerKeys()
	if err != nil {
		return err
	}
	verifier, err := ticket.NewVerifier(keys...)
	if err != nil {
		return err
	}

	accounts, closeAccounts, err := deps.AccountsOpener(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAccounts()

	gateway := peer.NewGateway(peer.Options{
		LagThreshold: cfg.Peer.LagThreshold,
		WriteTimeout: cfg.Peer.WriteTimeout,
		Logger:       logging.Component(logger, "peer"),
	})
	registry, err := session.NewRegistry(verifier, accounts, gateway, session.Options{
		Policy:    cfg.Policy,
		Whitelist: whitelist.NewWithLogger(cfg.WhitelistPath, logging.Component(logger, "whitelist")),
		Logger:    logging.Component(logger, "session"),
	})
	if err != nil {
		return err
	}
	handler := web.NewHandler(registry, gateway, web.Options{
		InstanceName:   cfg.InstanceName,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logging.Component(logger, "web"),
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load, logging.Component(logger, "observability"))
		obsServer.WatchSessions(registry)
		obsServer.WatchPeers(gateway)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			_ = listener.Close()
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()
	go monitorServerErrors(ctx, cancel, httpErrCh, "http", logger)

	ready.Store(true)
	cmd.Println("Session server started")
	logger.Info("session server ready",
		"addr", listener.Addr().String(),
		"instance", cfg.InstanceName,
		"whitelist", cfg.Policy.WhitelistEnabled,
		"issuers", len(keys),
	)

	<-ctx.Done()
	ready.Store(false)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Sessions go first so connected peers see every destroyed event
	// before their close frame.
	destroyed := registry.DestroyAll()
	if err := gateway.DisconnectAll(shutdownCtx, peer.ReasonServerStopping); err != nil {
		errutil.LogError(logger, "error disconnecting peers", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete", "sessions_destroyed", destroyed)
	return nil
}

// openAccounts selects PostgreSQL when a database URL is configured and the
// in-memory repository otherwise.
func openAccounts(ctx context.Context, cfg *config.Config, logger *slog.Logger) (account.Repository, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, accounts are kept in memory and lost on restart")
		return account.NewMemoryRepository(), func() {}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.URL); err != nil {
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Logger:   logging.Component(logger, "store"),
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to database")
	return postgres.NewAccountRepository(pool), pool.Close, nil
}

func migrateUp(databaseURL string) (err error) {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return migrator.Up()
}

// monitorServerErrors cancels ctx when errCh reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
