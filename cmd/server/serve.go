package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/travelchat/internal/auth"
	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/membership"
	"github.com/Tyrowin/travelchat/internal/observability"
	"github.com/Tyrowin/travelchat/internal/presence"
	"github.com/Tyrowin/travelchat/internal/server"
	"github.com/Tyrowin/travelchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat gateway",
		Long: `Start the STOMP-over-WebSocket chat gateway.

The server loads configuration, opens and migrates the database, then serves
/ws, the group chat REST endpoints, /health and /metrics until SIGINT or
SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func loadConfig(path string) (*server.Config, error) {
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *server.Config) *slog.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)
	return logger
}

func openStore(ctx context.Context, cfg *server.Config) (store.Store, error) {
	storeCfg := store.DefaultConfig()
	storeCfg.Driver = cfg.Database.Driver
	storeCfg.DSN = cfg.Database.DSN

	st, err := store.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

// newVerifier prefers a JWKS endpoint over the shared secret.
func newVerifier(ctx context.Context, cfg *server.Config, logger *slog.Logger) (auth.Verifier, func(), error) {
	if cfg.Auth.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, cfg.Auth.Issuer, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("load jwks: %w", err)
		}
		return v, v.Close, nil
	}
	return auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry, cfg.Auth.Issuer), func() {}, nil
}

func runServe(parent context.Context, cfg *server.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	logger.Info("starting travelchat", "version", version, "commit", commit)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TraceConfig{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	verifier, closeVerifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerifier()

	metrics := observability.NewMetrics()
	sessions := presence.NewSessions()
	hub := server.NewHub(logger)
	stage := presence.NewStage(presence.NewTracker(), sessions, hub, logger, metrics)
	dispatcher := chat.NewDispatcher(st, st, hub, logger, chat.WithRecorder(metrics))
	bridge := membership.NewBridge(st, sessions, hub, logger, metrics)

	srv := server.New(cfg, hub, server.Deps{
		Authenticator: auth.NewAuthenticator(verifier, st, sessions, logger),
		Dispatcher:    dispatcher,
		Presence:      stage,
		Bridge:        bridge,
		Metrics:       metrics,
		Logger:        logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
