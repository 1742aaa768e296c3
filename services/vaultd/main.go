package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	genesisconfig "optionsvault/config"
	"optionsvault/gateway/middleware"
	"optionsvault/observability/logging"
	telemetry "optionsvault/observability/otel"
	"optionsvault/services/vaultd/config"
	"optionsvault/services/vaultd/indexer"
	"optionsvault/services/vaultd/node"
	"optionsvault/services/vaultd/report"
	"optionsvault/services/vaultd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to vaultd config (defaults are used when empty)")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyEnv(os.Getenv)
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}))
	}
	logger := logging.Setup("vaultd", cfg.Environment, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("vaultd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	genesis, err := genesisconfig.Load(cfg.GenesisPath)
	if err != nil {
		return err
	}
	if cfg.Production() && genesis.Devnet {
		return errors.New("devnet genesis refused in production environment")
	}
	n, err := node.New(ctx, genesis, node.WithLogger(logger))
	if err != nil {
		return err
	}
	defer n.Close()

	var index *indexer.Indexer
	if cfg.Indexer.DSN != "" {
		db, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		index, err = indexer.New(db, logger)
		if err != nil {
			return err
		}
		logger.Info("history indexer enabled",
			slog.String("driver", cfg.Indexer.Driver),
			slog.String("dsn", logging.MaskDSN(cfg.Indexer.DSN)),
			slog.String("session", index.Session().String()))
		if cfg.Reports.Dir != "" {
			writer, err := report.NewWriter(cfg.Reports.Dir, logger)
			if err != nil {
				return err
			}
			index.OnRoundClosed(roundReporter(ctx, index, writer, logger))
		}
		go func() {
			if err := index.Run(ctx, n.Feed()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("indexer stopped", slog.Any("error", err))
			}
		}()
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, limit := range cfg.RateLimits {
		limits[name] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	srv := server.New(server.Config{
		Node:    n,
		Indexer: index,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        cfg.Auth.Enabled,
			HMACSecret:     cfg.Auth.HMACSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ScopeClaim:     cfg.Auth.ScopeClaim,
			OptionalPaths:  cfg.Auth.OptionalPaths,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
			ClockSkew:      cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "vaultd",
			LogRequests: !cfg.Production(),
			Enabled:     true,
		}, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		StreamOrigins: cfg.CORS.AllowedOrigins,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Timeouts.Read,
		WriteTimeout: cfg.Timeouts.Write,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("network", genesis.Network),
			slog.Bool("devnet", genesis.Devnet))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// roundReporter writes the report of each indexed round close.
func roundReporter(ctx context.Context, index *indexer.Indexer, writer *report.Writer, logger *slog.Logger) func(indexer.Round) {
	return func(round indexer.Round) {
		n := round.Round
		events, err := index.Events(ctx, indexer.EventFilter{Round: &n, Limit: 1000})
		if err != nil {
			logger.Error("load round events", slog.Uint64("round", n), slog.Any("error", err))
			return
		}
		if _, err := writer.WriteRound(round, events); err != nil {
			logger.Error("write round report", slog.Uint64("round", n), slog.Any("error", err))
		}
	}
}
