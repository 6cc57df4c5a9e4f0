package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow/internal/api"
	"orderflow/internal/auth"
	"orderflow/internal/broker"
	"orderflow/internal/buildinfo"
	"orderflow/internal/config"
	"orderflow/internal/dispatch"
	"orderflow/internal/metrics"
	"orderflow/internal/obs"
	"orderflow/internal/playback"
	"orderflow/internal/routing"
	"orderflow/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := obs.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, err := openBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	coord := dispatch.New(st, bus, routeSource(cfg), dispatch.Config{
		RouteTimeout:   cfg.Routing.Timeout,
		PublishTimeout: cfg.Playback.PublishTimeout,
		AutoComplete:   cfg.Playback.AutoComplete,
		Playback: playback.Options{
			Interval:         cfg.Playback.Interval,
			TerminalAttempts: cfg.Playback.TerminalAttempts,
		},
		Logger: logger,
	})

	srv := &api.Server{
		Coord:  coord,
		Store:  st,
		Broker: bus,
		Auth:   auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Log:    logger,
		Info:   cfg.Public(),
	}
	// Streams run until the base context ends, which Shutdown triggers.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpSrv.RegisterOnShutdown(cancelBase)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpSrv.Addr, "version", buildinfo.Version,
			"broker", cfg.Broker.Kind, "route_provider", cfg.Routing.Provider)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Warn("playback shutdown", "err", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}

func openBroker(cfg config.Config, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Broker.Kind {
	case "redis":
		return broker.NewRedis(cfg.Broker.RedisURL, logger)
	case "amqp":
		return broker.DialAMQP(cfg.Broker.AMQPURL, logger)
	default:
		return broker.NewMemory(), nil
	}
}

func routeSource(cfg config.Config) routing.Source {
	if cfg.Routing.Provider == "google" {
		opts := []routing.DirectionsOption{
			routing.WithRateLimit(cfg.Routing.RPS, cfg.Routing.Burst),
			routing.WithRetry(3, 200*time.Millisecond),
			routing.WithHTTPClient(&http.Client{Timeout: cfg.Routing.Timeout}),
		}
		if cfg.Routing.BaseURL != "" {
			opts = append(opts, routing.WithBaseURL(cfg.Routing.BaseURL))
		}
		return routing.Metered(routing.NewDirections(cfg.Routing.APIKey, opts...), "google")
	}
	return routing.Metered(routing.Straight{Steps: cfg.Routing.Steps}, "straight")
}
