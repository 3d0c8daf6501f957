package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	boltstore "request-recorder/internal/adapters/storage/bolt"
	"request-recorder/internal/adapters/storage/memory"
	"request-recorder/internal/capture"
	cfgpkg "request-recorder/internal/infrastructure/config"
	httpapi "request-recorder/internal/infrastructure/httpapi"
	obs "request-recorder/internal/infrastructure/observability"
	"request-recorder/internal/usecase"
)

func main() {
	cfg := cfgpkg.FromEnv()

	logger := obs.NewLogger(cfg.LogLevel)
	logger.Info().Str("addr", cfg.Addr).Msg("starting request-recorder")

	metrics := obs.NewMetrics()

	var store usecase.BlobStore
	if cfg.DataFile != "" {
		bs, err := boltstore.Open(cfg.DataFile)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.DataFile).Msg("storage open failed")
			os.Exit(1)
		}
		defer func() { _ = bs.Close() }()
		store = bs
		logger.Info().Str("path", cfg.DataFile).Msg("using bbolt storage")
	} else {
		store = memory.NewStore()
		logger.Warn().Msg("DATA_FILE not set, captured sessions are not persisted across restarts")
	}

	svc := usecase.NewSessionService(store)
	if err := svc.Init(context.Background()); err != nil {
		logger.Error().Err(err).Msg("storage init failed")
		os.Exit(1)
	}

	replayer := capture.NewReplayer(cfg.ReplayTimeout, cfg.DiffReplayTimeout, cfg.InsecureTLS, logger, metrics)
	persister := capture.NewPersister(svc, cfg.BatchSize, cfg.FlushInterval, logger, metrics)
	engine := capture.NewEngine(capture.Options{
		MaxInflight:        cfg.MaxInflight,
		SessionMaxDuration: cfg.SessionMaxDuration,
		SessionMaxRequests: cfg.SessionMaxRequests,
	}, svc, replayer, persister, logger, metrics)

	monitor := httpapi.NewMonitorHub()
	engine.Notify = func(event, id string) {
		monitor.Broadcast(httpapi.MonitorEvent{Type: event, ID: id})
	}

	deps := &httpapi.Deps{Cfg: cfg, Logger: logger, Metrics: metrics, Engine: engine, Svc: svc, Monitor: monitor}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouterWithDeps(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	engine.Close(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	logger.Info().Msg("request-recorder stopped")
}
