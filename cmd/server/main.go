package main

import (
	"canvass-bknd/internal/config"
	"canvass-bknd/internal/database"
	"canvass-bknd/internal/geocode"
	"canvass-bknd/internal/logger"
	"canvass-bknd/internal/routes"
	"canvass-bknd/internal/services"
	"canvass-bknd/internal/store"
	"canvass-bknd/internal/syncq"
	"context"
	"go.uber.org/zap"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uptrace/bun"
)

func main() {
	cfg := config.Load()
	logr := logger.New(cfg)

	var (
		db  *bun.DB
		st  store.Store
		err error
	)
	switch cfg.StoreBackend {
	case "cloud":
		tokens := store.NewStaticTokenSource(cfg.CloudStoreToken)
		st = store.NewCloudStore(cfg.CloudStoreURL, cfg.StoreFolder, tokens, nil)
	case "memory":
		st = store.NewMemStore()
	default:
		db, err = database.New(cfg.DatabaseURL, cfg)
		if err != nil {
			logr.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		st = store.NewPGStore(db, cfg.StoreFolder)
	}
	if db == nil {
		// Sessions need Postgres even when documents live elsewhere.
		db, err = database.New(cfg.DatabaseURL, cfg)
		if err != nil {
			logr.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
	}

	boundarySvc := services.NewBoundaryService(st, cfg.BoundaryPrefix, logr.Logger)
	markerSvc := services.NewMarkerService(
		st,
		boundarySvc,
		geocode.New(cfg.GeocoderURL, nil),
		services.NewNotifyRule(cfg.NotifyTriggerTerms),
		cfg.BoundaryPrefix,
		cfg.SettingsPrefix,
		logr.Logger,
	)
	settingsSvc := services.NewSettingsService(st, cfg.SettingsPrefix, logr.Logger)
	replays := syncq.NewBroadcaster()

	// Pull remote state into memory before serving.
	startCtx, startCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := boundarySvc.LoadAll(startCtx); err != nil {
		logr.Warn("initial area load failed", zap.Error(err))
	}
	if err := markerSvc.LoadAll(startCtx); err != nil {
		logr.Warn("initial site load failed", zap.Error(err))
	}
	startCancel()

	r := routes.NewRouter(routes.Deps{
		DB:         db,
		Markers:    markerSvc,
		Boundaries: boundarySvc,
		Settings:   settingsSvc,
		Replays:    replays,
	}, cfg, logr)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logr.Info("server started", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logr.Fatal("server forced to shutdown", zap.Error(err))
	}

	_ = db.Close()
	logr.Info("server exited gracefully")
}
