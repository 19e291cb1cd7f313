package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kgraph/interfaces/http/rest"
	"kgraph/internal/config"
	"kgraph/internal/di"
	"kgraph/internal/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	tracing, err := observability.InitTracing(cfg.Tracing, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	watcher, err := config.NewWatcher(cfg, container.Logger)
	if err != nil {
		log.Fatalf("Failed to start configuration watcher: %v", err)
	}
	watcher.OnReload(func(next *config.Config) {
		// Wiring is fixed at startup; a reload refreshes the snapshot and
		// logs what will apply on the next restart.
		container.Logger.Info("configuration reloaded",
			zap.Strings("sources", next.LoadedFrom))
	})

	// Recovers stale running jobs, then dispatches approved work.
	container.Scheduler.Start(ctx)

	router := rest.NewRouter(rest.Deps{
		Config:       cfg.Server,
		Graph:        container.Graph,
		Objects:      container.Objects,
		Intake:       container.Intake,
		Queue:        container.Queue,
		Queries:      container.Queries,
		Vocabulary:   container.Vocabulary,
		Consolidator: container.Consolidator,
		Vectors:      container.Vectors,
		Keywords:     container.Keywords,
		Registry:     container.Registry,
		Publisher:    container.Publisher,
		Metrics:      container.Metrics,
		Version:      cfg.Version,
	}, container.Logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		container.Logger.Info("starting server",
			zap.String("address", srv.Addr),
			zap.String("environment", string(cfg.Environment)),
			zap.String("store", cfg.Store.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Refuse new requests first, then drain the job workers, then release
	// storage. Jobs interrupted mid-chunk are recovered at the next start.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("server shutdown error", zap.Error(err))
	}
	container.Scheduler.Stop()
	watcher.Stop()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("tracing shutdown error", zap.Error(err))
	}
	if err := container.Close(); err != nil {
		container.Logger.Error("resource close error", zap.Error(err))
	}
	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
