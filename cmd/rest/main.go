package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bioinsight-be/internal/bootstrap"
	"bioinsight-be/internal/config"
	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/internal/server"
	"bioinsight-be/internal/tracer"
)

func main() {
	// 1. Configuration and logging
	cfg := config.Load()
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	defer sysLogger.Sync()

	// 2. Tracing
	shutdownTracer := tracer.InitTracer(tracer.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "bioinsight-be",
	}, sysLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Dependencies
	container, err := bootstrap.NewContainer(ctx, cfg, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to bootstrap: %v", err)
	}
	defer container.Close()

	// 4. Background workers
	if err := container.Start(ctx); err != nil {
		log.Fatalf("[FATAL] Failed to start workers: %v", err)
	}

	// 5. HTTP
	srv := server.New(cfg, container, sysLogger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		sysLogger.Error("SERVER", "Server stopped", map[string]interface{}{"error": err.Error()})
	case <-ctx.Done():
		sysLogger.Info("SERVER", "Shutting down", nil)
		if err := srv.Shutdown(); err != nil {
			sysLogger.Error("SERVER", "Shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(flushCtx); err != nil {
		sysLogger.Warn("TRACER", "Tracer shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
