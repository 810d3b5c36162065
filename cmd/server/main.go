package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenNSW/pipeline/internal/app"
	"github.com/OpenNSW/pipeline/internal/config"
	"github.com/OpenNSW/pipeline/internal/database"
	"github.com/OpenNSW/pipeline/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logging.Setup(cfg.Log)

	slog.Info("configuration loaded successfully",
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"storage", cfg.Storage.Type,
		"definitions", cfg.Pipeline.DefinitionsPath,
	)

	slog.Info("CORS configuration",
		"allowed_origins", cfg.CORS.AllowedOrigins,
		"allowed_methods", cfg.CORS.AllowedMethods,
		"allow_credentials", cfg.CORS.AllowCredentials,
	)

	db, err := database.New(&cfg.Database, cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, db, nil)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	if err := a.Migrate(); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}
	if cfg.Pipeline.SeedOnStart {
		if _, err := a.Seed(ctx); err != nil {
			log.Fatalf("failed to seed pipelines: %v", err)
		}
	}
	if err := a.StartReporter(); err != nil {
		log.Fatalf("failed to start stale reporter: %v", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	slog.Info("stopping stale reporter...")
	a.Reporter.Stop(shutdownCtx)

	slog.Info("server stopped")
}
