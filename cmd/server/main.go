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
	"time"

	"github.com/joho/godotenv"

	"raincast/internal/api"
	"raincast/internal/collector"
	"raincast/internal/config"
	"raincast/internal/database"
	"raincast/internal/predictor"
	"raincast/internal/scheduler"
	"raincast/internal/server"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	noSchedule := flag.Bool("no-schedule", false, "disable periodic collection")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := database.NewDB(cfg.Storage.Driver, config.GetDatabaseDSN(cfg.Storage.Driver), cfg.Storage.Retention)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize API clients
	weather := api.NewOpenWeatherClientFromConfig(cfg)
	geo := api.NewIPGeoClient(cfg.Weather.GeoIPURL, cfg.Weather.Timeout)

	pipeline := predictor.New(predictor.Options{
		ArtifactPath:    cfg.Model.ArtifactPath,
		MinRows:         cfg.Model.MinTrainingRows,
		Seed:            cfg.Model.Seed,
		HoldoutFraction: cfg.Model.HoldoutFraction,
	})
	slog.Info("rain model", "state", pipeline.State(), "artifact", cfg.Model.ArtifactPath)

	svc := collector.New(weather, geo, db, pipeline)

	if !*noSchedule {
		sched := scheduler.New(cfg.TrackedLocations(), cfg.Server.CollectInterval, svc)
		if err := sched.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	// Create HTTP server
	srv := server.NewServer(svc, db, pipeline, server.Options{
		DefaultLocation:    cfg.Weather.DefaultLocation,
		Locations:          cfg.TrackedLocations(),
		HistoricalDays:     cfg.Weather.HistoricalDays,
		TrainingWindowDays: cfg.Model.TrainingWindowDays,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "err", err)
	}
}
