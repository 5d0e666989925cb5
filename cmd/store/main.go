package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"raincast/internal/collector"
	"raincast/internal/config"
	"raincast/internal/database"
	"raincast/internal/models"
	"raincast/internal/predictor"
	"raincast/internal/queue"
)

// observationWriter is the write side of the database store needs
type observationWriter interface {
	Save(ctx context.Context, obs models.Observation) error
	SaveBatch(ctx context.Context, observations []models.Observation) (database.BatchResult, error)
}

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	consumerName := flag.String("name", "consumer-1", "consumer name within the group")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisCfg := config.GetRedisConfig(cfg)
	redisClient := queue.NewClient(redisCfg.Addr, redisCfg.Password, redisCfg.DB)
	defer redisClient.Close()

	// Initialize database
	db, err := database.NewDB(cfg.Storage.Driver, config.GetDatabaseDSN(cfg.Storage.Driver), cfg.Storage.Retention)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Current snapshots are scored at insert time once a model exists
	pipeline := predictor.New(predictor.Options{
		ArtifactPath:    cfg.Model.ArtifactPath,
		MinRows:         cfg.Model.MinTrainingRows,
		Seed:            cfg.Model.Seed,
		HoldoutFraction: cfg.Model.HoldoutFraction,
	})
	log.Printf("Rain model state: %s", pipeline.State())

	consumer := queue.NewConsumer(redisClient, redisCfg.Stream, queue.DefaultGroup, *consumerName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signal
	go func() {
		<-quit
		log.Println("Shutting down store service...")
		cancel()
	}()

	log.Println("Store into db started, reading from Redis stream. Press Ctrl+C to stop...")

	err = consumer.Run(ctx, func(ctx context.Context, msg queue.Message) error {
		return storeMessage(ctx, db, pipeline, msg)
	})
	if err != nil {
		log.Fatalf("Store service failed: %v", err)
	}

	log.Println("Store service stopped")
}

// storeMessage persists one queue message. Historical batches are stored
// best-effort; current snapshots are scored with scorer when they carry no
// prediction yet, then saved one at a time so the retention policy applies
// to each. scorer may be nil.
func storeMessage(ctx context.Context, store observationWriter, scorer collector.Predictor, msg queue.Message) error {
	switch msg.Type {
	case models.SourceHistorical:
		result, err := store.SaveBatch(ctx, msg.Observations)
		if err != nil {
			return fmt.Errorf("failed to store historical data for %s: %w", msg.Location.Name, err)
		}
		log.Printf("Stored historical data for %s (%.2f, %.2f): %d stored, %d failed",
			msg.Location.Name, msg.Location.Latitude, msg.Location.Longitude, result.Stored, result.Failed)

	case models.SourceCurrent:
		for _, obs := range msg.Observations {
			if obs.Source == "" {
				obs.Source = models.SourceCurrent
			}
			if obs.PredictedRainChance == nil {
				collector.Score(scorer, &obs)
			}
			if err := store.Save(ctx, obs); err != nil {
				return fmt.Errorf("failed to store current data for %s: %w", msg.Location.Name, err)
			}
		}
		log.Printf("Stored current data for %s (%.2f, %.2f)",
			msg.Location.Name, msg.Location.Latitude, msg.Location.Longitude)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}

	return nil
}
