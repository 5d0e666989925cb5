package main

import (
	"context"
	"flag"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"raincast/internal/config"
	"raincast/internal/database"
	"raincast/internal/models"
	"raincast/internal/predictor"
)

// observationStore is the read side of the database train needs
type observationStore interface {
	GetObservations(ctx context.Context, city string, since time.Time) ([]models.Observation, error)
	GetCitiesWithData(ctx context.Context) (map[string]bool, error)
}

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	workers := flag.Int("workers", 8, "concurrent location loaders")
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

	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Duration(cfg.Model.TrainingWindowDays) * 24 * time.Hour)

	// Same scope as POST /train-model: every city with stored rows
	cities, err := trainingCities(ctx, db)
	if err != nil {
		log.Fatalf("Failed to list cities with data: %v", err)
	}

	log.Printf("Loading %d days of observations for %d cities...", cfg.Model.TrainingWindowDays, len(cities))
	batch, err := loadTrainingBatch(ctx, db, cities, since, *workers)
	if err != nil {
		log.Fatalf("Failed to load training data: %v", err)
	}

	pipeline := predictor.New(predictor.Options{
		ArtifactPath:    cfg.Model.ArtifactPath,
		MinRows:         cfg.Model.MinTrainingRows,
		Seed:            cfg.Model.Seed,
		HoldoutFraction: cfg.Model.HoldoutFraction,
	})

	report, err := pipeline.Train(batch)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	log.Printf("Trained model %s on %d rows (%d dropped, %d rainy): precision %.3f, recall %.3f, accuracy %.3f",
		report.RunID, report.TrainRows, report.DroppedRows, report.RainyRows,
		report.Holdout.Precision, report.Holdout.Recall, report.Holdout.Accuracy)
}

// trainingCities lists every city the store holds rows for, sorted
func trainingCities(ctx context.Context, store observationStore) ([]string, error) {
	withData, err := store.GetCitiesWithData(ctx)
	if err != nil {
		return nil, err
	}

	cities := make([]string, 0, len(withData))
	for city := range withData {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities, nil
}

// loadResult holds the observations loaded for a single city
type loadResult struct {
	City         string
	Observations []models.Observation
	Error        error
}

// loadTrainingBatch loads observations since the given time for every city
// with a pool of workers. A city that fails to load is logged and skipped;
// the call only fails when every city failed.
func loadTrainingBatch(ctx context.Context, store observationStore, cities []string, since time.Time, workers int) ([]models.Observation, error) {
	if len(cities) == 0 {
		return nil, predictor.ErrInsufficientData
	}

	if workers < 1 {
		workers = 1
	}
	if len(cities) < workers {
		workers = len(cities)
	}

	jobs := make(chan string, len(cities))
	results := make(chan loadResult, len(cities))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for city := range jobs {
				obs, err := store.GetObservations(ctx, city, since)
				results <- loadResult{City: city, Observations: obs, Error: err}
			}
		}()
	}

	for _, city := range cities {
		jobs <- city
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		batch    []models.Observation
		failures int
		lastErr  error
	)
	for result := range results {
		if result.Error != nil {
			log.Printf("Failed to load observations for %s: %v", result.City, result.Error)
			failures++
			lastErr = result.Error
			continue
		}
		log.Printf("Loaded %d observations for %s", len(result.Observations), result.City)
		batch = append(batch, result.Observations...)
	}

	if failures == len(cities) {
		return nil, lastErr
	}

	// Workers finish in any order; keep the batch stable for a given database state
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].City != batch[j].City {
			return batch[i].City < batch[j].City
		}
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	return batch, nil
}
