package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"raincast/internal/config"
	"raincast/internal/database"
	"raincast/internal/models"
)

// seedColumns is the header an observations seed file must carry
var seedColumns = []string{
	"timestamp", "city", "temperature", "feels_like", "temp_min", "temp_max",
	"pressure", "humidity", "wind_speed", "wind_deg", "rainfall",
}

const chunkSize = 500

type batchSaver interface {
	SaveBatch(ctx context.Context, observations []models.Observation) (database.BatchResult, error)
}

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	csvPath := flag.String("csv", "observations_seed.csv", "path to the observations CSV")
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

	file, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Failed to open CSV file: %v", err)
	}
	defer file.Close()

	stored, skipped, err := seed(context.Background(), db, file)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("Import complete! Successfully inserted %d observations, skipped %d", stored, skipped)
}

// seed reads observations from r and stores them in chunks. Records that do
// not parse are skipped and counted.
func seed(ctx context.Context, store batchSaver, r io.Reader) (stored, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return 0, 0, err
	}

	chunk := make([]models.Observation, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		result, err := store.SaveBatch(ctx, chunk)
		stored += result.Stored
		skipped += result.Failed
		chunk = chunk[:0]
		if errors.Is(err, database.ErrStorageUnavailable) {
			return err
		}
		log.Printf("Inserted %d observations...", stored)
		return nil
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Skipping unreadable record on line %d: %v", line, err)
			skipped++
			continue
		}

		obs, err := parseRecord(record)
		if err != nil {
			log.Printf("Skipping record on line %d: %v", line, err)
			skipped++
			continue
		}

		chunk = append(chunk, obs)
		if len(chunk) == chunkSize {
			if err := flush(); err != nil {
				return stored, skipped, err
			}
		}
	}

	if err := flush(); err != nil {
		return stored, skipped, err
	}
	return stored, skipped, nil
}

func checkHeader(header []string) error {
	if len(header) != len(seedColumns) {
		return fmt.Errorf("CSV header has %d columns, want %d: %s", len(header), len(seedColumns), strings.Join(seedColumns, ","))
	}
	for i, name := range seedColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != name {
			return fmt.Errorf("CSV column %d is %q, want %q", i+1, header[i], name)
		}
	}
	return nil
}

// parseRecord converts one CSV row into a historical observation. Blank
// optional columns stay nil; rainfall defaults to 0.
func parseRecord(record []string) (models.Observation, error) {
	if len(record) != len(seedColumns) {
		return models.Observation{}, fmt.Errorf("expected %d fields, got %d", len(seedColumns), len(record))
	}

	field := func(i int) string { return strings.TrimSpace(record[i]) }

	ts, err := time.Parse(time.RFC3339, field(0))
	if err != nil {
		return models.Observation{}, fmt.Errorf("invalid timestamp %q: %w", field(0), err)
	}

	obs := models.Observation{
		Timestamp: ts.UTC(),
		City:      field(1),
		Source:    models.SourceHistorical,
	}
	if obs.City == "" {
		return models.Observation{}, fmt.Errorf("city is empty")
	}

	if obs.Temperature, err = strconv.ParseFloat(field(2), 64); err != nil {
		return models.Observation{}, fmt.Errorf("invalid temperature %q", field(2))
	}
	if obs.Pressure, err = strconv.Atoi(field(6)); err != nil {
		return models.Observation{}, fmt.Errorf("invalid pressure %q", field(6))
	}
	if obs.Humidity, err = strconv.Atoi(field(7)); err != nil {
		return models.Observation{}, fmt.Errorf("invalid humidity %q", field(7))
	}

	optional := []struct {
		idx  int
		dest **float64
	}{
		{3, &obs.FeelsLike},
		{4, &obs.TempMin},
		{5, &obs.TempMax},
		{8, &obs.WindSpeed},
		{10, &obs.Rainfall},
	}
	for _, o := range optional {
		if field(o.idx) == "" {
			continue
		}
		v, err := strconv.ParseFloat(field(o.idx), 64)
		if err != nil {
			return models.Observation{}, fmt.Errorf("invalid %s %q", seedColumns[o.idx], field(o.idx))
		}
		*o.dest = models.Float(v)
	}

	if field(9) != "" {
		deg, err := strconv.Atoi(field(9))
		if err != nil {
			return models.Observation{}, fmt.Errorf("invalid wind_deg %q", field(9))
		}
		obs.WindDeg = models.Int(deg)
	}

	if obs.Rainfall == nil {
		obs.Rainfall = models.Float(0)
	}

	return obs, nil
}
