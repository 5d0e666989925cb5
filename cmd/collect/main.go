package main

import (
	"context"
	"flag"
	"log"
	"sync"

	"github.com/joho/godotenv"

	"raincast/internal/api"
	"raincast/internal/collector"
	"raincast/internal/config"
	"raincast/internal/database"
	"raincast/internal/models"
	"raincast/internal/queue"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
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
	publisher := queue.NewPublisher(redisClient, redisCfg.Stream)

	db, err := database.NewDB(cfg.Storage.Driver, config.GetDatabaseDSN(cfg.Storage.Driver), cfg.Storage.Retention)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	client := api.NewOpenWeatherClientFromConfig(cfg)

	ctx := context.Background()

	// Get all cities that already have data in the database
	citiesWithData, err := db.GetCitiesWithData(ctx)
	if err != nil {
		log.Fatalf("Failed to get cities with data: %v", err)
	}

	var wg sync.WaitGroup

	// Fetch history only for cities the database has never seen
	for _, location := range cfg.TrackedLocations() {
		wg.Add(1)
		go func(loc models.Location) {
			defer wg.Done()

			msg, err := collectLocation(ctx, client, loc, citiesWithData[loc.Name], cfg.Weather.HistoricalDays)
			if err != nil {
				log.Printf("Failed to fetch weather data for %s: %v", loc.Name, err)
				return
			}

			if _, err := publisher.Publish(ctx, msg); err != nil {
				log.Printf("Failed to publish to Redis for %s: %v", loc.Name, err)
			}
		}(location)
	}

	wg.Wait()
	log.Printf("Data collection completed. Exiting")
}

// collectLocation builds the message for one location: the last days of
// history for a new city, else its current observation
func collectLocation(ctx context.Context, client collector.Fetcher, loc models.Location, hasData bool, days int) (queue.Message, error) {
	msg := queue.Message{Location: loc}

	if !hasData {
		log.Printf("New location detected: %s - Fetching historical data", loc.Name)
		observations, err := collector.New(client, nil, nil, nil).FetchHistorical(ctx, loc, days)
		if err != nil {
			return msg, err
		}
		msg.Type = models.SourceHistorical
		msg.Observations = observations
		return msg, nil
	}

	log.Printf("Fetching current weather data for: %s", loc.Name)
	obs, err := client.FetchCurrent(ctx, loc)
	if err != nil {
		return msg, err
	}
	msg.Type = models.SourceCurrent
	msg.Observations = []models.Observation{*obs}
	return msg, nil
}
