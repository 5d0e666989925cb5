package config

import (
	"fmt"
	"os"
)

// Returns the database connection string for the given driver
// It checks for environment variables first, then falls back to a default
func GetDatabaseDSN(driver string) string {
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	database := os.Getenv("DB_NAME")

	if user != "" && password != "" && host != "" && port != "" && database != "" {
		if driver == "postgres" {
			return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, database)
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", user, password, host, port, database)
	}

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		return dsn
	}

	if driver == "postgres" {
		return "host=localhost port=5432 user=raincast password=raincast dbname=raincast sslmode=disable"
	}
	return "raincast:raincast@tcp(localhost:3306)/raincast?parseTime=true"
}

// GetAPIKey returns the OpenWeatherMap key, preferring OPENWEATHER_API_KEY over the config file
func GetAPIKey(cfg *Config) string {
	return getEnv("OPENWEATHER_API_KEY", cfg.Weather.APIKey)
}
