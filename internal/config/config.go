package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"raincast/internal/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Retention policies for current-weather snapshots
const (
	RetentionAppend         = "append"
	RetentionKeepLatestOnly = "keep-latest-only"
)

var (
	instance *Config
	once     sync.Once
)

type WeatherConfig struct {
	APIKey            string          `yaml:"api_key"`
	BaseURL           string          `yaml:"base_url"`
	HistoryURL        string          `yaml:"history_url"`
	GeoIPURL          string          `yaml:"geo_ip_url"`
	Timeout           time.Duration   `yaml:"timeout"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	Burst             int             `yaml:"burst"`
	MaxRetries        int             `yaml:"max_retries"`
	HistoricalDays    int             `yaml:"historical_days"`
	DefaultLocation   models.Location `yaml:"default_location"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Retention string `yaml:"retention"`
}

type ModelConfig struct {
	ArtifactPath       string  `yaml:"artifact_path"`
	MinTrainingRows    int     `yaml:"min_training_rows"`
	Seed               int64   `yaml:"seed"`
	HoldoutFraction    float64 `yaml:"holdout_fraction"`
	TrainingWindowDays int     `yaml:"training_window_days"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CollectInterval time.Duration `yaml:"collect_interval"`
}

// Config is the process-wide configuration loaded from config.yaml
type Config struct {
	Weather WeatherConfig `yaml:"weather"`
	Storage StorageConfig `yaml:"storage"`
	Model   ModelConfig   `yaml:"model"`
	Server  ServerConfig  `yaml:"server"`
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`
	Locations []models.Location `yaml:"locations"`
}

func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = Default()

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file %s: %w", configPath, readErr)
			return
		}

		if parseErr := yaml.Unmarshal(data, instance); parseErr != nil {
			err = fmt.Errorf("failed to parse config: %w", parseErr)
			return
		}

		if validateErr := instance.validate(); validateErr != nil {
			err = validateErr
			return
		}
	})

	return instance, err
}

func Get() *Config {
	if instance == nil {
		panic("config not loaded - call config.Load() first")
	}
	return instance
}

// Default returns the configuration used for any key config.yaml leaves out
func Default() *Config {
	c := &Config{
		Weather: WeatherConfig{
			BaseURL:           "https://api.openweathermap.org",
			HistoryURL:        "https://history.openweathermap.org",
			GeoIPURL:          "http://ip-api.com",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
			Burst:             5,
			MaxRetries:        3,
			HistoricalDays:    7,
			DefaultLocation: models.Location{
				Name:      "Vancouver",
				Latitude:  49.2827,
				Longitude: -123.1207,
			},
		},
		Storage: StorageConfig{
			Driver:    "mysql",
			Retention: RetentionAppend,
		},
		Model: ModelConfig{
			ArtifactPath:       "rain_model.json",
			MinTrainingRows:    10,
			Seed:               42,
			HoldoutFraction:    0.2,
			TrainingWindowDays: 30,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			CollectInterval: 15 * time.Minute,
		},
	}
	c.Redis.Addr = "localhost:6379"
	c.Redis.Stream = "weather_observations"
	return c
}

// TrackedLocations returns the configured locations, or the default location when none are listed
func (c *Config) TrackedLocations() []models.Location {
	if len(c.Locations) == 0 {
		return []models.Location{c.Weather.DefaultLocation}
	}
	return c.Locations
}

func (c *Config) validate() error {
	switch c.Storage.Retention {
	case RetentionAppend, RetentionKeepLatestOnly:
	default:
		return fmt.Errorf("storage.retention must be %q or %q, got %q",
			RetentionAppend, RetentionKeepLatestOnly, c.Storage.Retention)
	}

	switch c.Storage.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("storage.driver must be mysql or postgres, got %q", c.Storage.Driver)
	}

	if c.Model.ArtifactPath == "" {
		return fmt.Errorf("model.artifact_path cannot be empty")
	}
	if c.Model.MinTrainingRows < 2 {
		return fmt.Errorf("model.min_training_rows must be at least 2")
	}
	if c.Model.HoldoutFraction <= 0 || c.Model.HoldoutFraction >= 1 {
		return fmt.Errorf("model.holdout_fraction must be between 0 and 1")
	}

	loc := c.Weather.DefaultLocation
	if err := validate.Struct(loc); err != nil {
		return fmt.Errorf("weather.default_location has invalid coordinates (%.4f, %.4f): %w", loc.Latitude, loc.Longitude, err)
	}
	for i, l := range c.Locations {
		if err := validate.Struct(l); err != nil {
			return fmt.Errorf("locations[%d] %q has invalid coordinates (%.4f, %.4f): %w", i, l.Name, l.Latitude, l.Longitude, err)
		}
	}
	return nil
}
