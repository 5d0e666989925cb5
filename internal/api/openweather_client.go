package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"raincast/internal/config"
	"raincast/internal/metrics"
	"raincast/internal/models"
)

var (
	// ErrUpstreamUnavailable is returned when the provider cannot be reached or refuses the request
	ErrUpstreamUnavailable = errors.New("weather provider unavailable")
	// ErrMalformedResponse is returned when the provider answers with an unexpected shape
	ErrMalformedResponse = errors.New("malformed weather provider response")
	// ErrLocationNotFound is returned when a city name cannot be resolved to coordinates
	ErrLocationNotFound = errors.New("location not found")
)

// ClientOptions configures an OpenWeatherClient
type ClientOptions struct {
	APIKey            string
	BaseURL           string
	HistoryURL        string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryInterval     time.Duration
}

// OpenWeatherClient is a client for the OpenWeatherMap current weather,
// history and geocoding APIs
type OpenWeatherClient struct {
	apiKey     string
	baseURL    string
	historyURL string
	current    *resilientClient
	history    *resilientClient
	geocode    *resilientClient
}

// NewOpenWeatherClient creates a new OpenWeatherMap API client
func NewOpenWeatherClient(opts ClientOptions) *OpenWeatherClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openweathermap.org"
	}
	if opts.HistoryURL == "" {
		opts.HistoryURL = "https://history.openweathermap.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	// One limiter for the provider, one breaker per endpoint
	limiter := newLimiter(opts.RequestsPerSecond, opts.Burst)
	backoff := BackoffConfig{
		MaxRetries:      opts.MaxRetries,
		InitialInterval: opts.RetryInterval,
		MaxInterval:     5 * time.Second,
	}

	return &OpenWeatherClient{
		apiKey:     opts.APIKey,
		baseURL:    opts.BaseURL,
		historyURL: opts.HistoryURL,
		current:    newResilientClient("openweathermap-current", opts.Timeout, limiter, backoff),
		history:    newResilientClient("openweathermap-history", opts.Timeout, limiter, backoff),
		geocode:    newResilientClient("openweathermap-geocode", opts.Timeout, limiter, backoff),
	}
}

// NewOpenWeatherClientFromConfig creates a client from the weather section of cfg
func NewOpenWeatherClientFromConfig(cfg *config.Config) *OpenWeatherClient {
	return NewOpenWeatherClient(ClientOptions{
		APIKey:            config.GetAPIKey(cfg),
		BaseURL:           cfg.Weather.BaseURL,
		HistoryURL:        cfg.Weather.HistoryURL,
		Timeout:           cfg.Weather.Timeout,
		RequestsPerSecond: cfg.Weather.RequestsPerSecond,
		Burst:             cfg.Weather.Burst,
		MaxRetries:        cfg.Weather.MaxRetries,
	})
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// BuildCurrentURL builds the current weather request; metric units mean the response is already Celsius
func (c *OpenWeatherClient) BuildCurrentURL(loc models.Location) string {
	params := url.Values{}
	params.Set("lat", formatCoord(loc.Latitude))
	params.Set("lon", formatCoord(loc.Longitude))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	return fmt.Sprintf("%s/data/2.5/weather?%s", c.baseURL, params.Encode())
}

// BuildHistoryURL builds the hourly history request; the history API only reports Kelvin
func (c *OpenWeatherClient) BuildHistoryURL(loc models.Location, from, to time.Time) string {
	params := url.Values{}
	params.Set("lat", formatCoord(loc.Latitude))
	params.Set("lon", formatCoord(loc.Longitude))
	params.Set("type", "hour")
	params.Set("start", strconv.FormatInt(from.Unix(), 10))
	params.Set("end", strconv.FormatInt(to.Unix(), 10))
	params.Set("appid", c.apiKey)
	return fmt.Sprintf("%s/data/2.5/history/city?%s", c.historyURL, params.Encode())
}

// BuildGeocodeURL builds the direct geocoding request for a city name
func (c *OpenWeatherClient) BuildGeocodeURL(city string) string {
	params := url.Values{}
	params.Set("q", city)
	params.Set("limit", "1")
	params.Set("appid", c.apiKey)
	return fmt.Sprintf("%s/geo/1.0/direct?%s", c.baseURL, params.Encode())
}

// FetchCurrent fetches the current observation at loc
func (c *OpenWeatherClient) FetchCurrent(ctx context.Context, loc models.Location) (*models.Observation, error) {
	start := time.Now()
	body, err := c.current.get(ctx, c.BuildCurrentURL(loc))
	metrics.RecordWeatherRequest("current", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current weather for %s: %w", loc.Name, err)
	}

	var reading owmReading
	if err := json.Unmarshal(body, &reading); err != nil {
		slog.Error("malformed weather response", "endpoint", "current", "err", err, "payload", string(body))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	obs, err := normalize(reading, celsius, loc, models.SourceCurrent)
	if err != nil {
		slog.Error("malformed weather response", "endpoint", "current", "err", err, "payload", string(body))
		return nil, err
	}

	return &obs, nil
}

// FetchHistorical fetches hourly observations at loc between from and to.
// An empty list means the provider has no data in range and is not an error.
// Entries without a timestamp are skipped.
func (c *OpenWeatherClient) FetchHistorical(ctx context.Context, loc models.Location, from, to time.Time) ([]models.Observation, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("FetchHistorical: end %s is not after start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	start := time.Now()
	body, err := c.history.get(ctx, c.BuildHistoryURL(loc, from, to))
	metrics.RecordWeatherRequest("history", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weather history for %s: %w", loc.Name, err)
	}

	var response struct {
		List []owmReading `json:"list"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		slog.Error("malformed weather response", "endpoint", "history", "err", err, "payload", string(body))
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	observations := make([]models.Observation, 0, len(response.List))
	for i, reading := range response.List {
		// Without dt an hourly entry cannot be placed in time; skip it
		if reading.Dt <= 0 {
			slog.Warn("skipping history entry without timestamp", "city", loc.Name, "index", i)
			continue
		}
		obs, err := normalize(reading, kelvin, loc, models.SourceHistorical)
		if err != nil {
			slog.Error("malformed weather response", "endpoint", "history", "index", i, "err", err, "payload", string(body))
			return nil, err
		}
		observations = append(observations, obs)
	}

	return observations, nil
}

// Geocode resolves a city name to coordinates
func (c *OpenWeatherClient) Geocode(ctx context.Context, city string) (models.Location, error) {
	if city == "" {
		return models.Location{}, fmt.Errorf("Geocode: no city provided")
	}

	start := time.Now()
	body, err := c.geocode.get(ctx, c.BuildGeocodeURL(city))
	metrics.RecordWeatherRequest("geocode", time.Since(start), err)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to geocode %s: %w", city, err)
	}

	var results []struct {
		Name    string  `json:"name"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Country string  `json:"country"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		slog.Error("malformed weather response", "endpoint", "geocode", "err", err, "payload", string(body))
		return models.Location{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(results) == 0 {
		return models.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, city)
	}

	return models.Location{
		Name:      results[0].Name,
		Latitude:  results[0].Lat,
		Longitude: results[0].Lon,
	}, nil
}
