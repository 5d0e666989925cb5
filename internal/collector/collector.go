// Package collector sequences fetching, scoring and storing observations.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"raincast/internal/database"
	"raincast/internal/models"
	"raincast/internal/predictor"
)

// historyWindow is the longest range the history endpoint serves per request
const historyWindow = 7 * 24 * time.Hour

// Fetcher fetches observations from the weather provider
type Fetcher interface {
	FetchCurrent(ctx context.Context, loc models.Location) (*models.Observation, error)
	FetchHistorical(ctx context.Context, loc models.Location, from, to time.Time) ([]models.Observation, error)
	Geocode(ctx context.Context, city string) (models.Location, error)
}

// Locator resolves the caller's own location
type Locator interface {
	Locate(ctx context.Context) (models.Location, error)
}

// Store persists observations
type Store interface {
	Save(ctx context.Context, obs models.Observation) error
	SaveBatch(ctx context.Context, observations []models.Observation) (database.BatchResult, error)
}

// Predictor scores an observation
type Predictor interface {
	Predict(obs models.Observation) (float64, error)
}

// Result is a fetched observation and its rain probability, nil when no
// model could score it
type Result struct {
	Observation models.Observation `json:"weather_data"`
	Prediction  *float64           `json:"prediction"`
}

// Service is the collect/predict workflow shared by the HTTP server and the scheduler
type Service struct {
	fetcher   Fetcher
	locator   Locator
	store     Store
	predictor Predictor
	now       func() time.Time
}

// New creates a collector service. locator may be nil, in which case
// locations must always be given explicitly.
func New(fetcher Fetcher, locator Locator, store Store, predictor Predictor) *Service {
	return &Service{
		fetcher:   fetcher,
		locator:   locator,
		store:     store,
		predictor: predictor,
		now:       time.Now,
	}
}

// Resolve turns request parameters into a location. Coordinates win over a
// city name; with neither, the host's IP location is used.
func (s *Service) Resolve(ctx context.Context, lat, lon *float64, city string) (models.Location, error) {
	switch {
	case lat != nil && lon != nil:
		name := city
		if name == "" {
			name = fmt.Sprintf("%.4f,%.4f", *lat, *lon)
		}
		return models.Location{Name: name, Latitude: *lat, Longitude: *lon}, nil
	case city != "":
		return s.fetcher.Geocode(ctx, city)
	case s.locator != nil:
		return s.locator.Locate(ctx)
	default:
		return models.Location{}, errors.New("no location given and IP geolocation is not configured")
	}
}

// Score attaches a prediction from p to obs and returns it. A missing model
// is expected before the first training run and yields nil, as does a nil p.
func Score(p Predictor, obs *models.Observation) *float64 {
	if p == nil {
		return nil
	}

	prob, err := p.Predict(*obs)
	if err != nil {
		if errors.Is(err, predictor.ErrModelUnavailable) {
			slog.Debug("no rain model available", "city", obs.City, "err", err)
		} else {
			slog.Warn("rain prediction failed", "city", obs.City, "err", err)
		}
		return nil
	}

	obs.PredictedRainChance = models.Float(prob)
	return obs.PredictedRainChance
}

func (s *Service) score(obs *models.Observation) *float64 {
	return Score(s.predictor, obs)
}

// CollectCurrent fetches the current observation at loc, scores it and stores it
func (s *Service) CollectCurrent(ctx context.Context, loc models.Location) (*Result, error) {
	obs, err := s.fetcher.FetchCurrent(ctx, loc)
	if err != nil {
		return nil, err
	}

	prediction := s.score(obs)

	if err := s.store.Save(ctx, *obs); err != nil {
		return nil, fmt.Errorf("failed to store observation for %s: %w", obs.City, err)
	}

	slog.Info("collected current weather", "city", obs.City, "temperature", obs.Temperature, "rain_probability", prediction)
	return &Result{Observation: *obs, Prediction: prediction}, nil
}

// PredictCurrent fetches and scores the current observation at loc without storing it
func (s *Service) PredictCurrent(ctx context.Context, loc models.Location) (*Result, error) {
	obs, err := s.fetcher.FetchCurrent(ctx, loc)
	if err != nil {
		return nil, err
	}

	return &Result{Observation: *obs, Prediction: s.score(obs)}, nil
}

// FetchHistorical fetches the last days of hourly observations at loc,
// one request per week of range
func (s *Service) FetchHistorical(ctx context.Context, loc models.Location, days int) ([]models.Observation, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	end := s.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	var all []models.Observation
	for from := start; from.Before(end); from = from.Add(historyWindow) {
		to := from.Add(historyWindow)
		if to.After(end) {
			to = end
		}

		batch, err := s.fetcher.FetchHistorical(ctx, loc, from, to)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}

	return all, nil
}

// CollectHistorical fetches the last days of observations at loc and stores
// them best-effort
func (s *Service) CollectHistorical(ctx context.Context, loc models.Location, days int) (database.BatchResult, error) {
	observations, err := s.FetchHistorical(ctx, loc, days)
	if err != nil {
		return database.BatchResult{}, err
	}

	if len(observations) == 0 {
		slog.Info("no historical data in range", "city", loc.Name, "days", days)
		return database.BatchResult{}, nil
	}

	result, err := s.store.SaveBatch(ctx, observations)
	if err != nil {
		return result, fmt.Errorf("failed to store historical observations for %s: %w", loc.Name, err)
	}

	slog.Info("collected historical weather", "city", loc.Name, "days", days, "stored", result.Stored, "failed", result.Failed)
	return result, nil
}
