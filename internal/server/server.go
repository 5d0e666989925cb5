package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raincast/internal/api"
	"raincast/internal/chart"
	"raincast/internal/collector"
	"raincast/internal/database"
	"raincast/internal/models"
	"raincast/internal/predictor"
	"raincast/internal/summary"
)

var validate = validator.New()

// Collector runs the fetch, predict and store workflows
type Collector interface {
	Resolve(ctx context.Context, lat, lon *float64, city string) (models.Location, error)
	CollectCurrent(ctx context.Context, loc models.Location) (*collector.Result, error)
	PredictCurrent(ctx context.Context, loc models.Location) (*collector.Result, error)
	CollectHistorical(ctx context.Context, loc models.Location, days int) (database.BatchResult, error)
}

// Store reads stored observations
type Store interface {
	GetObservations(ctx context.Context, city string, since time.Time) ([]models.Observation, error)
	GetRecentObservations(ctx context.Context, city string, limit int) ([]models.Observation, error)
}

// Trainer fits the rain model
type Trainer interface {
	Train(batch []models.Observation) (*predictor.TrainingReport, error)
	State() string
}

// Options holds the defaults handlers fall back to when a query omits them
type Options struct {
	DefaultLocation    models.Location
	Locations          []models.Location
	HistoricalDays     int
	TrainingWindowDays int
	SummaryDays        int
	ChartLimit         int
}

// Server represents the HTTP server
type Server struct {
	collector Collector
	store     Store
	trainer   Trainer
	opts      Options
	mux       *http.ServeMux
}

// NewServer creates a new HTTP server
func NewServer(c Collector, store Store, trainer Trainer, opts Options) *Server {
	if len(opts.Locations) == 0 {
		opts.Locations = []models.Location{opts.DefaultLocation}
	}
	if opts.HistoricalDays <= 0 {
		opts.HistoricalDays = 7
	}
	if opts.TrainingWindowDays <= 0 {
		opts.TrainingWindowDays = 30
	}
	if opts.SummaryDays <= 0 {
		opts.SummaryDays = 7
	}
	if opts.ChartLimit <= 0 {
		opts.ChartLimit = 168
	}

	s := &Server{
		collector: c,
		store:     store,
		trainer:   trainer,
		opts:      opts,
		mux:       http.NewServeMux(),
	}

	// Register routes
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/collect", s.handleCollect)
	s.mux.HandleFunc("/collect-historical", s.handleCollectHistorical)
	s.mux.HandleFunc("/train-model", s.handleTrainModel)
	s.mux.HandleFunc("/predict", s.handlePredict)
	s.mux.HandleFunc("/summary_statistics", s.handleSummaryStatistics)
	s.mux.HandleFunc("/visualization", s.handleVisualization)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

// ServeHTTP makes Server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// classify maps an error onto an HTTP status and a machine-readable type
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, api.ErrLocationNotFound):
		return http.StatusNotFound, "location_not_found"
	case errors.Is(err, api.ErrMalformedResponse):
		return http.StatusBadGateway, "malformed_response"
	case errors.Is(err, api.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, database.ErrInvalidObservation):
		return http.StatusBadGateway, "invalid_observation"
	case errors.Is(err, database.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, predictor.ErrInsufficientData):
		return http.StatusUnprocessableEntity, "insufficient_data"
	case errors.Is(err, predictor.ErrMissingColumn):
		return http.StatusUnprocessableEntity, "missing_column"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := classify(err)
	slog.Error("request failed", "path", r.URL.Path, "status", status, "error_type", errType, "err", err)
	writeJSON(w, status, map[string]interface{}{
		"status":     "error",
		"error_type": errType,
		"message":    err.Error(),
	})
}

type locationQuery struct {
	Lat  *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lon  *float64 `validate:"omitempty,gte=-180,lte=180"`
	City string   `validate:"omitempty,max=100"`
}

func parseOptionalFloat(r *http.Request, key string) (*float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &v, nil
}

func parseIntInRange(r *http.Request, key string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, min, max)
	}
	return v, nil
}

func parseLocationQuery(r *http.Request) (locationQuery, error) {
	var q locationQuery
	var err error

	if q.Lat, err = parseOptionalFloat(r, "lat"); err != nil {
		return q, err
	}
	if q.Lon, err = parseOptionalFloat(r, "lon"); err != nil {
		return q, err
	}
	if (q.Lat == nil) != (q.Lon == nil) {
		return q, errors.New("lat and lon must be given together")
	}
	q.City = r.URL.Query().Get("city")

	if err := validate.Struct(q); err != nil {
		return q, fmt.Errorf("invalid location: %v", err)
	}
	return q, nil
}

// resolveOrDefault resolves a city query, falling back to the default location
func (s *Server) resolveOrDefault(ctx context.Context, city string) (models.Location, error) {
	if city == "" {
		return s.opts.DefaultLocation, nil
	}
	return s.collector.Resolve(ctx, nil, nil, city)
}

// handleHealth returns the server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().String(),
		"model":  s.trainer.State(),
	})
}

// handleCollect fetches, scores and stores the current weather
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := parseLocationQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loc, err := s.collector.Resolve(r.Context(), q.Lat, q.Lon, q.City)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.collector.CollectCurrent(r.Context(), loc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "success",
		"prediction":   result.Prediction,
		"weather_data": result.Observation,
	})
}

// handleCollectHistorical backfills stored history for a city or every tracked location
func (s *Server) handleCollectHistorical(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	days, err := parseIntInRange(r, "days", s.opts.HistoricalDays, 1, 365)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	locations := s.opts.Locations
	if city := r.URL.Query().Get("city"); city != "" {
		loc, err := s.collector.Resolve(r.Context(), nil, nil, city)
		if err != nil {
			writeError(w, r, err)
			return
		}
		locations = []models.Location{loc}
	}

	var total database.BatchResult
	var lastErr error
	failedLocations := 0
	for _, loc := range locations {
		result, err := s.collector.CollectHistorical(r.Context(), loc, days)
		total.Stored += result.Stored
		total.Failed += result.Failed
		if err != nil {
			slog.Error("historical collection failed", "city", loc.Name, "err", err)
			lastErr = err
			failedLocations++
		}
	}

	if failedLocations == len(locations) && lastErr != nil {
		writeError(w, r, lastErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Stored %d historical observations over %d days for %d of %d locations", total.Stored, days, len(locations)-failedLocations, len(locations)),
		"stored":  total.Stored,
		"failed":  total.Failed,
	})
}

// handleTrainModel retrains the rain model on the stored training window
func (s *Server) handleTrainModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	since := time.Now().UTC().Add(-time.Duration(s.opts.TrainingWindowDays) * 24 * time.Hour)
	batch, err := s.store.GetObservations(r.Context(), "", since)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := s.trainer.Train(batch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Model trained on %d observations", report.TrainRows),
		"run_id":  report.RunID,
		"report":  report,
	})
}

// handlePredict scores the current weather without storing it
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	loc, err := s.resolveOrDefault(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.collector.PredictCurrent(r.Context(), loc)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "success",
		"city":             result.Observation.City,
		"rain_probability": result.Prediction,
		"weather_data":     result.Observation,
	})
}

// handleSummaryStatistics returns descriptive statistics over recent history
func (s *Server) handleSummaryStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	days, err := parseIntInRange(r, "days", s.opts.SummaryDays, 1, 365)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	city := r.URL.Query().Get("city")
	if city == "" {
		city = s.opts.DefaultLocation.Name
	}

	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	batch, err := s.store.GetObservations(r.Context(), city, since)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "success",
		"city":               city,
		"days":               days,
		"count":              len(batch),
		"summary_statistics": summary.Summarize(batch),
	})
}

// handleVisualization renders recent observations as a chart page
func (s *Server) handleVisualization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, err := parseIntInRange(r, "limit", s.opts.ChartLimit, 1, 5000)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	city := r.URL.Query().Get("city")
	if city == "" {
		city = s.opts.DefaultLocation.Name
	}

	batch, err := s.store.GetRecentObservations(r.Context(), city, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var page bytes.Buffer
	if err := chart.Render(&page, city, batch); err != nil {
		writeError(w, r, fmt.Errorf("failed to render chart: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page.Bytes())
}
