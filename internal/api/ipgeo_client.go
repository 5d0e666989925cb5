package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"raincast/internal/metrics"
	"raincast/internal/models"
)

// IPGeoClient resolves the caller's approximate location from its public IP
type IPGeoClient struct {
	baseURL string
	http    *resilientClient
}

// NewIPGeoClient creates a client for an ip-api.com compatible service
func NewIPGeoClient(baseURL string, timeout time.Duration) *IPGeoClient {
	if baseURL == "" {
		baseURL = "http://ip-api.com"
	}
	return &IPGeoClient{
		baseURL: baseURL,
		http:    newResilientClient("ipgeo", timeout, newLimiter(0, 1), BackoffConfig{MaxRetries: 1}),
	}
}

// Locate returns the coordinates and city of this host's public IP
func (c *IPGeoClient) Locate(ctx context.Context) (models.Location, error) {
	start := time.Now()
	body, err := c.http.get(ctx, c.baseURL+"/json/")
	metrics.RecordWeatherRequest("ipgeo", time.Since(start), err)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to resolve IP location: %w", err)
	}

	var response struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		City    string  `json:"city"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return models.Location{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if response.Status != "" && response.Status != "success" {
		return models.Location{}, fmt.Errorf("%w: geolocation lookup failed: %s", ErrUpstreamUnavailable, response.Message)
	}

	return models.Location{
		Name:      response.City,
		Latitude:  response.Lat,
		Longitude: response.Lon,
	}, nil
}
