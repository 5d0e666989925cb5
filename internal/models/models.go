package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Observation sources
const (
	SourceCurrent    = "current"
	SourceHistorical = "historical"
)

// Location is a named point the collector fetches weather for
type Location struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
}

// Observation is one normalized weather reading. Temperatures are Celsius.
// Rainfall is mm over the last hour and is set to 0 by the fetcher when the
// provider omits it; a nil Rainfall only comes from legacy stored rows.
type Observation struct {
	ID                  int64     `json:"id,omitempty"`
	Timestamp           time.Time `json:"timestamp" validate:"required"`
	City                string    `json:"city" validate:"required"`
	Latitude            *float64  `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude           *float64  `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Temperature         float64   `json:"temperature"`
	FeelsLike           *float64  `json:"feels_like"`
	TempMin             *float64  `json:"temp_min"`
	TempMax             *float64  `json:"temp_max"`
	Pressure            int       `json:"pressure" validate:"required,gt=0"`
	Humidity            int       `json:"humidity" validate:"gte=0,lte=100"`
	WindSpeed           *float64  `json:"wind_speed"`
	WindDeg             *int      `json:"wind_deg" validate:"omitempty,gte=0,lte=360"`
	Rainfall            *float64  `json:"rainfall" validate:"omitempty,gte=0"`
	PredictedRainChance *float64  `json:"predicted_rain_chance" validate:"omitempty,gte=0,lte=1"`
	Source              string    `json:"source,omitempty"`
}

// Validate checks the fields required before an observation is persisted
func (o Observation) Validate() error {
	return validate.Struct(o)
}

// RainfallOrZero returns the rainfall amount, treating a missing value as dry
func (o Observation) RainfallOrZero() float64 {
	if o.Rainfall == nil {
		return 0
	}
	return *o.Rainfall
}

// Stats holds descriptive statistics for one metric over a batch
type Stats struct {
	Mean     float64 `json:"mean"`
	Max      float64 `json:"max"`
	Min      float64 `json:"min"`
	Variance float64 `json:"variance"`
	Count    int     `json:"count"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v
func Int(v int) *int {
	return &v
}
