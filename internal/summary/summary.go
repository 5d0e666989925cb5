// Package summary computes descriptive statistics over a batch of observations.
package summary

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"raincast/internal/models"
)

// Metric names reported by Summarize
const (
	Temperature = "temperature"
	Humidity    = "humidity"
	WindSpeed   = "wind_speed"
	Rainfall    = "rainfall"
)

// Summarize returns mean, max, min and sample variance per metric.
// Temperatures are already Celsius. Missing optional values are skipped and a
// metric with no values is left out, so an empty batch yields an empty map.
func Summarize(batch []models.Observation) map[string]models.Stats {
	columns := map[string][]float64{}

	for _, obs := range batch {
		columns[Temperature] = append(columns[Temperature], obs.Temperature)
		columns[Humidity] = append(columns[Humidity], float64(obs.Humidity))
		if obs.WindSpeed != nil {
			columns[WindSpeed] = append(columns[WindSpeed], *obs.WindSpeed)
		}
		if obs.Rainfall != nil {
			columns[Rainfall] = append(columns[Rainfall], *obs.Rainfall)
		}
	}

	result := make(map[string]models.Stats, len(columns))
	for name, values := range columns {
		if len(values) == 0 {
			continue
		}
		result[name] = describe(values)
	}
	return result
}

func describe(values []float64) models.Stats {
	mean, variance := stat.MeanVariance(values, nil)
	if len(values) < 2 {
		variance = 0
	}

	return models.Stats{
		Mean:     mean,
		Max:      floats.Max(values),
		Min:      floats.Min(values),
		Variance: variance,
		Count:    len(values),
	}
}
