package predictor

import "raincast/internal/models"

// SchemaVersion identifies the feature layout an artifact was trained on
const SchemaVersion = "rain-features/v2"

// RainThreshold is the rainfall (mm/h) above which an hour counts as rainy
const RainThreshold = 0.0

// FeatureNames is the canonical feature order
var FeatureNames = []string{
	"temperature",
	"feels_like",
	"temp_min",
	"temp_max",
	"pressure",
	"humidity",
	"wind_speed",
	"wind_deg",
}

// featureValues returns the feature vector in FeatureNames order. Features
// the observation lacks are returned by name and the vector is nil.
func featureValues(obs models.Observation) ([]float64, []string) {
	var missing []string
	get := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}

	var windDeg *float64
	if obs.WindDeg != nil {
		windDeg = models.Float(float64(*obs.WindDeg))
	}

	x := []float64{
		obs.Temperature,
		get("feels_like", obs.FeelsLike),
		get("temp_min", obs.TempMin),
		get("temp_max", obs.TempMax),
		float64(obs.Pressure),
		float64(obs.Humidity),
		get("wind_speed", obs.WindSpeed),
		get("wind_deg", windDeg),
	}

	if len(missing) > 0 {
		return nil, missing
	}
	return x, nil
}

// Label is 1 when the observation recorded rain, else 0
func Label(obs models.Observation) float64 {
	if obs.Rainfall != nil && *obs.Rainfall > RainThreshold {
		return 1
	}
	return 0
}

// absentColumns returns the optional columns that no observation in batch carries
func absentColumns(batch []models.Observation) []string {
	seen := map[string]bool{}
	for _, obs := range batch {
		if obs.FeelsLike != nil {
			seen["feels_like"] = true
		}
		if obs.TempMin != nil {
			seen["temp_min"] = true
		}
		if obs.TempMax != nil {
			seen["temp_max"] = true
		}
		if obs.WindSpeed != nil {
			seen["wind_speed"] = true
		}
		if obs.WindDeg != nil {
			seen["wind_deg"] = true
		}
		if obs.Rainfall != nil {
			seen["rainfall"] = true
		}
	}

	var absent []string
	for _, col := range []string{"feels_like", "temp_min", "temp_max", "wind_speed", "wind_deg", "rainfall"} {
		if !seen[col] {
			absent = append(absent, col)
		}
	}
	return absent
}
