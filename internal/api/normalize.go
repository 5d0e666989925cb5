package api

import (
	"fmt"
	"math"
	"strings"
	"time"

	"raincast/internal/models"
)

// temperatureUnit is the unit an endpoint reports temperatures in
type temperatureUnit int

const (
	celsius temperatureUnit = iota
	kelvin
)

const kelvinOffset = 273.15

// KelvinToCelsius converts a Kelvin reading to degrees Celsius
func KelvinToCelsius(k float64) float64 {
	return k - kelvinOffset
}

type owmMain struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	TempMin   *float64 `json:"temp_min"`
	TempMax   *float64 `json:"temp_max"`
	Pressure  *float64 `json:"pressure"`
	Humidity  *float64 `json:"humidity"`
}

// owmReading is the shape shared by the current weather response and the
// entries of the history list
type owmReading struct {
	Dt   int64   `json:"dt"`
	Main owmMain `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Rain struct {
		OneHour *float64 `json:"1h"`
	} `json:"rain"`
	Name string `json:"name"`
}

// normalize maps a provider reading onto an Observation. Temperatures are
// converted here and nowhere else.
func normalize(r owmReading, unit temperatureUnit, loc models.Location, source string) (models.Observation, error) {
	var missing []string
	if r.Main.Temp == nil {
		missing = append(missing, "main.temp")
	}
	if r.Main.Humidity == nil {
		missing = append(missing, "main.humidity")
	}
	if r.Main.Pressure == nil {
		missing = append(missing, "main.pressure")
	}
	if len(missing) > 0 {
		return models.Observation{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	toCelsius := func(v float64) float64 {
		if unit == kelvin {
			return KelvinToCelsius(v)
		}
		return v
	}
	optional := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		return models.Float(toCelsius(*v))
	}

	ts := time.Now().UTC()
	if r.Dt > 0 {
		ts = time.Unix(r.Dt, 0).UTC()
	}

	city := r.Name
	if city == "" {
		city = loc.Name
	}

	obs := models.Observation{
		Timestamp:   ts,
		City:        city,
		Latitude:    models.Float(loc.Latitude),
		Longitude:   models.Float(loc.Longitude),
		Temperature: toCelsius(*r.Main.Temp),
		FeelsLike:   optional(r.Main.FeelsLike),
		TempMin:     optional(r.Main.TempMin),
		TempMax:     optional(r.Main.TempMax),
		Pressure:    int(math.Round(*r.Main.Pressure)),
		Humidity:    int(math.Round(*r.Main.Humidity)),
		WindSpeed:   r.Wind.Speed,
		Rainfall:    models.Float(0),
		Source:      source,
	}
	if r.Wind.Deg != nil {
		obs.WindDeg = models.Int(int(math.Round(*r.Wind.Deg)))
	}
	if r.Rain.OneHour != nil {
		obs.Rainfall = models.Float(*r.Rain.OneHour)
	}

	return obs, nil
}
