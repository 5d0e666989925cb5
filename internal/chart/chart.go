// Package chart renders observation time series as an HTML page.
package chart

import (
	"fmt"
	"html"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"raincast/internal/models"
)

const timeLayout = "2006-01-02 15:04"

// missing is how echarts marks a gap in a series
const missing = "-"

// Render writes a page plotting temperature, humidity and predicted rain
// chance as lines, with rainfall as bars on a second axis
func Render(w io.Writer, city string, batch []models.Observation) error {
	if len(batch) == 0 {
		_, err := fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s weather</title></head><body><p>No data to plot</p></body></html>",
			html.EscapeString(city))
		return err
	}

	sorted := make([]models.Observation, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	xs := make([]string, len(sorted))
	temperature := make([]opts.LineData, len(sorted))
	humidity := make([]opts.LineData, len(sorted))
	chance := make([]opts.LineData, len(sorted))
	rainfall := make([]opts.BarData, len(sorted))

	for i, obs := range sorted {
		xs[i] = obs.Timestamp.UTC().Format(timeLayout)
		temperature[i] = opts.LineData{Value: obs.Temperature}
		humidity[i] = opts.LineData{Value: obs.Humidity}
		chance[i] = opts.LineData{Value: missing}
		if obs.PredictedRainChance != nil {
			chance[i] = opts.LineData{Value: *obs.PredictedRainChance * 100}
		}
		rainfall[i] = opts.BarData{Value: obs.RainfallOrZero()}
	}

	first, last := sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("%s weather", city),
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Weather in %s", city),
			Subtitle: fmt.Sprintf("%s to %s, %d observations", first.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339), len(sorted)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: true, Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: true, Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (UTC)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "°C / %"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Rainfall (mm)", Type: "value"})

	smooth := charts.WithLineChartOpts(opts.LineChart{Smooth: true})
	line.SetXAxis(xs).
		AddSeries("Temperature (°C)", temperature, smooth).
		AddSeries("Humidity (%)", humidity, smooth).
		AddSeries("Predicted rain chance (%)", chance, smooth)

	bar := charts.NewBar()
	bar.SetXAxis(xs).
		AddSeries("Rainfall (mm)", rainfall, charts.WithBarChartOpts(opts.BarChart{YAxisIndex: 1}))

	line.Overlap(bar)

	return line.Render(w)
}
