package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database metrics
var (
	// DBQueriesTotal tracks the total number of database queries
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"query_type", "table", "status"},
	)

	// DBQueryDuration tracks the duration of database queries
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of established connections both in use and idle",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle connections",
		},
	)
)

// Weather provider metrics
var (
	WeatherAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_api_requests_total",
			Help: "Total number of requests sent to the weather provider",
		},
		[]string{"endpoint", "status"},
	)

	WeatherAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weather_api_request_duration_seconds",
			Help:    "Duration of weather provider requests in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// Model metrics
var (
	ModelTrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_training_runs_total",
			Help: "Total number of rain model training runs",
		},
		[]string{"status"},
	)

	ModelTrainingRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_training_rows",
			Help: "Number of rows the current rain model was fit on",
		},
	)

	ModelHoldoutPrecision = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_holdout_precision",
			Help: "Precision of the current rain model on its holdout partition",
		},
	)

	ModelHoldoutRecall = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_holdout_recall",
			Help: "Recall of the current rain model on its holdout partition",
		},
	)

	RainPredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rain_predictions_total",
			Help: "Total number of rain probability predictions",
		},
		[]string{"status"},
	)
)

var (
	// AppInfo provides static information about the application
	AppInfo = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raincast_app_info",
			Help: "Application information (always 1)",
		},
	)

	// AppStartTime records when the application started
	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raincast_app_start_time_seconds",
			Help: "Unix timestamp of when the application started",
		},
	)
)

func init() {
	AppInfo.Set(1)
	AppStartTime.SetToCurrentTime()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDBQuery records a database query execution
func RecordDBQuery(queryType, table string, duration time.Duration, err error) {
	DBQueriesTotal.WithLabelValues(queryType, table, statusLabel(err)).Inc()
	DBQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(open, inUse, idle int) {
	DBConnectionsOpen.Set(float64(open))
	DBConnectionsInUse.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}

// RecordWeatherRequest records one logical provider call
func RecordWeatherRequest(endpoint string, duration time.Duration, err error) {
	WeatherAPIRequestsTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()
	WeatherAPIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTraining records the outcome of a training run; precision and recall are only set on success
func RecordTraining(rows int, precision, recall float64, err error) {
	ModelTrainingRunsTotal.WithLabelValues(statusLabel(err)).Inc()
	if err != nil {
		return
	}
	ModelTrainingRows.Set(float64(rows))
	ModelHoldoutPrecision.Set(precision)
	ModelHoldoutRecall.Set(recall)
}

// RecordPrediction records the outcome of a prediction
func RecordPrediction(err error) {
	RainPredictionsTotal.WithLabelValues(statusLabel(err)).Inc()
}
