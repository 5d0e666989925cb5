package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"raincast/internal/config"
	"raincast/internal/metrics"
	"raincast/internal/models"
)

var (
	// ErrStorageUnavailable is returned when the database cannot be reached or a write fails
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidObservation is returned when an observation is missing required fields
	ErrInvalidObservation = errors.New("invalid observation")
)

// DB represents the database connection
type DB struct {
	conn      *sql.DB
	driver    string
	retention string
}

// BatchResult counts the outcome of a best-effort batch insert
type BatchResult struct {
	Stored int `json:"stored"`
	Failed int `json:"failed"`
}

// NewDB opens a database connection and initializes the schema.
// driver is "mysql" or "postgres"; retention is config.RetentionAppend or
// config.RetentionKeepLatestOnly.
// mysql dsn:    "username:password@tcp(host:port)/dbname?parseTime=true"
// postgres dsn: "host=localhost port=5432 user=u password=p dbname=d sslmode=disable"
func NewDB(driver, dsn, retention string) (*DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db, err := newWithConn(conn, driver, retention)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func newWithConn(conn *sql.DB, driver, retention string) (*DB, error) {
	if driver != "mysql" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if retention == "" {
		retention = config.RetentionAppend
	}
	if retention != config.RetentionAppend && retention != config.RetentionKeepLatestOnly {
		return nil, fmt.Errorf("unsupported retention policy %q", retention)
	}
	return &DB{conn: conn, driver: driver, retention: retention}, nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		city VARCHAR(255) NOT NULL,
		latitude DOUBLE NULL,
		longitude DOUBLE NULL,
		observed_at DATETIME(6) NOT NULL,
		temperature DOUBLE NOT NULL,
		feels_like DOUBLE NULL,
		temp_min DOUBLE NULL,
		temp_max DOUBLE NULL,
		pressure INT NOT NULL,
		humidity INT NOT NULL,
		wind_speed DOUBLE NULL,
		wind_deg INT NULL,
		rainfall DOUBLE NULL,
		predicted_rain_chance DOUBLE NULL,
		source VARCHAR(20) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_observations_city_time (city, observed_at),
		INDEX idx_observations_source (source)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		id BIGSERIAL PRIMARY KEY,
		city VARCHAR(255) NOT NULL,
		latitude DOUBLE PRECISION NULL,
		longitude DOUBLE PRECISION NULL,
		observed_at TIMESTAMPTZ NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		feels_like DOUBLE PRECISION NULL,
		temp_min DOUBLE PRECISION NULL,
		temp_max DOUBLE PRECISION NULL,
		pressure INTEGER NOT NULL,
		humidity INTEGER NOT NULL,
		wind_speed DOUBLE PRECISION NULL,
		wind_deg INTEGER NULL,
		rainfall DOUBLE PRECISION NULL,
		predicted_rain_chance DOUBLE PRECISION NULL,
		source VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_city_time ON observations (city, observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_source ON observations (source)`,
}

// initSchema creates the observations table. Neither driver accepts several
// statements in one Exec, so they run one at a time.
func (db *DB) initSchema(ctx context.Context) error {
	statements := mysqlSchema
	if db.driver == "postgres" {
		statements = postgresSchema
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to execute schema statement: %v", ErrStorageUnavailable, err)
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) recordPoolStats() {
	stats := db.conn.Stats()
	metrics.UpdateDBConnectionStats(stats.OpenConnections, stats.InUse, stats.Idle)
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const insertObservation = `INSERT INTO observations (city, latitude, longitude, observed_at, temperature, feels_like, temp_min, temp_max,
	pressure, humidity, wind_speed, wind_deg, rainfall, predicted_rain_chance, source)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func (db *DB) insert(ctx context.Context, ex execer, obs models.Observation) error {
	queryStart := time.Now()
	_, err := ex.ExecContext(ctx, db.rebind(insertObservation),
		obs.City, nullableFloat(obs.Latitude), nullableFloat(obs.Longitude), obs.Timestamp.UTC(),
		obs.Temperature, nullableFloat(obs.FeelsLike), nullableFloat(obs.TempMin), nullableFloat(obs.TempMax),
		obs.Pressure, obs.Humidity, nullableFloat(obs.WindSpeed), nullableInt(obs.WindDeg),
		nullableFloat(obs.Rainfall), nullableFloat(obs.PredictedRainChance), obs.Source)
	metrics.RecordDBQuery("INSERT", "observations", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("%w: failed to insert observation for %s at %s: %v",
			ErrStorageUnavailable, obs.City, obs.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

// Save stores one current observation. Under keep-latest-only the prior
// current rows for the same city are deleted in the same transaction.
func (db *DB) Save(ctx context.Context, obs models.Observation) error {
	defer db.recordPoolStats()

	if obs.Source == "" {
		obs.Source = models.SourceCurrent
	}
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidObservation, err)
	}

	if db.retention != config.RetentionKeepLatestOnly {
		return db.insert(ctx, db.conn, obs)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback() // Will be ignored if committed

	queryStart := time.Now()
	res, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM observations WHERE city = ? AND source = ?`), obs.City, obs.Source)
	metrics.RecordDBQuery("DELETE", "observations", time.Since(queryStart), err)
	if err != nil {
		return fmt.Errorf("%w: failed to purge previous snapshot for %s: %v", ErrStorageUnavailable, obs.City, err)
	}

	if err := db.insert(ctx, tx, obs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrStorageUnavailable, err)
	}

	if purged, err := res.RowsAffected(); err == nil && purged > 0 {
		slog.Debug("replaced previous snapshot", "city", obs.City, "purged", purged)
	}
	return nil
}

// SaveBatch stores historical observations one row at a time. A failed row is
// logged and skipped; an error is returned only when no row could be stored.
func (db *DB) SaveBatch(ctx context.Context, observations []models.Observation) (BatchResult, error) {
	defer db.recordPoolStats()

	var result BatchResult
	storageFailures := 0

	for _, obs := range observations {
		if obs.Source == "" {
			obs.Source = models.SourceHistorical
		}

		if err := obs.Validate(); err != nil {
			slog.Warn("skipping invalid observation", "city", obs.City, "timestamp", obs.Timestamp, "err", err)
			result.Failed++
			continue
		}

		if err := db.insert(ctx, db.conn, obs); err != nil {
			slog.Warn("failed to store observation", "city", obs.City, "timestamp", obs.Timestamp, "err", err)
			result.Failed++
			storageFailures++
			continue
		}
		result.Stored++
	}

	if result.Stored == 0 && result.Failed > 0 {
		if storageFailures > 0 {
			return result, fmt.Errorf("%w: all %d observations failed to store", ErrStorageUnavailable, result.Failed)
		}
		return result, fmt.Errorf("%w: all %d observations failed validation", ErrInvalidObservation, result.Failed)
	}

	slog.Info("stored observation batch", "stored", result.Stored, "failed", result.Failed)
	return result, nil
}

const selectObservation = `SELECT id, city, latitude, longitude, observed_at, temperature, feels_like, temp_min, temp_max,
	pressure, humidity, wind_speed, wind_deg, rainfall, predicted_rain_chance, source FROM observations`

// GetObservations returns observations recorded at or after since, newest
// first. An empty city matches every city.
func (db *DB) GetObservations(ctx context.Context, city string, since time.Time) ([]models.Observation, error) {
	query := selectObservation + ` WHERE observed_at >= ?`
	args := []interface{}{since.UTC()}
	if city != "" {
		query += ` AND city = ?`
		args = append(args, city)
	}
	query += ` ORDER BY observed_at DESC`

	return db.queryObservations(ctx, "observations", query, args...)
}

// GetRecentObservations returns the latest limit observations for city, newest first
func (db *DB) GetRecentObservations(ctx context.Context, city string, limit int) ([]models.Observation, error) {
	query := selectObservation + ` WHERE city = ? ORDER BY observed_at DESC LIMIT ?`
	return db.queryObservations(ctx, "observations", query, city, limit)
}

func (db *DB) queryObservations(ctx context.Context, table, query string, args ...interface{}) ([]models.Observation, error) {
	defer db.recordPoolStats()

	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	metrics.RecordDBQuery("SELECT", table, time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query observations: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	observations := []models.Observation{}
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan observation: %v", ErrStorageUnavailable, err)
		}
		observations = append(observations, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating observations: %v", ErrStorageUnavailable, err)
	}

	return observations, nil
}

func scanObservation(rows *sql.Rows) (models.Observation, error) {
	var (
		obs                                     models.Observation
		lat, lon, feels, tMin, tMax, wind, rain sql.NullFloat64
		chance                                  sql.NullFloat64
		windDeg                                 sql.NullInt64
	)

	err := rows.Scan(&obs.ID, &obs.City, &lat, &lon, &obs.Timestamp, &obs.Temperature, &feels, &tMin, &tMax,
		&obs.Pressure, &obs.Humidity, &wind, &windDeg, &rain, &chance, &obs.Source)
	if err != nil {
		return obs, err
	}

	obs.Timestamp = obs.Timestamp.UTC()
	obs.Latitude = floatPtr(lat)
	obs.Longitude = floatPtr(lon)
	obs.FeelsLike = floatPtr(feels)
	obs.TempMin = floatPtr(tMin)
	obs.TempMax = floatPtr(tMax)
	obs.WindSpeed = floatPtr(wind)
	obs.Rainfall = floatPtr(rain)
	obs.PredictedRainChance = floatPtr(chance)
	if windDeg.Valid {
		obs.WindDeg = models.Int(int(windDeg.Int64))
	}

	return obs, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

// GetCitiesWithData returns the set of cities that have at least one stored observation
func (db *DB) GetCitiesWithData(ctx context.Context) (map[string]bool, error) {
	queryStart := time.Now()
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT city FROM observations`)
	metrics.RecordDBQuery("SELECT", "observations", time.Since(queryStart), err)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get cities with data: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	cities := make(map[string]bool)
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, fmt.Errorf("%w: failed to scan city: %v", ErrStorageUnavailable, err)
		}
		cities[city] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating cities: %v", ErrStorageUnavailable, err)
	}

	return cities, nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
