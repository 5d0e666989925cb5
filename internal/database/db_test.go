package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"raincast/internal/config"
	"raincast/internal/models"
)

func newMockDB(t *testing.T, driver, retention string) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	db, err := newWithConn(conn, driver, retention)
	if err != nil {
		t.Fatalf("newWithConn() error = %v", err)
	}
	return db, mock
}

func sampleObservation() models.Observation {
	return models.Observation{
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		City:        "Vancouver",
		Latitude:    models.Float(49.2827),
		Longitude:   models.Float(-123.1207),
		Temperature: 7.5,
		FeelsLike:   models.Float(5.1),
		TempMin:     models.Float(6.0),
		TempMax:     models.Float(9.0),
		Pressure:    1004,
		Humidity:    87,
		WindSpeed:   models.Float(4.6),
		WindDeg:     models.Int(210),
		Rainfall:    models.Float(0.8),
	}
}

var insertPattern = regexp.QuoteMeta("INSERT INTO observations")

func TestNewWithConn(t *testing.T) {
	tests := []struct {
		name      string
		driver    string
		retention string
		wantErr   bool
	}{
		{"mysql append", "mysql", config.RetentionAppend, false},
		{"postgres keep latest", "postgres", config.RetentionKeepLatestOnly, false},
		{"empty retention defaults to append", "mysql", "", false},
		{"unknown driver", "sqlite3", config.RetentionAppend, true},
		{"unknown retention", "mysql", "truncate", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create sqlmock: %v", err)
			}
			defer conn.Close()

			db, err := newWithConn(conn, tt.driver, tt.retention)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newWithConn() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.retention == "" && db.retention != config.RetentionAppend {
				t.Errorf("retention = %s, want append", db.retention)
			}
		})
	}
}

func TestInitSchema(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		db, mock := newMockDB(t, "mysql", config.RetentionAppend)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS observations")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := db.initSchema(context.Background()); err != nil {
			t.Fatalf("initSchema() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("postgres creates indexes separately", func(t *testing.T) {
		db, mock := newMockDB(t, "postgres", config.RetentionAppend)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS observations")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_observations_city_time")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_observations_source")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := db.initSchema(context.Background()); err != nil {
			t.Fatalf("initSchema() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("failure is storage unavailable", func(t *testing.T) {
		db, mock := newMockDB(t, "mysql", config.RetentionAppend)
		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("connection refused"))

		if err := db.initSchema(context.Background()); !errors.Is(err, ErrStorageUnavailable) {
			t.Errorf("initSchema() error = %v, want ErrStorageUnavailable", err)
		}
	})
}

func TestRebind(t *testing.T) {
	mysqlDB := &DB{driver: "mysql"}
	postgresDB := &DB{driver: "postgres"}
	query := "SELECT id FROM observations WHERE city = ? AND observed_at >= ? LIMIT ?"

	if got := mysqlDB.rebind(query); got != query {
		t.Errorf("mysql rebind() = %s, want query unchanged", got)
	}

	want := "SELECT id FROM observations WHERE city = $1 AND observed_at >= $2 LIMIT $3"
	if got := postgresDB.rebind(query); got != want {
		t.Errorf("postgres rebind() = %s, want %s", got, want)
	}
}

func TestSave_Append(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)
	obs := sampleObservation()

	mock.ExpectExec(insertPattern).
		WithArgs("Vancouver", 49.2827, -123.1207, obs.Timestamp, 7.5, 5.1, 6.0, 9.0,
			1004, 87, 4.6, 210, 0.8, nil, models.SourceCurrent).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := db.Save(context.Background(), obs); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSave_KeepLatestOnlyPurgesSameCity(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionKeepLatestOnly)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM observations WHERE city = ? AND source = ?")).
		WithArgs("Vancouver", models.SourceCurrent).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectCommit()

	if err := db.Save(context.Background(), sampleObservation()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSave_KeepLatestOnlyRollsBackOnInsertFailure(t *testing.T) {
	db, mock := newMockDB(t, "postgres", config.RetentionKeepLatestOnly)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM observations WHERE city = $1 AND source = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertPattern).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := db.Save(context.Background(), sampleObservation())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("Save() error = %v, want ErrStorageUnavailable", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSave_RejectsInvalidObservation(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	obs := sampleObservation()
	obs.City = ""

	if err := db.Save(context.Background(), obs); !errors.Is(err, ErrInvalidObservation) {
		t.Fatalf("Save() error = %v, want ErrInvalidObservation", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no SQL should run for an invalid observation: %v", err)
	}
}

func TestSaveBatch_ContinuesAfterRowFailure(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	batch := []models.Observation{sampleObservation(), sampleObservation(), sampleObservation()}
	batch[1].Timestamp = batch[1].Timestamp.Add(time.Hour)
	batch[2].Timestamp = batch[2].Timestamp.Add(2 * time.Hour)

	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertPattern).WillReturnError(errors.New("deadlock"))
	mock.ExpectExec(insertPattern).
		WithArgs("Vancouver", sqlmock.AnyArg(), sqlmock.AnyArg(), batch[2].Timestamp, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), models.SourceHistorical).
		WillReturnResult(sqlmock.NewResult(3, 1))

	result, err := db.SaveBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	if result.Stored != 2 || result.Failed != 1 {
		t.Errorf("SaveBatch() = %+v, want {Stored:2 Failed:1}", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveBatch_SkipsInvalidRows(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	invalid := sampleObservation()
	invalid.Pressure = 0

	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := db.SaveBatch(context.Background(), []models.Observation{invalid, sampleObservation()})
	if err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	if result.Stored != 1 || result.Failed != 1 {
		t.Errorf("SaveBatch() = %+v, want {Stored:1 Failed:1}", result)
	}
}

func TestSaveBatch_AllRowsFail(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	mock.ExpectExec(insertPattern).WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(insertPattern).WillReturnError(errors.New("connection reset"))

	result, err := db.SaveBatch(context.Background(), []models.Observation{sampleObservation(), sampleObservation()})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("SaveBatch() error = %v, want ErrStorageUnavailable", err)
	}
	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
}

func TestSaveBatch_Empty(t *testing.T) {
	db, _ := newMockDB(t, "mysql", config.RetentionAppend)

	result, err := db.SaveBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	if result != (BatchResult{}) {
		t.Errorf("SaveBatch() = %+v, want zero result", result)
	}
}

var observationColumns = []string{"id", "city", "latitude", "longitude", "observed_at", "temperature", "feels_like",
	"temp_min", "temp_max", "pressure", "humidity", "wind_speed", "wind_deg", "rainfall", "predicted_rain_chance", "source"}

func TestGetObservations(t *testing.T) {
	db, mock := newMockDB(t, "postgres", config.RetentionAppend)

	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	older := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(observationColumns).
		AddRow(2, "Vancouver", 49.2827, -123.1207, newer, 6.0, 4.0, 5.0, 7.0, 998, 93, 5.5, 200, 1.4, 0.81, "current").
		AddRow(1, "Vancouver", nil, nil, older, 7.5, nil, nil, nil, 1004, 87, nil, nil, nil, nil, "historical")

	mock.ExpectQuery(regexp.QuoteMeta("FROM observations WHERE observed_at >= $1 AND city = $2 ORDER BY observed_at DESC")).
		WithArgs(since, "Vancouver").
		WillReturnRows(rows)

	observations, err := db.GetObservations(context.Background(), "Vancouver", since)
	if err != nil {
		t.Fatalf("GetObservations() error = %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("GetObservations() returned %d rows, want 2", len(observations))
	}

	first := observations[0]
	if first.ID != 2 || !first.Timestamp.Equal(newer) {
		t.Errorf("first row = id %d at %v, want id 2 at %v", first.ID, first.Timestamp, newer)
	}
	if first.WindDeg == nil || *first.WindDeg != 200 {
		t.Errorf("WindDeg = %v, want 200", first.WindDeg)
	}
	if first.PredictedRainChance == nil || *first.PredictedRainChance != 0.81 {
		t.Errorf("PredictedRainChance = %v, want 0.81", first.PredictedRainChance)
	}

	second := observations[1]
	if second.FeelsLike != nil || second.Rainfall != nil || second.WindDeg != nil || second.Latitude != nil {
		t.Errorf("NULL columns should scan to nil pointers, got %+v", second)
	}
	if second.Pressure != 1004 || second.Humidity != 87 {
		t.Errorf("Pressure/Humidity = %d/%d, want 1004/87", second.Pressure, second.Humidity)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetObservations_AllCities(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	mock.ExpectQuery(regexp.QuoteMeta("FROM observations WHERE observed_at >= ? ORDER BY observed_at DESC")).
		WillReturnRows(sqlmock.NewRows(observationColumns))

	observations, err := db.GetObservations(context.Background(), "", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetObservations() error = %v", err)
	}
	if observations == nil || len(observations) != 0 {
		t.Errorf("GetObservations() = %v, want empty non-nil slice", observations)
	}
}

func TestGetObservations_QueryFailure(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("server has gone away"))

	_, err := db.GetObservations(context.Background(), "Vancouver", time.Now())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("GetObservations() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestGetRecentObservations(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE city = ? ORDER BY observed_at DESC LIMIT ?")).
		WithArgs("Vancouver", 50).
		WillReturnRows(sqlmock.NewRows(observationColumns).
			AddRow(1, "Vancouver", nil, nil, time.Now(), 7.5, nil, nil, nil, 1004, 87, nil, nil, 0.0, nil, "current"))

	observations, err := db.GetRecentObservations(context.Background(), "Vancouver", 50)
	if err != nil {
		t.Fatalf("GetRecentObservations() error = %v", err)
	}
	if len(observations) != 1 {
		t.Errorf("GetRecentObservations() returned %d rows, want 1", len(observations))
	}
}

func TestGetCitiesWithData(t *testing.T) {
	db, mock := newMockDB(t, "mysql", config.RetentionAppend)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT city FROM observations")).
		WillReturnRows(sqlmock.NewRows([]string{"city"}).AddRow("Vancouver").AddRow("Toronto"))

	cities, err := db.GetCitiesWithData(context.Background())
	if err != nil {
		t.Fatalf("GetCitiesWithData() error = %v", err)
	}
	if !cities["Vancouver"] || !cities["Toronto"] || len(cities) != 2 {
		t.Errorf("GetCitiesWithData() = %v", cities)
	}
}
