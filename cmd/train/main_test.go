package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"raincast/internal/database"
	"raincast/internal/models"
	"raincast/internal/predictor"
)

type fakeStore struct {
	mu    sync.Mutex
	rows  map[string][]models.Observation
	fail  map[string]bool
	calls []string
}

func (f *fakeStore) GetObservations(ctx context.Context, city string, since time.Time) ([]models.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, city)
	if f.fail[city] {
		return nil, database.ErrStorageUnavailable
	}
	var out []models.Observation
	for _, o := range f.rows[city] {
		if !o.Timestamp.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func obsAt(city string, hours int) models.Observation {
	return models.Observation{City: city, Timestamp: base.Add(time.Duration(hours) * time.Hour), Temperature: 10, Pressure: 1010, Humidity: 70}
}

func (f *fakeStore) GetCitiesWithData(ctx context.Context) (map[string]bool, error) {
	if f.fail["*"] {
		return nil, database.ErrStorageUnavailable
	}
	out := make(map[string]bool, len(f.rows))
	for city := range f.rows {
		out[city] = true
	}
	return out, nil
}

func TestLoadTrainingBatch(t *testing.T) {
	store := &fakeStore{rows: map[string][]models.Observation{
		"Vancouver": {obsAt("Vancouver", 2), obsAt("Vancouver", 1)},
		"Seattle":   {obsAt("Seattle", 1), obsAt("Seattle", -48)},
	}}

	batch, err := loadTrainingBatch(context.Background(), store, []string{"Vancouver", "Seattle"}, base.Add(-time.Hour), 4)
	if err != nil {
		t.Fatalf("loadTrainingBatch() error = %v", err)
	}

	if len(batch) != 3 {
		t.Fatalf("Expected 3 observations, got %d", len(batch))
	}
	want := []models.Observation{obsAt("Seattle", 1), obsAt("Vancouver", 1), obsAt("Vancouver", 2)}
	for i := range want {
		if batch[i].City != want[i].City || !batch[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("batch[%d] = %s@%v, want %s@%v", i, batch[i].City, batch[i].Timestamp, want[i].City, want[i].Timestamp)
		}
	}
	if len(store.calls) != 2 {
		t.Errorf("Expected 2 store calls, got %d", len(store.calls))
	}
}

func TestLoadTrainingBatch_SkipsFailedLocation(t *testing.T) {
	store := &fakeStore{
		rows: map[string][]models.Observation{"Vancouver": {obsAt("Vancouver", 0)}},
		fail: map[string]bool{"Seattle": true},
	}

	batch, err := loadTrainingBatch(context.Background(), store, []string{"Vancouver", "Seattle"}, base.Add(-time.Hour), 1)
	if err != nil {
		t.Fatalf("loadTrainingBatch() error = %v", err)
	}
	if len(batch) != 1 || batch[0].City != "Vancouver" {
		t.Errorf("batch = %+v, want the single Vancouver row", batch)
	}
}

func TestLoadTrainingBatch_AllFailed(t *testing.T) {
	store := &fakeStore{fail: map[string]bool{"Vancouver": true, "Seattle": true}}

	_, err := loadTrainingBatch(context.Background(), store, []string{"Vancouver", "Seattle"}, base, 2)
	if !errors.Is(err, database.ErrStorageUnavailable) {
		t.Errorf("loadTrainingBatch() error = %v, want ErrStorageUnavailable", err)
	}
}

func TestLoadTrainingBatch_NoLocations(t *testing.T) {
	_, err := loadTrainingBatch(context.Background(), &fakeStore{}, nil, base, 2)
	if !errors.Is(err, predictor.ErrInsufficientData) {
		t.Errorf("loadTrainingBatch() error = %v, want ErrInsufficientData", err)
	}
}

func TestLoadTrainingBatch_ClampsWorkers(t *testing.T) {
	store := &fakeStore{rows: map[string][]models.Observation{"Vancouver": {obsAt("Vancouver", 0)}}}

	for _, workers := range []int{0, -3, 100} {
		batch, err := loadTrainingBatch(context.Background(), store, []string{"Vancouver"}, base.Add(-time.Hour), workers)
		if err != nil {
			t.Fatalf("workers=%d: loadTrainingBatch() error = %v", workers, err)
		}
		if len(batch) != 1 {
			t.Errorf("workers=%d: expected 1 observation, got %d", workers, len(batch))
		}
	}
}

func TestTrainingCities(t *testing.T) {
	store := &fakeStore{rows: map[string][]models.Observation{
		"Vancouver": {obsAt("Vancouver", 0)},
		"Seattle":   nil,
		"New York":  {obsAt("New York", 0)},
	}}

	cities, err := trainingCities(context.Background(), store)
	if err != nil {
		t.Fatalf("trainingCities() error = %v", err)
	}

	want := []string{"New York", "Seattle", "Vancouver"}
	if len(cities) != len(want) {
		t.Fatalf("trainingCities() = %v, want %v", cities, want)
	}
	for i := range want {
		if cities[i] != want[i] {
			t.Errorf("cities[%d] = %s, want %s", i, cities[i], want[i])
		}
	}
}

func TestTrainingCities_StorageError(t *testing.T) {
	_, err := trainingCities(context.Background(), &fakeStore{fail: map[string]bool{"*": true}})
	if !errors.Is(err, database.ErrStorageUnavailable) {
		t.Errorf("trainingCities() error = %v, want ErrStorageUnavailable", err)
	}
}
