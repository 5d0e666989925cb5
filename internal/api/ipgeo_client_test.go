package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLocate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"status": "success", "city": "Burnaby", "lat": 49.2488, "lon": -122.9805}`))
	}))
	defer server.Close()

	loc, err := NewIPGeoClient(server.URL, time.Second).Locate(context.Background())
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}

	if loc.Name != "Burnaby" || loc.Latitude != 49.2488 || loc.Longitude != -122.9805 {
		t.Errorf("Locate() = %+v", loc)
	}
}

func TestLocate_FailedLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "fail", "message": "reserved range"}`))
	}))
	defer server.Close()

	_, err := NewIPGeoClient(server.URL, time.Second).Locate(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Locate() error = %v, want ErrUpstreamUnavailable", err)
	}
}
