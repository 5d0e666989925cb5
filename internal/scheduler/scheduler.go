package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"raincast/internal/collector"
	"raincast/internal/models"
)

// Collector collects and stores the current observation for a location
type Collector interface {
	CollectCurrent(ctx context.Context, loc models.Location) (*collector.Result, error)
}

// Scheduler periodically collects current weather for configured locations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	collector Collector
	locations []models.Location
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler.
func New(locations []models.Location, interval time.Duration, c Collector) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		collector: c,
		locations: locations,
		interval:  interval,
		timeout:   30 * time.Second,
	}
}

// Start schedules the collection job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		slog.Info("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() { s.RunOnce() })
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	slog.Info("scheduler started", "interval", s.interval, "locations", len(s.locations))
	return nil
}

// RunOnce collects every location concurrently and returns the number that succeeded
func (s *Scheduler) RunOnce() int {
	slog.Info("scheduler: running collection job")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, loc := range s.locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()

			if _, err := s.collector.CollectCurrent(ctx, loc); err != nil {
				slog.Error("scheduler: collection failed", "city", loc.Name, "err", err)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	slog.Info("scheduler: completed collection job", "succeeded", succeeded, "locations", len(s.locations))
	return succeeded
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
