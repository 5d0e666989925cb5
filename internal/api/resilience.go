package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// BackoffConfig controls exponential backoff between attempts
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
)

// statusError is a non-2xx answer that retrying will not fix
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error: status %d, body: %s", e.code, e.body)
}

// resilientClient issues GET requests through a token bucket, a circuit
// breaker and bounded exponential backoff
type resilientClient struct {
	client  *http.Client
	limiter *rate.Limiter
	circuit *gobreaker.CircuitBreaker
	backoff BackoffConfig
}

// newLimiter builds a token bucket; rps <= 0 means unlimited
func newLimiter(rps float64, burst int) *rate.Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// newResilientClient creates a client with its own circuit breaker. Clients
// hitting the same provider may share one limiter.
func newResilientClient(name string, timeout time.Duration, limiter *rate.Limiter, backoff BackoffConfig) *resilientClient {
	if backoff.InitialInterval <= 0 {
		backoff.InitialInterval = 500 * time.Millisecond
	}
	if backoff.MaxRetries < 0 {
		backoff.MaxRetries = 0
	}

	return &resilientClient{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:         name,
			MaxRequests:  5,
			Interval:     1 * time.Minute,
			Timeout:      2 * time.Minute,
			IsSuccessful: breakerSuccess,
		}),
		backoff: backoff,
	}
}

// breakerSuccess keeps answers the provider gave on purpose (4xx) from
// tripping the breaker; only transport failures, 429 and 5xx count
func breakerSuccess(err error) bool {
	var se *statusError
	return err == nil || errors.As(err, &se)
}

// get returns the body of a 2xx response. Every failure wraps ErrUpstreamUnavailable.
func (c *resilientClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait canceled: %v", ErrUpstreamUnavailable, err)
		}

		result, err := c.circuit.Execute(func() (interface{}, error) {
			return c.do(ctx, rawURL)
		})
		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open: %v", ErrUpstreamUnavailable, err)
		}

		var se *statusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}

		lastErr = err
		if attempt >= c.backoff.MaxRetries {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
		}

		delay := c.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *resilientClient) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &statusError{code: 0, body: err.Error()}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}

	return body, nil
}
