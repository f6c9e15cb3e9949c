package weather

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/irrignode/controller/internal/logging"
)

var providerLog = logging.New("weather-provider")

// Fetcher is the (out-of-scope) live weather API client's interface: the
// only part of it this repository depends on.
type Fetcher interface {
	Fetch(ctx context.Context, windowDays int) (Conditions, error)
}

// Provider caches the last fetched conditions for a configured TTL and
// degrades to standard conditions on any fetch error, without ever
// surfacing that error to the caller.
type Provider struct {
	fetcher  Fetcher
	standard Conditions
	ttl      time.Duration
	breaker  *gobreaker.CircuitBreaker

	mu       sync.Mutex
	cached   Conditions
	cachedAt time.Time
	hasCache bool
}

// NewProvider builds a provider wrapping fetcher with a circuit breaker:
// after repeated fetch failures it opens and short-circuits straight to
// the standard-conditions fallback instead of hammering a failing
// upstream, grounded on the gateway circuit breaker in
// LeonardoBeccarini-SDCC_Project's internal/services/gateway/app/circuitbreaker.go.
func NewProvider(fetcher Fetcher, standard Conditions, ttl time.Duration) *Provider {
	settings := gobreaker.Settings{
		Name:    "weather-fetch",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Provider{
		fetcher:  fetcher,
		standard: standard,
		ttl:      ttl,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// GetRecent returns cached conditions if fresh, otherwise refreshes. On
// any failure (including an open breaker) it falls back to standard
// conditions and logs at WARN; it never returns an error.
func (p *Provider) GetRecent(ctx context.Context, windowDays int) Conditions {
	p.mu.Lock()
	if p.hasCache && time.Since(p.cachedAt) < p.ttl {
		cached := p.cached
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	result, err := p.breaker.Execute(func() (any, error) {
		return p.fetcher.Fetch(ctx, windowDays)
	})
	if err != nil {
		providerLog.Warnf("weather fetch failed, falling back to standard conditions: %v", err)
		return p.standard
	}

	conditions := result.(Conditions)

	p.mu.Lock()
	p.cached = conditions
	p.cachedAt = time.Now()
	p.hasCache = true
	p.mu.Unlock()

	return conditions
}
