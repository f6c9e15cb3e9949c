package weather

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubFetcher struct {
	conditions Conditions
	err        error
	calls      int
}

func (f *stubFetcher) Fetch(_ context.Context, _ int) (Conditions, error) {
	f.calls++
	return f.conditions, f.err
}

func TestProviderCachesWithinTTL(t *testing.T) {
	fetcher := &stubFetcher{conditions: Conditions{RainfallMM: 5}}
	p := NewProvider(fetcher, Conditions{}, time.Hour)

	first := p.GetRecent(context.Background(), 7)
	second := p.GetRecent(context.Background(), 7)

	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch within TTL, got %d", fetcher.calls)
	}
	if first != second {
		t.Errorf("expected cached value to be returned unchanged")
	}
}

func TestProviderFallsBackToStandardOnFetchError(t *testing.T) {
	standard := Conditions{RainfallMM: 1, SolarTotal: 2, TemperatureCelsius: 20}
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	p := NewProvider(fetcher, standard, time.Hour)

	got := p.GetRecent(context.Background(), 7)
	if got != standard {
		t.Errorf("expected fallback to standard conditions, got %+v", got)
	}
}

func TestProviderRefreshesAfterTTLExpires(t *testing.T) {
	fetcher := &stubFetcher{conditions: Conditions{RainfallMM: 5}}
	p := NewProvider(fetcher, Conditions{}, time.Millisecond)

	p.GetRecent(context.Background(), 7)
	time.Sleep(5 * time.Millisecond)
	p.GetRecent(context.Background(), 7)

	if fetcher.calls != 2 {
		t.Errorf("expected 2 fetches after TTL expiry, got %d", fetcher.calls)
	}
}

func TestSimulatorValuesAreBounded(t *testing.T) {
	sim := NewSimulator(42)
	for i := 0; i < 20; i++ {
		c, err := sim.Fetch(context.Background(), 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.TemperatureCelsius < 13 || c.TemperatureCelsius > 28 {
			t.Errorf("temperature out of bounds: %v", c.TemperatureCelsius)
		}
		if c.RainfallMM < 0 || c.RainfallMM > 7 {
			t.Errorf("rainfall out of bounds: %v", c.RainfallMM)
		}
		if c.SolarTotal < 4 || c.SolarTotal > 8 {
			t.Errorf("solar out of bounds: %v", c.SolarTotal)
		}
	}
}

func TestSimulatorDeterministicForSameSeed(t *testing.T) {
	a := NewSimulator(7)
	b := NewSimulator(7)

	ca, _ := a.Fetch(context.Background(), 7)
	cb, _ := b.Fetch(context.Background(), 7)

	if ca != cb {
		t.Errorf("expected same seed to produce identical initial conditions, got %+v vs %+v", ca, cb)
	}
}
