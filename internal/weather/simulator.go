package weather

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/irrignode/controller/internal/logging"
)

var simulatorLog = logging.New("weather-simulator")

// simulatorRefreshInterval bounds how often simulated conditions are
// regenerated; repeated calls within the interval see the same values.
const simulatorRefreshInterval = 24 * time.Hour

// Simulator is a Fetcher that deterministically produces bounded
// synthetic weather values, used iff use_weather_simulator=true and
// environment != production. The same seed yields the same sequence
// across runs.
type Simulator struct {
	rng *rand.Rand

	mu          sync.Mutex
	current     Conditions
	generatedAt time.Time
}

// NewSimulator returns a simulator seeded with seed.
func NewSimulator(seed int64) *Simulator {
	s := &Simulator{rng: rand.New(rand.NewSource(seed))}
	s.current = s.generate()
	simulatorLog.Debugf("simulator initialized with seed %d", seed)
	return s
}

// Fetch implements Fetcher. windowDays is accepted for interface
// conformance; the simulator's synthetic values do not vary by window,
// every call just returns the current snapshot.
func (s *Simulator) Fetch(_ context.Context, _ int) (Conditions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.generatedAt) > simulatorRefreshInterval {
		s.current = s.generate()
	}
	return s.current, nil
}

// generate mirrors update_current_conditions: temperature in [13,28]C,
// rainfall in [0,7]mm, sunlight in [4,8]h.
func (s *Simulator) generate() Conditions {
	c := Conditions{
		TemperatureCelsius: uniform(s.rng, 13, 28),
		RainfallMM:         uniform(s.rng, 0, 7),
		SolarTotal:         uniform(s.rng, 4, 8),
	}
	s.generatedAt = time.Now()
	return c
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
