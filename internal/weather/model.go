// Package weather implements the weather-adjusted volume model and the
// recent-conditions provider.
package weather

import "github.com/irrignode/controller/internal/model"

// Conditions is the weather reading a circuit is evaluated against:
// either the standard reference or a recent observed snapshot. Both share
// this shape.
type Conditions struct {
	SolarTotal         float64 // kWh/m^2/day
	TemperatureCelsius float64
	RainfallMM         float64
}

// Result is the weather model's output.
type Result struct {
	TargetVolume float64
	MinBound     float64
	MaxBound     float64
	Skip         bool
	Details      Details
}

// Details exposes the intermediate values so callers (and tests) can
// verify the algorithm without re-deriving it.
type Details struct {
	BaseVolume       float64
	SolarDelta       float64
	RainDelta        float64
	TemperatureDelta float64
	CombinedFactor   float64
	Adjusted         float64
}

// Model computes weather-adjusted irrigation volume. It holds no state and
// has no side effects.
type Model struct{}

// NewModel returns the default weather model.
func NewModel() *Model { return &Model{} }

// Compute derives the weather-adjusted target volume:
//
//	deltas = observed - standard
//	combined_factor = 1 + sum over {solar, rain, temperature} of
//	                      (global_factor + local_factor) * delta
//	adjusted = base_volume * combined_factor
//	min_bound = base_volume * (min_percent / 100)
//	max_bound = base_volume * (max_percent / 100)
//	clamp adjusted to [min_bound, max_bound]
//	skip iff adjusted < min_bound AND min_percent == 0
func (m *Model) Compute(cfg model.CircuitConfig, observed, standard Conditions, global model.CorrectionFactors, limits model.IrrigationLimits) Result {
	base := cfg.BaseVolumeLiters()

	solarDelta := observed.SolarTotal - standard.SolarTotal
	rainDelta := observed.RainfallMM - standard.RainfallMM
	tempDelta := observed.TemperatureCelsius - standard.TemperatureCelsius

	combined := 1.0 +
		(global.Solar+cfg.Factors.Solar)*solarDelta +
		(global.Rain+cfg.Factors.Rain)*rainDelta +
		(global.Temperature+cfg.Factors.Temperature)*tempDelta

	adjusted := base * combined

	minBound := base * (limits.MinPercent / 100)
	maxBound := base * (limits.MaxPercent / 100)

	skip := adjusted < minBound && limits.MinPercent == 0

	target := adjusted
	if !skip {
		if target < minBound {
			target = minBound
		}
		if target > maxBound {
			target = maxBound
		}
	}

	return Result{
		TargetVolume: target,
		MinBound:     minBound,
		MaxBound:     maxBound,
		Skip:         skip,
		Details: Details{
			BaseVolume:       base,
			SolarDelta:       solarDelta,
			RainDelta:        rainDelta,
			TemperatureDelta: tempDelta,
			CombinedFactor:   combined,
			Adjusted:         adjusted,
		},
	}
}
