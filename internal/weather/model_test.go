package weather

import (
	"math"
	"testing"

	"github.com/irrignode/controller/internal/model"
)

func circuitS1() model.CircuitConfig {
	return model.CircuitConfig{
		ID:           1,
		EvenAreaMode: true,
		TargetMM:     5,
		AreaM2:       2,
		IntervalDays: 1,
		Drippers:     map[int]int{10: 1},
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// Standard conditions equal observed: no adjustment.
func TestComputeStandardConditionsNoAdjustment(t *testing.T) {
	cfg := circuitS1()
	limits := model.IrrigationLimits{MinPercent: 20, MaxPercent: 300}
	standard := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 0}

	res := NewModel().Compute(cfg, standard, standard, model.CorrectionFactors{}, limits)

	if res.Skip {
		t.Fatal("expected no skip under standard conditions")
	}
	if !almostEqual(res.TargetVolume, 10) {
		t.Errorf("expected target_volume=10, got %v", res.TargetVolume)
	}
}

// Rainfall 10mm above standard, global rain factor -0.15, local 0.
func TestComputeWeatherSkipWithNonZeroMinPercent(t *testing.T) {
	cfg := circuitS1()
	limits := model.IrrigationLimits{MinPercent: 20, MaxPercent: 300}
	standard := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 0}
	observed := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 10}
	globalFactors := model.CorrectionFactors{Rain: -0.15}

	res := NewModel().Compute(cfg, observed, standard, globalFactors, limits)

	if res.Skip {
		t.Fatal("min_percent=20 should clamp, not skip")
	}
	if !almostEqual(res.TargetVolume, 2) {
		t.Errorf("expected clamped target_volume=2, got %v", res.TargetVolume)
	}
}

func TestComputeWeatherSkipWithZeroMinPercent(t *testing.T) {
	cfg := circuitS1()
	limits := model.IrrigationLimits{MinPercent: 0, MaxPercent: 300}
	standard := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 0}
	observed := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 10}
	globalFactors := model.CorrectionFactors{Rain: -0.15}

	res := NewModel().Compute(cfg, observed, standard, globalFactors, limits)

	if !res.Skip {
		t.Fatal("expected skip when adjusted < min_bound(0) and min_percent=0")
	}
}

func TestComputeVolumeAtMinBoundExactlyNotSkipped(t *testing.T) {
	cfg := circuitS1()
	limits := model.IrrigationLimits{MinPercent: 0, MaxPercent: 300}
	standard := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 0}
	// combined = 1 + (-0.1)*10 = 0, so adjusted = 0 = min_bound.
	observed := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 10}
	globalFactors := model.CorrectionFactors{Rain: -0.1}

	res := NewModel().Compute(cfg, observed, standard, globalFactors, limits)

	if res.Skip {
		t.Fatal("exactly-at-min-bound must not be skipped")
	}
}

func TestComputeClampsAboveMaxPercent(t *testing.T) {
	cfg := circuitS1()
	limits := model.IrrigationLimits{MinPercent: 20, MaxPercent: 120}
	standard := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: 0}
	// Negative rain delta times the negative rain factor inflates demand.
	observed := Conditions{SolarTotal: 5, TemperatureCelsius: 20, RainfallMM: -10}
	globalFactors := model.CorrectionFactors{Rain: -0.15}

	res := NewModel().Compute(cfg, observed, standard, globalFactors, limits)

	want := cfg.BaseVolumeLiters() * 1.2
	if !almostEqual(res.TargetVolume, want) {
		t.Errorf("expected clamp to max_bound=%v, got %v", want, res.TargetVolume)
	}
}
