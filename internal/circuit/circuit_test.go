package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/relay"
	"github.com/irrignode/controller/internal/weather"
)

func testConfig() model.CircuitConfig {
	return model.CircuitConfig{
		ID:           1,
		EvenAreaMode: true,
		TargetMM:     5,
		AreaM2:       2,
		IntervalDays: 1,
		Drippers:     map[int]int{10: 1}, // 10 L/h -> 1h for 10L
	}
}

type stubWeatherModel struct {
	result weather.Result
}

func (s stubWeatherModel) Compute(model.CircuitConfig, weather.Conditions, weather.Conditions, model.CorrectionFactors, model.IrrigationLimits) weather.Result {
	return s.result
}

type stubProvider struct{ conditions weather.Conditions }

func (s stubProvider) GetRecent(context.Context, int) weather.Conditions { return s.conditions }

// Clean auto run, one circuit, standard conditions equal observed.
func TestIrrigateAutoSuccess(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, relay.NewSimRelay(cfg.RelayPin))

	// A zero target duration completes on the very first tick, keeping
	// this test fast while still exercising the full init/execute/finalize
	// path end to end.
	wm := stubWeatherModel{result: weather.Result{TargetVolume: 0}}
	provider := stubProvider{}
	global := model.GlobalConfig{Limits: model.IrrigationLimits{MinPercent: 20, MaxPercent: 300}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res := c.Irrigate(ctx, model.ModeAuto, 0, global, wm, provider)

	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected SUCCESS for zero-duration target, got %s (%s)", res.Outcome, res.ErrorMessage)
	}
	if c.RuntimeStatus().HasFault {
		t.Errorf("did not expect fault")
	}
}

func TestIrrigateWeatherSkipProducesNoValveOpen(t *testing.T) {
	cfg := testConfig()
	r := relay.NewSimRelay(cfg.RelayPin)
	c := New(cfg, r)

	wm := stubWeatherModel{result: weather.Result{Skip: true}}
	provider := stubProvider{}
	global := model.GlobalConfig{}

	res := c.Irrigate(context.Background(), model.ModeAuto, 0, global, wm, provider)

	if res.Outcome != model.OutcomeSkipped {
		t.Fatalf("expected SKIPPED, got %s", res.Outcome)
	}
	if r.State() != model.RelayClosed {
		t.Errorf("relay must never open on a skipped run")
	}
}

func TestIrrigateManualRejectsNonPositiveVolume(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, relay.NewSimRelay(cfg.RelayPin))

	res := c.Irrigate(context.Background(), model.ModeManual, 0, model.GlobalConfig{}, stubWeatherModel{}, stubProvider{})

	if res.Outcome != model.OutcomeFailed {
		t.Fatalf("expected FAILED for zero requested volume, got %s", res.Outcome)
	}
}

func TestIrrigateManualRejectsAboveSafetyMax(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, relay.NewSimRelay(cfg.RelayPin))
	global := model.GlobalConfig{Limits: model.IrrigationLimits{MainValveMaxFlow: 5}}

	res := c.Irrigate(context.Background(), model.ModeManual, 100, global, stubWeatherModel{}, stubProvider{})

	if res.Outcome != model.OutcomeFailed {
		t.Fatalf("expected FAILED above safety max, got %s", res.Outcome)
	}
}

// A manual run cancelled mid-way closes the valve and reports
// STOPPED; with cancellation issued before the circuit ever ticks, elapsed
// and current_volume must both be zero.
func TestIrrigateManualStoppedBeforeFirstTick(t *testing.T) {
	cfg := testConfig()
	r := relay.NewSimRelay(cfg.RelayPin)
	c := New(cfg, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: the very first select must take this path

	res := c.Irrigate(ctx, model.ModeManual, 10, model.GlobalConfig{}, stubWeatherModel{}, stubProvider{})

	if res.Outcome != model.OutcomeStopped {
		t.Fatalf("expected STOPPED, got %s", res.Outcome)
	}
	if res.ActualVolume != 0 {
		t.Errorf("expected zero actual volume on pre-tick cancellation, got %v", res.ActualVolume)
	}
	if r.State() != model.RelayClosed {
		t.Errorf("expected relay closed after stop, got %s", r.State())
	}
}

func TestIrrigateValveFaultOnOpenProducesFailed(t *testing.T) {
	cfg := testConfig()
	r := relay.NewSimRelay(cfg.RelayPin)
	r.FailNext = true
	c := New(cfg, r)

	res := c.Irrigate(context.Background(), model.ModeManual, 10, model.GlobalConfig{}, stubWeatherModel{}, stubProvider{})

	if res.Outcome != model.OutcomeFailed {
		t.Fatalf("expected FAILED when relay cannot open, got %s", res.Outcome)
	}
}

func TestVolumeToDuration(t *testing.T) {
	cases := []struct {
		liters, flow float64
		wantSeconds  int
	}{
		{10, 10, 3600},
		{5, 10, 1800},
		{1, 3600, 1}, // rounds up from 1.0s exactly? 3600*1/3600=1s, no tie
	}
	for _, tc := range cases {
		d := volumeToDuration(tc.liters, tc.flow)
		if int(d.Seconds()) != tc.wantSeconds {
			t.Errorf("volumeToDuration(%v, %v) = %v, want %ds", tc.liters, tc.flow, d, tc.wantSeconds)
		}
	}
}

func TestVolumeToDurationTieRoundsUp(t *testing.T) {
	// 3600 * 1 / 7200 = 0.5s exactly: ties round up to 1s.
	d := volumeToDuration(1, 7200)
	if d != time.Second {
		t.Fatalf("expected tie to round up to 1s, got %v", d)
	}
}
