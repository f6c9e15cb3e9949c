package planner

import (
	"context"
	"testing"
	"time"

	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/weather"
)

type stubSnapshots struct {
	snaps     map[int]model.CircuitSnapshot
	results   []model.IrrigationResult
	decisions []int
}

func newStubSnapshots() *stubSnapshots {
	return &stubSnapshots{snaps: map[int]model.CircuitSnapshot{}}
}

func (s *stubSnapshots) Get(id int) (model.CircuitSnapshot, bool) {
	snap, ok := s.snaps[id]
	return snap, ok
}

func (s *stubSnapshots) RecordResult(id int, result model.IrrigationResult) error {
	s.results = append(s.results, result)
	return nil
}

func (s *stubSnapshots) RecordDecision(id int, now time.Time) error {
	s.decisions = append(s.decisions, id)
	return nil
}

type fixedWeatherModel struct {
	skipIDs map[int]bool
	volume  float64
}

func (f fixedWeatherModel) Compute(cfg model.CircuitConfig, _, _ weather.Conditions, _ model.CorrectionFactors, _ model.IrrigationLimits) weather.Result {
	if f.skipIDs[cfg.ID] {
		return weather.Result{Skip: true}
	}
	return weather.Result{TargetVolume: f.volume}
}

type fixedProvider struct{}

func (fixedProvider) GetRecent(context.Context, int) weather.Conditions { return weather.Conditions{} }

func TestPlanSelectsDueCircuitsAndOrdersByID(t *testing.T) {
	snaps := newStubSnapshots()
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	configs := []model.CircuitConfig{
		{ID: 3, Enabled: true, IntervalDays: 1},
		{ID: 1, Enabled: true, IntervalDays: 1},
		{ID: 2, Enabled: false, IntervalDays: 1}, // disabled: excluded entirely
	}

	p := New(SingleBatchStrategy{}, fixedWeatherModel{volume: 10}, fixedProvider{})
	plan := p.Plan(context.Background(), configs, snaps, model.GlobalConfig{}, now)

	if len(plan.Batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(plan.Batches))
	}
	if got := plan.Batches[0]; len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("expected [1 3] ascending, got %v", got)
	}
}

func TestPlanExcludesCircuitNotYetDue(t *testing.T) {
	snaps := newStubSnapshots()
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	yesterday := now.Add(-12 * time.Hour) // previous calendar day: one day ago, short of the 3-day interval

	snaps.snaps[1] = model.CircuitSnapshot{ID: 1, LastIrrigation: &yesterday}

	configs := []model.CircuitConfig{{ID: 1, Enabled: true, IntervalDays: 3}}
	p := New(SingleBatchStrategy{}, fixedWeatherModel{volume: 10}, fixedProvider{})
	plan := p.Plan(context.Background(), configs, snaps, model.GlobalConfig{}, now)

	if len(plan.Batches) != 0 {
		t.Fatalf("expected no batches for a circuit not yet due, got %v", plan.Batches)
	}
}

func TestPlanRecordsSkipAndExcludesFromBatches(t *testing.T) {
	snaps := newStubSnapshots()
	now := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	configs := []model.CircuitConfig{
		{ID: 1, Enabled: true, IntervalDays: 1},
		{ID: 2, Enabled: true, IntervalDays: 1},
	}
	p := New(SingleBatchStrategy{}, fixedWeatherModel{skipIDs: map[int]bool{1: true}, volume: 10}, fixedProvider{})
	plan := p.Plan(context.Background(), configs, snaps, model.GlobalConfig{}, now)

	if len(plan.Batches) != 1 || len(plan.Batches[0]) != 1 || plan.Batches[0][0] != 2 {
		t.Fatalf("expected circuit 1 excluded by skip, got %v", plan.Batches)
	}
	if len(snaps.results) != 1 || snaps.results[0].Outcome != model.OutcomeSkipped || snaps.results[0].CircuitID != 1 {
		t.Fatalf("expected a SKIPPED record for circuit 1, got %+v", snaps.results)
	}
}

func TestIntervalElapsedNullLastIrrigationIsDue(t *testing.T) {
	if !intervalElapsed(nil, 7, time.Now()) {
		t.Error("a circuit never irrigated must always be due")
	}
}

func TestIntervalElapsedUsesCalendarDates(t *testing.T) {
	now := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	last := time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC) // 2 hours ago, but a different calendar date
	if !intervalElapsed(&last, 1, now) {
		t.Error("expected interval-days-passed to use calendar date subtraction, not raw duration")
	}
}

func TestSingleBatchStrategyReturnsSortedSingleBatch(t *testing.T) {
	batches := SingleBatchStrategy{}.SelectBatches([]int{5, 1, 3})
	if len(batches) != 1 {
		t.Fatalf("expected exactly one batch, got %d", len(batches))
	}
	want := []int{1, 3, 5}
	for i, id := range want {
		if batches[0][i] != id {
			t.Fatalf("expected sorted batch %v, got %v", want, batches[0])
		}
	}
}

func TestSingleBatchStrategyEmptyInput(t *testing.T) {
	if batches := (SingleBatchStrategy{}).SelectBatches(nil); batches != nil {
		t.Errorf("expected nil batches for no circuits, got %v", batches)
	}
}
