// Package planner implements the batch strategy and task planner
// : selecting which circuits are due for irrigation today, excluding
// those the weather model skips, and grouping the remainder into ordered
// execution batches.
package planner

import (
	"context"
	"sort"
	"time"

	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/weather"
)

// BatchStrategy groups a set of planned circuit ids into ordered
// execution batches. Concrete strategies are injected at construction.
type BatchStrategy interface {
	SelectBatches(circuitIDs []int) [][]int
}

// SingleBatchStrategy is the default strategy: every selected circuit
// runs in one parallel batch.
type SingleBatchStrategy struct{}

// SelectBatches implements BatchStrategy.
func (SingleBatchStrategy) SelectBatches(circuitIDs []int) [][]int {
	if len(circuitIDs) == 0 {
		return nil
	}
	sorted := append([]int(nil), circuitIDs...)
	sort.Ints(sorted)
	return [][]int{sorted}
}

// FlowCappedStrategy is a declared, deliberately unwired extension point
// for a future strategy that would cap concurrent batches by aggregate
// flow against GlobalConfig.Limits.MainValveMaxFlow. max_flow_monitoring
// is declared non-functional; left unimplemented on purpose, see
// DESIGN.md.
type FlowCappedStrategy struct{}

// WeatherModel is the weather model's capability interface as seen by the planner.
type WeatherModel interface {
	Compute(cfg model.CircuitConfig, observed, standard weather.Conditions, global model.CorrectionFactors, limits model.IrrigationLimits) weather.Result
}

// ConditionsProvider is the conditions provider's capability interface as seen by the planner.
type ConditionsProvider interface {
	GetRecent(ctx context.Context, windowDays int) weather.Conditions
}

// SnapshotSource is the subset of the state manager the planner
// needs: the durable snapshot and a way to record a skip decision.
type SnapshotSource interface {
	Get(circuitID int) (model.CircuitSnapshot, bool)
	RecordResult(circuitID int, result model.IrrigationResult) error
	RecordDecision(circuitID int, now time.Time) error
}

// PlannedState is a task's position within one planning cycle.
type PlannedState string

const (
	PlannedPending PlannedState = "PENDING"
	PlannedReady   PlannedState = "READY"
	PlannedRunning PlannedState = "RUNNING"
	PlannedDone    PlannedState = "DONE"
)

// PlannedTask is one circuit's position within the current plan.
type PlannedTask struct {
	CircuitID    int
	State        PlannedState
	TargetVolume float64
}

// Plan is the result of one planning cycle: an ordered list of batches,
// each a list of circuit ids, plus per-circuit task bookkeeping
// (MarkRunning/MarkDone). The executor receives only Batches and does not
// update Tasks.
type Plan struct {
	Batches []([]int)
	Tasks   map[int]*PlannedTask
}

// NextBatch returns the batch at index i, or nil, false if i is out of
// range. Index-driven, so the caller holds the iteration state; the
// executor ranges over Batches directly and does not call it.
func (p *Plan) NextBatch(i int) ([]int, bool) {
	if i < 0 || i >= len(p.Batches) {
		return nil, false
	}
	return p.Batches[i], true
}

// MarkRunning transitions a task to RUNNING.
func (p *Plan) MarkRunning(circuitID int) {
	if t, ok := p.Tasks[circuitID]; ok {
		t.State = PlannedRunning
	}
}

// MarkDone transitions a task to DONE.
func (p *Plan) MarkDone(circuitID int) {
	if t, ok := p.Tasks[circuitID]; ok {
		t.State = PlannedDone
	}
}

// Planner chooses circuits needing irrigation today and delegates
// batching to a BatchStrategy.
type Planner struct {
	strategy BatchStrategy
	wm       WeatherModel
	provider ConditionsProvider
}

// New returns a planner using strategy for batching.
func New(strategy BatchStrategy, wm WeatherModel, provider ConditionsProvider) *Planner {
	return &Planner{strategy: strategy, wm: wm, provider: provider}
}

// Plan selects, from configs, every enabled circuit due for irrigation
// (interval days elapsed, or never irrigated), pre-computes its planned
// volume via the weather model, excludes any circuit the weather model reports as
// SKIPPED (recording that decision through snapshots), and hands the
// remainder to the batch strategy. now is passed in rather
// than read from time.Now so planning is deterministic under test.
func (p *Planner) Plan(ctx context.Context, configs []model.CircuitConfig, snapshots SnapshotSource, global model.GlobalConfig, now time.Time) Plan {
	var due []model.CircuitConfig
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		snap, _ := snapshots.Get(cfg.ID)
		if intervalElapsed(snap.LastIrrigation, cfg.IntervalDays, now) {
			due = append(due, cfg)
		}
	}

	var selected []int
	tasks := make(map[int]*PlannedTask, len(due))

	for _, cfg := range due {
		_ = snapshots.RecordDecision(cfg.ID, now)

		observed := p.provider.GetRecent(ctx, cfg.IntervalDays)
		standard := weather.Conditions{
			SolarTotal:         global.Standard.SolarTotal,
			TemperatureCelsius: global.Standard.TemperatureCelsius,
			RainfallMM:         global.Standard.RainfallMM,
		}
		result := p.wm.Compute(cfg, observed, standard, global.Factors, global.Limits)

		if result.Skip {
			_ = snapshots.RecordResult(cfg.ID, model.IrrigationResult{
				CircuitID: cfg.ID,
				Success:   false,
				Outcome:   model.OutcomeSkipped,
				StartTime: now,
			})
			continue
		}

		selected = append(selected, cfg.ID)
		tasks[cfg.ID] = &PlannedTask{CircuitID: cfg.ID, State: PlannedPending, TargetVolume: result.TargetVolume}
	}

	return Plan{
		Batches: p.strategy.SelectBatches(selected),
		Tasks:   tasks,
	}
}

// intervalElapsed reports whether cfg's interval has passed since
// lastIrrigation, measured in whole days via date subtraction, not a raw
// duration subtraction: a run late yesterday evening still counts as one
// day ago this morning.
func intervalElapsed(lastIrrigation *time.Time, intervalDays int, now time.Time) bool {
	if lastIrrigation == nil {
		return true
	}
	last := lastIrrigation.UTC()
	nowUTC := now.UTC()
	lastDate := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	nowDate := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	return nowDate.Sub(lastDate) >= time.Duration(intervalDays)*24*time.Hour
}
