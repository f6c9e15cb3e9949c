// Package status implements the status aggregator: composing a
// circuit's live runtime status (when active), its durable snapshot, and
// any volume planned for it today into one CircuitStatus view.
package status

import (
	"fmt"
	"sort"

	"github.com/irrignode/controller/internal/model"
)

// RuntimeSource is the subset of circuit registry access the aggregator
// needs: runtime status by id, and whether that circuit currently has an
// active irrigation worker; runtime data is only meaningful while a
// worker is active.
type RuntimeSource interface {
	RuntimeStatus(circuitID int) (model.CircuitRuntimeStatus, bool)
}

// SnapshotSource is the state manager's capability interface as seen by the aggregator.
type SnapshotSource interface {
	Get(circuitID int) (model.CircuitSnapshot, bool)
}

// Aggregator composes runtime + durable + planned data into CircuitStatus
// values.
type Aggregator struct {
	configs map[int]model.CircuitConfig
	runtime RuntimeSource
	state   SnapshotSource
}

// New returns an aggregator over configs, reading live data from runtime
// and state on demand.
func New(configs []model.CircuitConfig, runtime RuntimeSource, state SnapshotSource) *Aggregator {
	byID := make(map[int]model.CircuitConfig, len(configs))
	for _, c := range configs {
		byID[c.ID] = c
	}
	return &Aggregator{configs: byID, runtime: runtime, state: state}
}

// GetCircuitStatus composes the status for one circuit. plannedVolume
// is nil if no plan has been computed for this circuit today.
func (a *Aggregator) GetCircuitStatus(circuitID int, plannedVolume *float64) (model.CircuitStatus, error) {
	cfg, ok := a.configs[circuitID]
	if !ok {
		return model.CircuitStatus{}, fmt.Errorf("circuit id %d not found", circuitID)
	}

	snap, _ := a.state.Get(circuitID)

	var runtimePtr *model.CircuitRuntimeStatus
	if rt, active := a.runtime.RuntimeStatus(circuitID); active {
		runtimePtr = &rt
	}

	return model.CircuitStatus{
		Config:        cfg,
		Snapshot:      snap,
		Runtime:       runtimePtr,
		PlannedVolume: plannedVolume,
	}, nil
}

// GetAllStatuses composes every configured circuit's status, ordered by
// circuit id.
func (a *Aggregator) GetAllStatuses(plannedVolumes map[int]float64) ([]model.CircuitStatus, error) {
	ids := make([]int, 0, len(a.configs))
	for id := range a.configs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]model.CircuitStatus, 0, len(ids))
	for _, id := range ids {
		var planned *float64
		if v, ok := plannedVolumes[id]; ok {
			planned = &v
		}
		cs, err := a.GetCircuitStatus(id, planned)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}
