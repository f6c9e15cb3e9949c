package status

import (
	"testing"

	"github.com/irrignode/controller/internal/model"
)

type stubRuntime struct {
	active map[int]model.CircuitRuntimeStatus
}

func (s stubRuntime) RuntimeStatus(id int) (model.CircuitRuntimeStatus, bool) {
	rt, ok := s.active[id]
	return rt, ok
}

type stubSnapshots struct {
	snaps map[int]model.CircuitSnapshot
}

func (s stubSnapshots) Get(id int) (model.CircuitSnapshot, bool) {
	snap, ok := s.snaps[id]
	return snap, ok
}

func TestGetCircuitStatusComposesRuntimeAndSnapshot(t *testing.T) {
	configs := []model.CircuitConfig{{ID: 1, Name: "front lawn"}}
	runtime := stubRuntime{active: map[int]model.CircuitRuntimeStatus{1: {CurrentVolume: 3.5}}}
	snaps := stubSnapshots{snaps: map[int]model.CircuitSnapshot{1: {ID: 1, CircuitState: model.CircuitIrrigating}}}

	agg := New(configs, runtime, snaps)
	volume := 10.0
	cs, err := agg.GetCircuitStatus(1, &volume)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Runtime == nil || cs.Runtime.CurrentVolume != 3.5 {
		t.Fatalf("expected active runtime status, got %+v", cs.Runtime)
	}
	if cs.Snapshot.CircuitState != model.CircuitIrrigating {
		t.Errorf("expected composed snapshot, got %+v", cs.Snapshot)
	}
	if cs.PlannedVolume == nil || *cs.PlannedVolume != 10.0 {
		t.Errorf("expected planned volume 10, got %v", cs.PlannedVolume)
	}
}

func TestGetCircuitStatusInactiveHasNilRuntime(t *testing.T) {
	configs := []model.CircuitConfig{{ID: 1}}
	agg := New(configs, stubRuntime{active: map[int]model.CircuitRuntimeStatus{}}, stubSnapshots{snaps: map[int]model.CircuitSnapshot{}})

	cs, err := agg.GetCircuitStatus(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cs.Runtime != nil {
		t.Errorf("expected nil runtime for inactive circuit, got %+v", cs.Runtime)
	}
}

func TestGetCircuitStatusUnknownIDErrors(t *testing.T) {
	agg := New(nil, stubRuntime{}, stubSnapshots{})
	if _, err := agg.GetCircuitStatus(99, nil); err == nil {
		t.Fatal("expected an error for an unknown circuit id")
	}
}

func TestGetAllStatusesOrdersByID(t *testing.T) {
	configs := []model.CircuitConfig{{ID: 3}, {ID: 1}, {ID: 2}}
	agg := New(configs, stubRuntime{active: map[int]model.CircuitRuntimeStatus{}}, stubSnapshots{snaps: map[int]model.CircuitSnapshot{}})

	statuses, err := agg.GetAllStatuses(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	for i, want := range []int{1, 2, 3} {
		if statuses[i].Config.ID != want {
			t.Fatalf("expected ascending circuit id order, got %v", statuses)
		}
	}
}
