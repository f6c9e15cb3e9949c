// Package state implements the circuit state manager: durable
// per-circuit snapshots in zones_state.json, an append-only
// irrigation_log.json, the per-circuit state machine transitions, and
// unclean-shutdown recovery.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/metrics"
	"github.com/irrignode/controller/internal/model"
)

var log = logging.New("state-manager")

// zonesFile is the on-disk shape of zones_state.json.
type zonesFile struct {
	LastUpdated time.Time               `json:"last_updated"`
	Circuits    []model.CircuitSnapshot `json:"circuits"`
}

// Manager persists zones_state.json and appends irrigation_log.json. All
// mutation goes through a single per-manager mutex.
type Manager struct {
	stateFile string
	logFile   string

	mu        sync.Mutex
	snapshots map[int]model.CircuitSnapshot
	order     []int // circuit id insertion order, for deterministic writes
}

// New returns a manager that will persist to the given directory's
// zones_state.json and irrigation_log.json. Call InitFromDisk before use.
func New(dir string) *Manager {
	return &Manager{
		stateFile: filepath.Join(dir, "zones_state.json"),
		logFile:   filepath.Join(dir, "irrigation_log.json"),
		snapshots: make(map[int]model.CircuitSnapshot),
	}
}

// InitFromDisk loads zones_state.json (if present and valid), creates a
// fresh snapshot for any configured circuit missing from the file, and
// recovers any snapshot left in IRRIGATING from an unclean shutdown.
func (m *Manager) InitFromDisk(configs []model.CircuitConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.loadLocked()
	if err != nil {
		log.Warnf("rebuilding state from config: %v", err)
		existing = map[int]model.CircuitSnapshot{}
	}

	now := time.Now().UTC()
	var recovered []int

	for _, cfg := range configs {
		snap, ok := existing[cfg.ID]
		if !ok {
			snap = freshSnapshot(cfg, now)
		}

		if snap.CircuitState == model.CircuitIrrigating {
			recovered = append(recovered, cfg.ID)
			result := model.IrrigationResult{
				CircuitID: cfg.ID,
				Success:   false,
				Outcome:   model.OutcomeInterrupted,
				StartTime: now,
			}
			if err := m.appendLogLocked(result); err != nil {
				log.Errorf("failed to append interrupted record for circuit %d: %v", cfg.ID, err)
			}
			snap.LastOutcome = model.OutcomeInterrupted
			snap.LastIrrigation = &now
			snap.LastDuration = 0
			snap.LastVolume = 0
			snap.LastDecision = &now
		}

		snap.CircuitState = idleOrDisabled(cfg)
		m.setLocked(snap)
	}

	if len(recovered) > 0 {
		log.Warnf("unclean shutdown detected, recovered circuits: %v", recovered)
	}

	return m.saveLocked()
}

func freshSnapshot(cfg model.CircuitConfig, now time.Time) model.CircuitSnapshot {
	return model.CircuitSnapshot{
		ID:           cfg.ID,
		CircuitState: idleOrDisabled(cfg),
	}
}

func idleOrDisabled(cfg model.CircuitConfig) model.CircuitState {
	if !cfg.Enabled {
		return model.CircuitDisabled
	}
	return model.CircuitIdle
}

// Get returns a copy of the current snapshot for circuitID.
func (m *Manager) Get(circuitID int) (model.CircuitSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[circuitID]
	return snap.Clone(), ok
}

// All returns a copy of every known snapshot, keyed by circuit id.
func (m *Manager) All() map[int]model.CircuitSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]model.CircuitSnapshot, len(m.snapshots))
	for id, s := range m.snapshots {
		out[id] = s.Clone()
	}
	return out
}

// Event names the per-circuit state machine transitions.
type Event string

const (
	EventConfigEnabled   Event = "config_enabled"
	EventConfigDisabled  Event = "config_disabled"
	EventScheduled       Event = "scheduled"
	EventSkipDecision    Event = "skip_decision"
	EventStart           Event = "start"
	EventCancelOrTimeout Event = "cancel_or_timeout"
	EventComplete        Event = "complete"
	EventStop            Event = "stop"
	EventInterrupt       Event = "interrupt"
	EventFault           Event = "fault"
	EventShutdown        Event = "shutdown"
)

// transitions is the legal (from, event) -> to table. Outcomes associated
// with a transition are applied by the caller via RecordResult/
// RecordDecision, not here; Transition only moves circuit_state.
var transitions = map[model.CircuitState]map[Event]model.CircuitState{
	model.CircuitDisabled: {
		EventConfigEnabled: model.CircuitIdle,
		EventShutdown:      model.CircuitShutdown,
	},
	model.CircuitIdle: {
		EventConfigDisabled: model.CircuitDisabled,
		EventScheduled:      model.CircuitWaiting,
		EventSkipDecision:   model.CircuitIdle,
		EventStart:          model.CircuitIrrigating,
		EventShutdown:       model.CircuitShutdown,
	},
	model.CircuitWaiting: {
		EventStart:           model.CircuitIrrigating,
		EventCancelOrTimeout: model.CircuitIdle,
		EventShutdown:        model.CircuitShutdown,
	},
	model.CircuitIrrigating: {
		EventComplete:  model.CircuitIdle,
		EventStop:      model.CircuitIdle,
		EventInterrupt: model.CircuitIdle,
		EventFault:     model.CircuitIdle,
		EventShutdown:  model.CircuitShutdown,
	},
}

// Transition applies event to circuitID's state machine, returning the
// resulting snapshot. Illegal transitions are rejected without mutation
// .
func (m *Manager) Transition(circuitID int, event Event) (model.CircuitSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[circuitID]
	if !ok {
		return model.CircuitSnapshot{}, &model.IllegalStateTransition{CircuitID: circuitID, Event: string(event)}
	}

	next, ok := transitions[snap.CircuitState][event]
	if !ok {
		err := &model.IllegalStateTransition{CircuitID: circuitID, From: snap.CircuitState, Event: string(event)}
		log.Errorf("%v", err)
		return snap.Clone(), err
	}

	snap.CircuitState = next
	m.setLocked(snap)
	if err := m.saveLocked(); err != nil {
		log.Errorf("failed to persist transition for circuit %d: %v", circuitID, err)
	}
	return snap.Clone(), nil
}

// RecordDecision updates only last_decision for circuitID.
func (m *Manager) RecordDecision(circuitID int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[circuitID]
	if !ok {
		return fmt.Errorf("record decision: circuit %d has no snapshot", circuitID)
	}
	t := now.UTC()
	snap.LastDecision = &t
	m.setLocked(snap)
	return m.saveLocked()
}

// RecordResult updates last_outcome/last_irrigation/last_duration/
// last_volume from result and appends it to the irrigation log. For
// outcome=SKIPPED, the prior real-irrigation values are preserved.
func (m *Manager) RecordResult(circuitID int, result model.IrrigationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[circuitID]
	if !ok {
		return fmt.Errorf("record result: circuit %d has no snapshot", circuitID)
	}

	snap.LastOutcome = result.Outcome
	if result.Outcome != model.OutcomeSkipped {
		start := result.StartTime.UTC()
		snap.LastIrrigation = &start
		snap.LastDuration = result.CompletedDuration
		snap.LastVolume = result.ActualVolume
	}
	m.setLocked(snap)

	if err := m.appendLogLocked(result); err != nil {
		return err
	}
	return m.saveLocked()
}

// Shutdown transitions every IRRIGATING/WAITING snapshot to SHUTDOWN and
// performs a final save.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, snap := range m.snapshots {
		if snap.CircuitState == model.CircuitIrrigating || snap.CircuitState == model.CircuitWaiting {
			snap.CircuitState = model.CircuitShutdown
			m.setLocked(snap)
		}
		_ = id
	}
	return m.saveLocked()
}

func (m *Manager) setLocked(snap model.CircuitSnapshot) {
	if _, exists := m.snapshots[snap.ID]; !exists {
		m.order = append(m.order, snap.ID)
	}
	m.snapshots[snap.ID] = snap
}

// loadLocked reads zones_state.json. An empty, missing, or corrupt file
// is treated as "no prior state" and triggers a WARN-logged rebuild from
// config.
func (m *Manager) loadLocked() (map[int]model.CircuitSnapshot, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no existing state file")
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("state file is empty")
	}

	var zf zonesFile
	if err := json.Unmarshal(data, &zf); err != nil {
		return nil, fmt.Errorf("state file is corrupt: %w", err)
	}

	out := make(map[int]model.CircuitSnapshot, len(zf.Circuits))
	for _, c := range zf.Circuits {
		out[c.ID] = c
		m.order = append(m.order, c.ID)
	}
	return out, nil
}

// saveLocked writes the full snapshot set atomically (write-temp +
// rename) and retries transient failures with exponential backoff before
// surfacing a PersistenceError.
func (m *Manager) saveLocked() error {
	zf := zonesFile{LastUpdated: time.Now().UTC()}
	for _, id := range m.order {
		zf.Circuits = append(zf.Circuits, m.snapshots[id])
	}

	data, err := json.MarshalIndent(zf, "", "  ")
	if err != nil {
		return &model.PersistenceError{Op: "marshal zones_state.json", Err: err}
	}

	op := func() error { return atomicWrite(m.stateFile, data) }
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	notify := func(err error, d time.Duration) { metrics.PersistenceRetriesTotal.Inc() }
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return &model.PersistenceError{Op: "write zones_state.json", Err: err}
	}
	return nil
}

// appendLogLocked appends result to irrigation_log.json, which is a
// single JSON array rewritten atomically each time.
func (m *Manager) appendLogLocked(result model.IrrigationResult) error {
	var entries []model.IrrigationResult

	if data, err := os.ReadFile(m.logFile); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			log.Warnf("irrigation log is corrupt, starting a fresh log: %v", err)
			entries = nil
		}
	}

	entries = append(entries, result)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &model.PersistenceError{Op: "marshal irrigation_log.json", Err: err}
	}

	op := func() error { return atomicWrite(m.logFile, data) }
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	notify := func(err error, d time.Duration) { metrics.PersistenceRetriesTotal.Inc() }
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return &model.PersistenceError{Op: "append irrigation_log.json", Err: err}
	}
	return nil
}

// atomicWrite writes data to a temp file in the same directory as path
// and renames it into place, so a crash mid-write never leaves a
// truncated or partially-written file behind.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
