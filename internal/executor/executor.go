// Package executor implements the irrigation executor: runs planned
// batches sequentially, spawning one worker per circuit via the thread
// manager, serializing lifecycle callbacks, and providing a bounded
// stop-all path.
package executor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/worker"
)

var log = logging.New("irrigation-executor")

// JoinDeadline bounds how long StopAll waits for every IRRIGATION
// worker to finish after cancellation.
const JoinDeadline = 30 * time.Second

// Manager is the thread-manager surface the executor needs.
type Manager interface {
	Start(taskType model.TaskType, key string, fn worker.Func, onFinish func(error)) (*worker.Handle, error)
	JoinAll(taskType model.TaskType, deadline time.Duration) error
}

// Callbacks are the lifecycle hooks registered with the executor
// : OnStart/OnFinish per circuit, OnFatal for unrecoverable
// conditions. OnStart and OnFinish are invoked through a single serialized
// dispatcher so the state manager observes a total order of transitions per circuit
// ; OnFatal is called directly, outside that dispatcher.
type Callbacks struct {
	OnStart  func(circuitID int)
	OnFinish func(circuitID int, result model.IrrigationResult)
	OnFatal  func(reason string)
}

// Executor runs batches sequentially, one IRRIGATION worker per circuit
// via Manager, dispatching Callbacks in a serialized order.
type Executor struct {
	workers Manager
	cb      Callbacks

	mu        sync.Mutex
	dispatch  sync.Mutex // serializes OnStart/OnFinish delivery
	stopEvent chan struct{}
	stopped   bool
}

// New returns an executor dispatching lifecycle events through cb.
func New(workers Manager, cb Callbacks) *Executor {
	return &Executor{
		workers:   workers,
		cb:        cb,
		stopEvent: make(chan struct{}),
	}
}

// StopEvent returns a channel closed once StopAll has been called, for
// workers (and callers outside this package, e.g. the controller) that
// need to observe it directly.
func (e *Executor) StopEvent() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopEvent
}

// RunBatches executes batches in order: within a batch, one IRRIGATION
// worker per circuit is started (ids ascending, guaranteed by the batch
// strategy); the next batch starts only after every worker in the prior
// batch has joined. runOne performs
// the actual irrigate+record call for one circuit id; it is supplied by
// the caller (the controller) since only it holds the concrete circuit
// registry, config and weather collaborators this package need not know
// about.
func (e *Executor) RunBatches(ctx context.Context, batches [][]int, runOne func(ctx context.Context, circuitID int) model.IrrigationResult) {
	batchID := uuid.NewString()
	log.Debugf("batch run %s: %d batches", batchID, len(batches))

	for bi, batch := range batches {
		for _, circuitID := range batch {
			cid := circuitID
			_, err := e.workers.Start(model.TaskIrrigation, workerKey(cid), func(ctx context.Context) error {
				ctx, cancel := e.linkStopEvent(ctx)
				defer cancel()
				e.dispatchStart(cid)
				result := runOne(ctx, cid)
				e.dispatchFinish(cid, result)
				return nil
			}, nil)
			if err != nil {
				log.Errorf("batch %s: failed to start worker for circuit %d: %v", batchID, cid, err)
			}
		}

		if err := e.workers.JoinAll(model.TaskIrrigation, JoinDeadline); err != nil {
			log.Errorf("batch %s (index %d) failed to join within deadline: %v", batchID, bi, err)
			if e.cb.OnFatal != nil {
				e.cb.OnFatal("irrigation batch join timeout")
			}
			return
		}
	}
}

// RunManual dispatches a manual irrigation as a single-element batch
// and blocks until it completes.
func (e *Executor) RunManual(ctx context.Context, circuitID int, run func(ctx context.Context) model.IrrigationResult) error {
	h, err := e.workers.Start(model.TaskIrrigation, workerKey(circuitID), func(ctx context.Context) error {
		ctx, cancel := e.linkStopEvent(ctx)
		defer cancel()
		e.dispatchStart(circuitID)
		result := run(ctx)
		e.dispatchFinish(circuitID, result)
		return nil
	}, nil)
	if err != nil {
		return err
	}

	// Waits past deregistration, so the caller's refresh never counts
	// this worker as still active.
	h.Wait()
	return nil
}

// StopAll signals the shared stop-event, closing it exactly once, and
// waits up to JoinDeadline for every IRRIGATION worker to join. If the
// deadline is exceeded, OnFatal fires and the controller goes to ERROR.
func (e *Executor) StopAll() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopEvent)
	e.mu.Unlock()

	if err := e.workers.JoinAll(model.TaskIrrigation, JoinDeadline); err != nil {
		log.Errorf("stop_all_irrigation exceeded join deadline: %v", err)
		if e.cb.OnFatal != nil {
			e.cb.OnFatal("stop_all join timeout")
		}
	}
}

// Reset clears the stop-event so a new cycle can be dispatched after a
// StopAll, once the caller has reconciled state back to IDLE.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.stopEvent = make(chan struct{})
		e.stopped = false
	}
}

// linkStopEvent derives a context cancelled when either the parent is
// cancelled or the stop-event current at worker start is signalled: this
// is the "cancel token linked to the executor's stop-event" every
// IRRIGATION worker holds.
func (e *Executor) linkStopEvent(ctx context.Context) (context.Context, context.CancelFunc) {
	stop := e.StopEvent()
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (e *Executor) dispatchStart(circuitID int) {
	e.dispatch.Lock()
	defer e.dispatch.Unlock()
	if e.cb.OnStart != nil {
		e.cb.OnStart(circuitID)
	}
}

func (e *Executor) dispatchFinish(circuitID int, result model.IrrigationResult) {
	e.dispatch.Lock()
	defer e.dispatch.Unlock()
	if e.cb.OnFinish != nil {
		e.cb.OnFinish(circuitID, result)
	}
}

func workerKey(circuitID int) string {
	return "circuit-" + strconv.Itoa(circuitID)
}
