// Package worker implements the typed worker registry: one-per-key
// enforcement, bounded stop/join, and captured-exception reporting.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
)

var log = logging.New("worker-manager")

// DefaultJoinTimeout is the per-worker join cap: JoinAll waits at most
// this long for any single worker, independent of the aggregate
// deadline.
const DefaultJoinTimeout = 10 * time.Second

// Func is the body a worker runs. It must observe ctx.Done() promptly;
// the manager has no way to force-kill a goroutine, so cancellation is
// cooperative, observed at bounded intervals by the worker itself.
type Func func(ctx context.Context) error

// Handle identifies one running worker.
type Handle struct {
	TaskType     model.TaskType
	Key          string
	InvocationID string

	cancel context.CancelFunc
	done   chan struct{}
}

// entry is the manager's internal bookkeeping for one registered worker.
type entry struct {
	handle *Handle
}

// Manager is a typed worker registry. The zero value is not usable; use
// New.
type Manager struct {
	mu          sync.Mutex
	workers     map[string]*entry
	onException func(taskType model.TaskType, key string, err error)
}

// New returns an empty worker registry.
func New() *Manager {
	return &Manager{workers: make(map[string]*entry)}
}

// SetExceptionHandler registers the callback invoked when a worker's Func
// returns a non-nil error or panics.
func (m *Manager) SetExceptionHandler(fn func(taskType model.TaskType, key string, err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onException = fn
}

func registryKey(taskType model.TaskType, key string) string {
	return fmt.Sprintf("%s:%s", taskType, key)
}

// Wait blocks until the worker has finished and been deregistered, so a
// caller observing ActiveCount afterwards never sees this worker.
func (h *Handle) Wait() { <-h.done }

// Start spawns a worker identified by (taskType, key). onFinish, if
// non-nil, is always called exactly once when the worker completes
// (successfully, with an error, or after a panic), before the worker is
// deregistered.
func (m *Manager) Start(taskType model.TaskType, key string, fn Func, onFinish func(error)) (*Handle, error) {
	rk := registryKey(taskType, key)

	m.mu.Lock()
	if _, exists := m.workers[rk]; exists {
		m.mu.Unlock()
		return nil, &model.WorkerAlreadyExists{TaskType: taskType, Key: key}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		TaskType:     taskType,
		Key:          key,
		InvocationID: uuid.NewString(),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.workers[rk] = &entry{handle: h}
	m.mu.Unlock()

	go m.run(rk, h, ctx, fn, onFinish)

	return h, nil
}

func (m *Manager) run(rk string, h *Handle, ctx context.Context, fn Func, onFinish func(error)) {
	var runErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("worker panicked: %v", r)
			}
		}()
		runErr = fn(ctx)
	}()

	if runErr != nil {
		m.mu.Lock()
		handler := m.onException
		m.mu.Unlock()
		if handler != nil {
			handler(h.TaskType, h.Key, runErr)
		} else {
			log.Errorf("worker %s/%s (%s) returned an unhandled error: %v", h.TaskType, h.Key, h.InvocationID, runErr)
		}
	}

	if onFinish != nil {
		onFinish(runErr)
	}

	m.mu.Lock()
	delete(m.workers, rk)
	m.mu.Unlock()

	close(h.done)
}

// Stop signals cancellation for the worker at (taskType, key) and waits up
// to timeout for it to finish. It is a no-op if no such worker is running.
func (m *Manager) Stop(taskType model.TaskType, key string, timeout time.Duration) error {
	rk := registryKey(taskType, key)

	m.mu.Lock()
	e, exists := m.workers[rk]
	m.mu.Unlock()
	if !exists {
		return nil
	}

	e.handle.cancel()

	select {
	case <-e.handle.done:
		return nil
	case <-time.After(timeout):
		return &model.WorkerStopTimeout{TaskType: taskType, Key: key, Timeout: timeout}
	}
}

// ListActive returns a snapshot of running worker keys, optionally
// filtered by taskType (pass "" for all types).
func (m *Manager) ListActive(taskType model.TaskType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for _, e := range m.workers {
		if taskType == "" || e.handle.TaskType == taskType {
			keys = append(keys, e.handle.Key)
		}
	}
	return keys
}

// ActiveCount returns the number of currently registered workers of
// taskType (pass "" for all types). Used by the controller core to derive
// its state.
func (m *Manager) ActiveCount(taskType model.TaskType) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if taskType == "" {
		return len(m.workers)
	}
	count := 0
	for _, e := range m.workers {
		if e.handle.TaskType == taskType {
			count++
		}
	}
	return count
}

// JoinAll waits for every currently-registered worker of taskType (pass ""
// for all types) to finish, up to deadline across the whole call. Each
// worker is additionally bounded by DefaultJoinTimeout individually, so
// one stuck worker is detected within its own cap instead of consuming
// the entire aggregate budget. It does not itself signal cancellation;
// callers that want that must Stop/cancel first.
func (m *Manager) JoinAll(taskType model.TaskType, deadline time.Duration) error {
	m.mu.Lock()
	var handles []*Handle
	for _, e := range m.workers {
		if taskType == "" || e.handle.TaskType == taskType {
			handles = append(handles, e.handle)
		}
	}
	m.mu.Unlock()

	remaining := deadline
	for _, h := range handles {
		perWorker := DefaultJoinTimeout
		if remaining < perWorker {
			perWorker = remaining
		}

		start := time.Now()
		select {
		case <-h.done:
		case <-time.After(perWorker):
			return &model.WorkerStopTimeout{TaskType: h.TaskType, Key: h.Key, Timeout: perWorker}
		}
		remaining -= time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
	}
	return nil
}
