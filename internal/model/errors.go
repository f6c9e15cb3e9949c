package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfig is wrapped by every bootstrap validation failure; it is
// fatal, the node refuses to start.
var ErrConfig = errors.New("config error")

// ErrCancelObserved names an observed cancel token; it is not a failure.
// The circuit's execute loop does not return it: it reports cancellation
// directly as a STOPPED outcome.
var ErrCancelObserved = errors.New("cancel observed")

// ValveHardwareError is returned by the relay driver after exhausting its retry budget. It
// is caught in the circuit's finalize phase, flags the circuit faulty, and the
// irrigation outcome becomes FAILED.
type ValveHardwareError struct {
	Pin     int
	Target  RelayState
	Retries int
	Err     error
}

func (e *ValveHardwareError) Error() string {
	return fmt.Sprintf("relay pin %d: failed to reach state %s after %d attempts: %v", e.Pin, e.Target, e.Retries, e.Err)
}

func (e *ValveHardwareError) Unwrap() error { return e.Err }

// IllegalStateTransition is returned by the state manager when an event does not apply to a
// circuit's current state. It is a programmer error: logged,
// the snapshot is left unmutated, and the error is surfaced to the caller.
type IllegalStateTransition struct {
	CircuitID int
	From      CircuitState
	Event     string
}

func (e *IllegalStateTransition) Error() string {
	return fmt.Sprintf("circuit %d: event %q is not valid from state %s", e.CircuitID, e.Event, e.From)
}

// WorkerAlreadyExists is returned by the worker manager when a worker is already registered
// under the same (task type, key) pair. The command is
// rejected; no new worker or log entry is produced.
type WorkerAlreadyExists struct {
	TaskType TaskType
	Key      string
}

func (e *WorkerAlreadyExists) Error() string {
	return fmt.Sprintf("worker already exists: type=%s key=%s", e.TaskType, e.Key)
}

// WorkerStopTimeout is returned by the worker manager when a worker fails to join within its
// deadline. The controller transitions to ERROR.
type WorkerStopTimeout struct {
	TaskType TaskType
	Key      string
	Timeout  time.Duration
}

func (e *WorkerStopTimeout) Error() string {
	return fmt.Sprintf("worker type=%s key=%s failed to stop within %s", e.TaskType, e.Key, e.Timeout)
}

// PersistenceError is returned by the state manager on a disk-write failure. Writes are
// retried up to 3 times with exponential backoff before this escalates the
// controller to ERROR.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// WeatherFetchError is returned by a weather fetch on any fetch failure. It is always
// caught internally; callers never see it, the provider falls back to
// standard conditions.
type WeatherFetchError struct {
	Err error
}

func (e *WeatherFetchError) Error() string {
	return fmt.Sprintf("weather fetch failed: %v", e.Err)
}

func (e *WeatherFetchError) Unwrap() error { return e.Err }
