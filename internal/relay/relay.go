// Package relay implements the valve relay driver: open/close one
// valve, hardware or simulated, with bounded retries and a best-effort
// force-close on shutdown.
package relay

import (
	"sync"

	"github.com/irrignode/controller/internal/model"
)

// MinRetries is the minimum retry count applied to a transient SetState
// failure.
const MinRetries = 3

// Relay commands one valve. The circuit owning a relay is its only
// caller; implementations still serialize SetState/Close behind the
// shared mutex so the shutdown path's force-close cannot race a late
// worker.
type Relay interface {
	// SetState applies target, retrying at least MinRetries times on
	// transient failure. Idempotent: calling with the current state
	// succeeds without re-issuing the underlying command.
	SetState(target model.RelayState) error
	// State returns the last known state.
	State() model.RelayState
	// Close forces the valve CLOSED on a best-effort basis and never
	// returns an error; it is the last line of defence when a run is
	// torn down.
	Close()
}

// baseRelay factors the state bookkeeping shared by every implementation.
type baseRelay struct {
	mu    sync.Mutex
	pin   int
	state model.RelayState
}

func newBaseRelay(pin int) baseRelay {
	return baseRelay{pin: pin, state: model.RelayClosed}
}

func (b *baseRelay) State() model.RelayState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
