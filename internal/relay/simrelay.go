package relay

import (
	"fmt"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
)

var simLog = logging.New("relay-sim")

// SimRelay is the in-process simulated valve used by default and by
// every test: no real hardware, same retry and close-on-drop contract
// as the daemon-backed driver.
type SimRelay struct {
	baseRelay
	// FailNext, when set, makes the next SetState call fail every retry,
	// used by tests exercising the ValveHardwareError / FAILED path.
	FailNext bool
}

// NewSimRelay returns a simulated relay for the given pin, CLOSED.
func NewSimRelay(pin int) *SimRelay {
	return &SimRelay{baseRelay: newBaseRelay(pin)}
}

func (r *SimRelay) SetState(target model.RelayState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == target {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= MinRetries; attempt++ {
		if r.FailNext {
			lastErr = fmt.Errorf("simulated relay fault on pin %d", r.pin)
			continue
		}
		r.state = target
		return nil
	}

	r.FailNext = false
	return &model.ValveHardwareError{Pin: r.pin, Target: target, Retries: MinRetries, Err: lastErr}
}

func (r *SimRelay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == model.RelayClosed {
		return
	}
	// Best-effort: ignore FailNext here, a force-close must never raise.
	r.state = model.RelayClosed
	simLog.Debugf("pin %d force-closed", r.pin)
}
