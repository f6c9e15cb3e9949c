package scheduler

import (
	"sync"
	"time"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
)

var autoLog = logging.New("auto-irrigation-service")

// AllowedTimeDriftSeconds is the ±window around scheduled_hour:
// scheduled_minute within which the daily tick still fires, so a
// scheduler tick landing a few seconds into the next minute does not
// miss the day's window.
const AllowedTimeDriftSeconds = 90

// AutoIrrigationService decides *whether* automatic irrigation should
// start, based on scheduled time, firing at most once per day. Runtime
// pause/resume is volatile and reverts to the configured flag on
// restart.
type AutoIrrigationService struct {
	onDemand func()

	mu             sync.Mutex
	automation     model.AutomationSettings
	runtimeEnabled bool
	lastTrigger    time.Time
}

// NewAutoIrrigationService returns a service that calls onDemand when the
// scheduled moment is reached. Runtime-enabled starts equal to
// automation.AutoEnabled.
func NewAutoIrrigationService(automation model.AutomationSettings, onDemand func()) *AutoIrrigationService {
	return &AutoIrrigationService{
		onDemand:       onDemand,
		automation:     automation,
		runtimeEnabled: automation.AutoEnabled,
	}
}

// IsRuntimeEnabled reports whether auto-irrigation is enabled at runtime
// (config enabled AND not paused).
func (a *AutoIrrigationService) IsRuntimeEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtimeEnabled
}

// Tick evaluates whether now falls within the scheduled window and, if
// so and it has not already fired today, invokes onDemand.
func (a *AutoIrrigationService) Tick(now time.Time) {
	a.mu.Lock()
	if !a.automation.AutoEnabled || !a.runtimeEnabled {
		a.mu.Unlock()
		return
	}
	if !a.isTimeToIrrigate(now) {
		a.mu.Unlock()
		return
	}
	a.lastTrigger = now
	a.mu.Unlock()

	autoLog.Debugf("scheduled time reached, triggering auto-irrigation demand")
	a.onDemand()
}

func (a *AutoIrrigationService) isTimeToIrrigate(now time.Time) bool {
	if !a.lastTrigger.IsZero() && isSameDay(a.lastTrigger, now) {
		return false
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), a.automation.ScheduledHour, a.automation.ScheduledMinute, 0, 0, now.Location())
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= AllowedTimeDriftSeconds*time.Second
}

// EnableRuntime re-enables auto-irrigation at runtime. No-op (with a
// WARN) if automation is disabled in config.
func (a *AutoIrrigationService) EnableRuntime() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.automation.AutoEnabled {
		autoLog.Warnf("cannot enable auto-irrigation at runtime: disabled in global configuration")
		return
	}
	a.runtimeEnabled = true
}

// DisableRuntime pauses auto-irrigation at runtime without touching
// config.
func (a *AutoIrrigationService) DisableRuntime() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeEnabled = false
}

func isSameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
