// Package circuit implements the per-circuit irrigation run: owns one
// relay and its configuration, computes target volume/duration, and drives
// the relay through a timed, cancellable run while reporting live
// progress through its runtime status.
package circuit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/relay"
	"github.com/irrignode/controller/internal/weather"
)

// progressStep is the cancellation/progress-update granularity: the
// execute loop observes its cancel token and updates live progress once
// per step.
const progressStep = 1 * time.Second

// WeatherModel computes the weather-adjusted target volume for one run.
type WeatherModel interface {
	Compute(cfg model.CircuitConfig, observed, standard weather.Conditions, global model.CorrectionFactors, limits model.IrrigationLimits) weather.Result
}

// ConditionsProvider is the conditions provider's capability interface as seen by a circuit.
type ConditionsProvider interface {
	GetRecent(ctx context.Context, windowDays int) weather.Conditions
}

// Circuit owns one relay, its configuration, and its runtime status. At
// most one goroutine may call Irrigate on a given Circuit at a time;
// that exclusivity is enforced one layer up by the worker manager, not
// by Circuit itself.
type Circuit struct {
	Config model.CircuitConfig

	relay relay.Relay
	log   *logging.Logger

	mu      sync.RWMutex
	runtime model.CircuitRuntimeStatus
}

// New returns a circuit owning r, CLOSED, with no fault.
func New(cfg model.CircuitConfig, r relay.Relay) *Circuit {
	return &Circuit{
		Config: cfg,
		relay:  r,
		log:    logging.New(fmt.Sprintf("circuit-%d", cfg.ID)),
	}
}

// RuntimeStatus returns a copy of the circuit's current runtime status
// .
func (c *Circuit) RuntimeStatus() model.CircuitRuntimeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runtime
}

// CloseValve forces the relay closed, best-effort (used by shutdown/stop
// paths that need to guarantee a closed valve regardless of circuit
// state).
func (c *Circuit) CloseValve() {
	c.relay.Close()
}

// Irrigate runs one irrigation to completion and returns its result record
// . For mode=AUTO, requestedLiters is ignored and the volume is
// computed via wm/provider; for mode=MANUAL, requestedLiters must be > 0
// and at most global.Limits.MainValveMaxFlow liters (the configured safety
// cap). ctx is the cancel token: cancellation is observed at each
// progressStep tick.
func (c *Circuit) Irrigate(ctx context.Context, mode model.Mode, requestedLiters float64, global model.GlobalConfig, wm WeatherModel, provider ConditionsProvider) model.IrrigationResult {
	startTime := time.Now().UTC()

	if mode == model.ModeManual {
		if requestedLiters <= 0 {
			return model.IrrigationResult{
				CircuitID:    c.Config.ID,
				Success:      false,
				Outcome:      model.OutcomeFailed,
				StartTime:    startTime,
				TargetVolume: requestedLiters,
				ErrorMessage: "requested volume must be greater than 0",
			}
		}
		if max := global.Limits.MainValveMaxFlow; max > 0 && requestedLiters > max {
			return model.IrrigationResult{
				CircuitID:    c.Config.ID,
				Success:      false,
				Outcome:      model.OutcomeFailed,
				StartTime:    startTime,
				TargetVolume: requestedLiters,
				ErrorMessage: fmt.Sprintf("requested volume %.2f exceeds configured safety max %.2f", requestedLiters, max),
			}
		}
	}

	targetVolume, targetDuration, skip := c.plan(ctx, mode, requestedLiters, global, wm, provider)
	if skip {
		return model.IrrigationResult{
			CircuitID:      c.Config.ID,
			Success:        false,
			Outcome:        model.OutcomeSkipped,
			StartTime:      startTime,
			TargetDuration: 0,
			TargetVolume:   0,
		}
	}

	c.mu.Lock()
	c.runtime = model.CircuitRuntimeStatus{
		TargetVolume:   targetVolume,
		TargetDuration: targetDuration,
	}
	c.mu.Unlock()

	elapsed, outcome, faultReason := c.execute(ctx, targetDuration, targetVolume)

	return c.finalize(startTime, elapsed, targetDuration, targetVolume, outcome, faultReason)
}

// plan computes the target volume/duration for this run, or reports skip.
func (c *Circuit) plan(ctx context.Context, mode model.Mode, requestedLiters float64, global model.GlobalConfig, wm WeatherModel, provider ConditionsProvider) (volume float64, duration time.Duration, skip bool) {
	flow := c.Config.TotalFlowLPH()

	if mode == model.ModeManual {
		volume = requestedLiters
		return volume, volumeToDuration(volume, flow), false
	}

	observed := provider.GetRecent(ctx, c.Config.IntervalDays)
	standard := weather.Conditions{
		SolarTotal:         global.Standard.SolarTotal,
		TemperatureCelsius: global.Standard.TemperatureCelsius,
		RainfallMM:         global.Standard.RainfallMM,
	}
	result := wm.Compute(c.Config, observed, standard, global.Factors, global.Limits)
	if result.Skip {
		return 0, 0, true
	}
	return result.TargetVolume, volumeToDuration(result.TargetVolume, flow), false
}

// execute is the timed run loop.
func (c *Circuit) execute(ctx context.Context, targetDuration time.Duration, targetVolume float64) (elapsed time.Duration, outcome model.Outcome, faultReason string) {
	flow := c.Config.TotalFlowLPH()

	if err := c.relay.SetState(model.RelayOpen); err != nil {
		return 0, model.OutcomeFailed, err.Error()
	}

	ticker := time.NewTicker(progressStep)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.mu.RLock()
			lastElapsed := c.runtime.Elapsed
			c.mu.RUnlock()
			return lastElapsed, model.OutcomeStopped, ""
		case now := <-ticker.C:
			elapsed = now.Sub(start)
			if elapsed > targetDuration {
				elapsed = targetDuration
			}
			current := math.Min(durationToVolume(elapsed, flow), targetVolume)
			c.mu.Lock()
			c.runtime.Elapsed = elapsed
			c.runtime.CurrentVolume = current
			if targetDuration > 0 {
				c.runtime.ProgressPercent = 100 * float64(elapsed) / float64(targetDuration)
			}
			c.mu.Unlock()

			if elapsed >= targetDuration {
				return elapsed, model.OutcomeSuccess, ""
			}
		}
	}
}

// finalize closes the relay with its own bounded retries and builds the
// result record.
func (c *Circuit) finalize(startTime time.Time, elapsed, targetDuration time.Duration, targetVolume float64, outcome model.Outcome, faultReason string) model.IrrigationResult {
	c.mu.RLock()
	trackedVolume := c.runtime.CurrentVolume
	c.mu.RUnlock()

	if err := c.relay.SetState(model.RelayClosed); err != nil {
		c.mu.Lock()
		c.runtime.HasFault = true
		c.runtime.FaultReason = err.Error()
		c.mu.Unlock()
		outcome = model.OutcomeFailed
		faultReason = err.Error()
		c.log.Errorf("failed to close valve: %v", err)
	} else if faultReason != "" {
		c.mu.Lock()
		c.runtime.HasFault = true
		c.runtime.FaultReason = faultReason
		c.mu.Unlock()
	}

	actualVolume := targetVolume
	if outcome != model.OutcomeSuccess {
		actualVolume = trackedVolume
	}

	return model.IrrigationResult{
		CircuitID:         c.Config.ID,
		Success:           outcome == model.OutcomeSuccess,
		Outcome:           outcome,
		StartTime:         startTime,
		CompletedDuration: elapsed,
		TargetDuration:    targetDuration,
		ActualVolume:      actualVolume,
		TargetVolume:      targetVolume,
		ErrorMessage:      faultReason,
	}
}

// volumeToDuration converts a target liters figure at the given L/h flow
// to a whole-second duration, rounded to the nearest second with ties
// rounding up.
func volumeToDuration(liters, flowLPH float64) time.Duration {
	if flowLPH <= 0 {
		return 0
	}
	seconds := math.Floor(3600*liters/flowLPH + 0.5)
	return time.Duration(seconds) * time.Second
}

// durationToVolume is the inverse conversion, used for live progress and
// for reporting actual volume on early termination.
func durationToVolume(d time.Duration, flowLPH float64) float64 {
	hours := d.Seconds() / 3600
	return flowLPH * hours
}
