// Package controller implements the controller core: owns every
// other component, exposes the node's public operations, and
// derives ControllerState from worker activity, the executor's stop
// event, and a sticky error flag.
package controller

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/irrignode/controller/internal/circuit"
	"github.com/irrignode/controller/internal/executor"
	"github.com/irrignode/controller/internal/logging"
	"github.com/irrignode/controller/internal/metrics"
	"github.com/irrignode/controller/internal/model"
	"github.com/irrignode/controller/internal/planner"
	"github.com/irrignode/controller/internal/relay"
	"github.com/irrignode/controller/internal/scheduler"
	"github.com/irrignode/controller/internal/state"
	"github.com/irrignode/controller/internal/status"
	"github.com/irrignode/controller/internal/weather"
	"github.com/irrignode/controller/internal/worker"
)

var log = logging.New("controller-core")

// refreshInterval is the refresh_state task cadence.
const refreshInterval = 5 * time.Second

// weatherCacheRefreshInterval is the weather_cache_refresh task
// interval. The weather provider's own TTL governs staleness; this task
// just forces an eager refresh.
const weatherCacheRefreshInterval = 10 * time.Minute

// autoTickInterval is the scheduler's auto_irrigation_tick cadence.
const autoTickInterval = 1 * time.Minute

// ShutdownDeadline bounds how long Shutdown waits for the scheduler worker to
// stop. The executor's StopAll applies its own executor.JoinDeadline.
const ShutdownDeadline = 30 * time.Second

// weatherSimulatorSeed fixes the simulator's sequence so simulated
// conditions are reproducible across restarts.
const weatherSimulatorSeed = 42

// controllerStates lists every known ControllerState, for metrics.SetControllerState.
var controllerStates = []string{
	string(model.ControllerIdle),
	string(model.ControllerIrrigating),
	string(model.ControllerStopping),
	string(model.ControllerError),
}

// EventSink receives the controller's outbound events:
// per-circuit start/finish and controller state changes. Bridges
// register themselves with AddEventSink; delivery order follows the
// executor's serialized callback dispatcher, so a sink observes the same
// total order per circuit that the state manager does.
type EventSink interface {
	CircuitStarted(circuitID int)
	CircuitFinished(circuitID int, result model.IrrigationResult)
	StateChanged(state model.ControllerState)
}

// Controller owns every subsystem for one node process.
type Controller struct {
	global   model.GlobalConfig
	configs  []model.CircuitConfig
	circuits map[int]*circuit.Circuit

	weatherModel    *weather.Model
	weatherProvider *weather.Provider

	state    *state.Manager
	workers  *worker.Manager
	planner  *planner.Planner
	executor *executor.Executor
	sched    *scheduler.Scheduler
	auto     *scheduler.AutoIrrigationService
	agg      *status.Aggregator

	mu        sync.RWMutex
	ctrlState model.ControllerState
	errorFlag bool
	stopping  bool

	plannedMu sync.Mutex
	planned   map[int]float64

	sinkMu sync.Mutex
	sinks  []EventSink
}

// New builds a Controller from global/configs, wiring every subsystem.
// relays maps circuit id to the Relay driver to use for that circuit
// (tests inject SimRelay; production wiring injects ZMQRelay per
// configured pin). fetcher is the live weather client used when the
// simulator is not selected.
func New(global model.GlobalConfig, configs []model.CircuitConfig, stateDir string, relays map[int]relay.Relay, fetcher weather.Fetcher) (*Controller, error) {
	circuits := make(map[int]*circuit.Circuit, len(configs))
	for _, cfg := range configs {
		r, ok := relays[cfg.ID]
		if !ok {
			return nil, fmt.Errorf("no relay configured for circuit %d", cfg.ID)
		}
		circuits[cfg.ID] = circuit.New(cfg, r)
	}

	standard := weather.Conditions{
		SolarTotal:         global.Standard.SolarTotal,
		TemperatureCelsius: global.Standard.TemperatureCelsius,
		RainfallMM:         global.Standard.RainfallMM,
	}

	ttl := time.Duration(global.Weather.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	var provider *weather.Provider
	if global.Automation.UseWeatherSimulator && global.Automation.Environment != model.EnvironmentProduction {
		log.Debugf("using weather simulator as conditions provider")
		provider = weather.NewProvider(weather.NewSimulator(weatherSimulatorSeed), standard, ttl)
	} else {
		log.Debugf("using recent weather fetcher as conditions provider")
		provider = weather.NewProvider(fetcher, standard, ttl)
	}

	stateMgr := state.New(stateDir)
	if err := stateMgr.InitFromDisk(configs); err != nil {
		return nil, fmt.Errorf("init state manager: %w", err)
	}

	workers := worker.New()
	weatherModel := weather.NewModel()

	c := &Controller{
		global:          global,
		configs:         configs,
		circuits:        circuits,
		weatherModel:    weatherModel,
		weatherProvider: provider,
		state:           stateMgr,
		workers:         workers,
		ctrlState:       model.ControllerIdle,
		planned:         make(map[int]float64),
	}

	c.planner = planner.New(planner.SingleBatchStrategy{}, weatherModel, provider)
	c.executor = executor.New(workers, executor.Callbacks{
		OnStart:  c.onIrrigationStart,
		OnFinish: c.onIrrigationFinish,
		OnFatal:  c.onFatal,
	})
	c.sched = scheduler.New(workers)
	c.auto = scheduler.NewAutoIrrigationService(global.Automation, func() {
		if err := c.StartAutoCycle(); err != nil {
			log.Errorf("auto cycle dispatch failed: %v", err)
		}
	})
	c.agg = status.New(configs, c, stateMgr)

	if err := c.registerScheduledTasks(); err != nil {
		return nil, err
	}

	c.refreshState()
	return c, nil
}

func (c *Controller) registerScheduledTasks() error {
	if err := c.sched.Register("refresh_state", refreshInterval, func(ctx context.Context) {
		c.refreshState()
	}); err != nil {
		return err
	}
	if err := c.sched.Register("weather_cache_refresh", weatherCacheRefreshInterval, func(ctx context.Context) {
		maxInterval := 1
		for _, cfg := range c.configs {
			if cfg.IntervalDays > maxInterval {
				maxInterval = cfg.IntervalDays
			}
		}
		c.weatherProvider.GetRecent(ctx, maxInterval)
	}); err != nil {
		return err
	}
	if err := c.sched.Register("auto_irrigation_tick", autoTickInterval, func(ctx context.Context) {
		c.auto.Tick(time.Now().UTC())
	}); err != nil {
		return err
	}
	return nil
}

// Start spawns the background SCHEDULER worker.
func (c *Controller) Start() error {
	return c.sched.Start()
}

// RuntimeStatus implements status.RuntimeSource: a circuit's live runtime
// status is only meaningful while it has an active IRRIGATION worker.
func (c *Controller) RuntimeStatus(circuitID int) (model.CircuitRuntimeStatus, bool) {
	ckt, ok := c.circuits[circuitID]
	if !ok {
		return model.CircuitRuntimeStatus{}, false
	}
	if !c.isIrrigating(circuitID) {
		return model.CircuitRuntimeStatus{}, false
	}
	return ckt.RuntimeStatus(), true
}

func (c *Controller) isIrrigating(circuitID int) bool {
	key := workerKeyFor(circuitID)
	for _, active := range c.workers.ListActive(model.TaskIrrigation) {
		if active == key {
			return true
		}
	}
	return false
}

// StartAutoCycle enqueues a plan over every configured circuit and
// dispatches it to the executor. No-op if the controller
// is in ERROR.
func (c *Controller) StartAutoCycle() error {
	if c.State() == model.ControllerError {
		log.Warnf("start_auto_cycle rejected: controller is in ERROR")
		return fmt.Errorf("controller is in ERROR state")
	}

	ctx := context.Background()
	plan := c.planner.Plan(ctx, c.configs, c.state, c.global, time.Now().UTC())

	c.plannedMu.Lock()
	c.planned = make(map[int]float64, len(plan.Tasks))
	for id, task := range plan.Tasks {
		c.planned[id] = task.TargetVolume
	}
	c.plannedMu.Unlock()

	go func() {
		c.executor.RunBatches(ctx, plan.Batches, func(ctx context.Context, circuitID int) model.IrrigationResult {
			return c.runCircuit(ctx, circuitID, model.ModeAuto, 0)
		})
		c.refreshState()
	}()

	return nil
}

// ManualIrrigate dispatches a single-circuit MANUAL batch and blocks
// until it completes.
func (c *Controller) ManualIrrigate(circuitID int, liters float64) (model.IrrigationResult, error) {
	if c.State() == model.ControllerError {
		return model.IrrigationResult{}, fmt.Errorf("controller is in ERROR state")
	}
	if _, ok := c.circuits[circuitID]; !ok {
		return model.IrrigationResult{}, fmt.Errorf("circuit %d does not exist", circuitID)
	}

	var result model.IrrigationResult
	ctx := context.Background()
	err := c.executor.RunManual(ctx, circuitID, func(ctx context.Context) model.IrrigationResult {
		result = c.runCircuit(ctx, circuitID, model.ModeManual, liters)
		return result
	})
	c.refreshState()
	return result, err
}

// runCircuit drives one circuit's irrigation through its full state
// machine transitions and records the outcome with the state manager.
func (c *Controller) runCircuit(ctx context.Context, circuitID int, mode model.Mode, liters float64) model.IrrigationResult {
	ckt := c.circuits[circuitID]

	if mode == model.ModeAuto {
		if _, err := c.state.Transition(circuitID, state.EventScheduled); err != nil {
			log.Errorf("circuit %d: %v", circuitID, err)
		}
	}
	if _, err := c.state.Transition(circuitID, state.EventStart); err != nil {
		log.Errorf("circuit %d: %v", circuitID, err)
		return model.IrrigationResult{CircuitID: circuitID, Outcome: model.OutcomeFailed, ErrorMessage: err.Error()}
	}

	result := ckt.Irrigate(ctx, mode, liters, c.global, c.weatherModel, c.weatherProvider)

	if result.Outcome == model.OutcomeSkipped {
		if err := c.state.RecordResult(circuitID, result); err != nil {
			c.flagError(err)
		}
		return result
	}

	completionEvent := state.EventComplete
	switch result.Outcome {
	case model.OutcomeStopped:
		completionEvent = state.EventStop
	case model.OutcomeFailed:
		completionEvent = state.EventFault
	}

	if _, err := c.state.Transition(circuitID, completionEvent); err != nil {
		log.Errorf("circuit %d: %v", circuitID, err)
	}
	if err := c.state.RecordResult(circuitID, result); err != nil {
		c.flagError(err)
	}

	metrics.IrrigationDurationSeconds.WithLabelValues(string(result.Outcome)).Observe(result.CompletedDuration.Seconds())

	return result
}

// StopAllIrrigation invokes the executor's bounded stop-all and
// re-derives controller state.
func (c *Controller) StopAllIrrigation() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	c.executor.StopAll()
	c.executor.Reset()

	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()

	c.refreshState()
}

// PauseAuto/ResumeAuto expose the auto-irrigation service's volatile
// runtime pause.
func (c *Controller) PauseAuto()  { c.auto.DisableRuntime() }
func (c *Controller) ResumeAuto() { c.auto.EnableRuntime() }

// GetStatus returns one circuit's composed status.
func (c *Controller) GetStatus(circuitID int) (model.CircuitStatus, error) {
	c.plannedMu.Lock()
	volume, ok := c.planned[circuitID]
	c.plannedMu.Unlock()
	var planned *float64
	if ok {
		planned = &volume
	}
	return c.agg.GetCircuitStatus(circuitID, planned)
}

// GetAllStatuses returns every configured circuit's composed status.
func (c *Controller) GetAllStatuses() ([]model.CircuitStatus, error) {
	c.plannedMu.Lock()
	planned := make(map[int]float64, len(c.planned))
	for id, v := range c.planned {
		planned[id] = v
	}
	c.plannedMu.Unlock()
	return c.agg.GetAllStatuses(planned)
}

// GetStatusMessage returns the controller-wide text/structured status
// .
func (c *Controller) GetStatusMessage() model.StatusMessage {
	active := c.workers.ListActive(model.TaskIrrigation)
	ids := make([]int, 0, len(active))
	for _, key := range active {
		var id int
		if _, err := fmt.Sscanf(key, "circuit-%d", &id); err == nil {
			ids = append(ids, id)
		}
	}

	return model.StatusMessage{
		ControllerState: c.State(),
		AutoEnabled:     c.global.Automation.AutoEnabled,
		AutoPaused:      c.global.Automation.AutoEnabled && !c.auto.IsRuntimeEnabled(),
		Zones:           ids,
	}
}

// State returns the current derived controller state.
func (c *Controller) State() model.ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctrlState
}

// Shutdown stops the scheduler, stops all irrigation, closes every relay
// best-effort, and persists the final state through the state manager's
// Shutdown, which marks any snapshot still IRRIGATING or WAITING as
// SHUTDOWN.
func (c *Controller) Shutdown() error {
	if err := c.sched.Stop(ShutdownDeadline); err != nil {
		log.Errorf("scheduler stop exceeded deadline: %v", err)
	}

	c.executor.StopAll()

	for _, ckt := range c.circuits {
		ckt.CloseValve()
	}

	if err := c.state.Shutdown(); err != nil {
		log.Errorf("state manager shutdown failed: %v", err)
		return err
	}
	return nil
}

// RunUntilSignal blocks until SIGINT/SIGTERM is received, then calls
// Shutdown. SIGKILL cannot be caught; an unclean exit is repaired by
// InitFromDisk on the next start.
func (c *Controller) RunUntilSignal() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Debugf("received signal %v, shutting down", sig)
	return c.Shutdown()
}

// AddEventSink registers a bridge (or any other subscriber) for the
// controller's outbound events. Safe to call before Start;
// registration after workers are already running may miss in-flight
// events.
func (c *Controller) AddEventSink(s EventSink) {
	c.sinkMu.Lock()
	c.sinks = append(c.sinks, s)
	c.sinkMu.Unlock()
}

func (c *Controller) eachSink(fn func(EventSink)) {
	c.sinkMu.Lock()
	sinks := make([]EventSink, len(c.sinks))
	copy(sinks, c.sinks)
	c.sinkMu.Unlock()
	for _, s := range sinks {
		fn(s)
	}
}

func (c *Controller) onIrrigationStart(circuitID int) {
	c.refreshState()
	c.eachSink(func(s EventSink) { s.CircuitStarted(circuitID) })
}

func (c *Controller) onIrrigationFinish(circuitID int, result model.IrrigationResult) {
	c.refreshState()
	c.eachSink(func(s EventSink) { s.CircuitFinished(circuitID, result) })
}

func (c *Controller) onFatal(reason string) {
	log.Errorf("executor reported a fatal condition: %s", reason)
	c.flagError(fmt.Errorf("%s", reason))
}

func (c *Controller) flagError(err error) {
	log.Errorf("controller entering ERROR state: %v", err)
	c.mu.Lock()
	c.errorFlag = true
	c.mu.Unlock()
	c.refreshState()
}

// refreshState re-derives ControllerState from active IRRIGATION worker
// count, the stopping flag, and the sticky error flag. The derivation is
// atomic under c.mu.
func (c *Controller) refreshState() {
	active := c.workers.ActiveCount(model.TaskIrrigation)

	c.mu.Lock()
	prev := c.ctrlState
	switch {
	case c.errorFlag:
		c.ctrlState = model.ControllerError
	case c.stopping:
		c.ctrlState = model.ControllerStopping
	case active > 0:
		c.ctrlState = model.ControllerIrrigating
	default:
		c.ctrlState = model.ControllerIdle
	}
	next := c.ctrlState
	c.mu.Unlock()

	metrics.ActiveIrrigationWorkers.Set(float64(active))
	metrics.SetControllerState(controllerStates, string(next))

	if next != prev {
		c.eachSink(func(s EventSink) { s.StateChanged(next) })
	}
}

func workerKeyFor(circuitID int) string {
	return fmt.Sprintf("circuit-%d", circuitID)
}
