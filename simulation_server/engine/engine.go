// Package engine drives the simulation: the tick scheduler, the
// per-character behaviour state machine, stat decay, LLM task management,
// and snapshot fan-out to observers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/convo"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/llm"
	"github.com/avasek/townsim/simulation_server/store"
	"github.com/avasek/townsim/simulation_server/world"
)

type LifecycleState int

const (
	StateUninitialized LifecycleState = iota
	StateInitialized
	StateRunning
	StateStopped
)

// DeciderMode selects exactly one decision path; rule-based and LLM outputs
// are never mixed within a tick.
type DeciderMode string

const (
	DeciderRules DeciderMode = "rules"
	DeciderLLM   DeciderMode = "llm"
)

type Config struct {
	// TickRate is real time per tick.
	TickRate time.Duration
	// MinutesPerTick is how many world minutes each tick advances.
	MinutesPerTick int
	// MovementSpeed is pixels per real second.
	MovementSpeed float64
	// DecayRates are per-world-minute stat losses.
	DecayRates map[string]float64
	// DecisionCooldownMinutes is the minimum world time between Deciding
	// entries for a character.
	DecisionCooldownMinutes int

	DeciderMode   DeciderMode
	NearbyMapHops int

	Backoff     llm.Backoff
	PausePolicy llm.PausePolicy

	MiniEpisodeProbability float64
}

func (c *Config) fillDefaults() {
	if c.TickRate <= 0 {
		c.TickRate = time.Second
	}
	if c.MinutesPerTick <= 0 {
		c.MinutesPerTick = 1
	}
	if c.MovementSpeed <= 0 {
		c.MovementSpeed = 120
	}
	if c.DecayRates == nil {
		c.DecayRates = map[string]float64{
			world.StatSatiety: 0.1,
			world.StatEnergy:  0.07,
			world.StatHygiene: 0.05,
			world.StatMood:    0.02,
			world.StatBladder: 0.15,
		}
	}
	if c.DecisionCooldownMinutes <= 0 {
		c.DecisionCooldownMinutes = 5
	}
	if c.DeciderMode == "" {
		c.DeciderMode = DeciderRules
	}
	if c.NearbyMapHops <= 0 {
		c.NearbyMapHops = 3
	}
}

// Deps are the collaborators injected at construction. There are no global
// singletons; the composition root owns the lifecycle.
type Deps struct {
	Log          *slog.Logger
	Executor     *action.Executor
	Decider      decide.Decider
	RuleFallback *decide.RuleBased
	Convo        *convo.Orchestrator
	Store        store.StateStore
	Webhook      *llm.WebhookNotifier
	// Gateway backs mini-episode generation; nil disables episodes.
	Gateway llm.Gateway
	// DefaultSchedules seed each character's day on rollover.
	DefaultSchedules map[string][]world.ScheduleEntry
	// Rand drives mini-episode probability; nil uses a time-seeded source.
	Rand *rand.Rand
}

// Engine owns the WorldState. All mutations happen in the tick scope; LLM
// calls run as background tasks whose results are drained at the start of
// the next tick.
type Engine struct {
	cfg  Config
	log  *slog.Logger
	maps map[string]*world.Map

	executor     *action.Executor
	decider      decide.Decider
	ruleFallback *decide.RuleBased
	convo        *convo.Orchestrator
	store        store.StateStore
	webhook      *llm.WebhookNotifier
	gateway      llm.Gateway
	failures     *llm.FailureTracker
	rng          *rand.Rand

	mu sync.Mutex
	ws *world.WorldState

	lifecycle LifecycleState
	running   bool

	schedules        map[string]*world.Schedule
	defaultSchedules map[string][]world.ScheduleEntry
	cooldownUntil    map[string]world.WorldTime
	failStreak       map[string]int
	inflight         map[string]bool

	results chan asyncResult
	tickLogs []world.ActivityLogEntry

	nextSubID int
	stateSubs map[int]func(*world.WorldState)
	logSubs   map[int]func(world.ActivityLogEntry)

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	cfg.fillDefaults()

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:              cfg,
		log:              log,
		executor:         deps.Executor,
		decider:          deps.Decider,
		ruleFallback:     deps.RuleFallback,
		convo:            deps.Convo,
		store:            deps.Store,
		webhook:          deps.Webhook,
		gateway:          deps.Gateway,
		failures:         &llm.FailureTracker{},
		rng:              rng,
		schedules:        map[string]*world.Schedule{},
		defaultSchedules: deps.DefaultSchedules,
		cooldownUntil:    map[string]world.WorldTime{},
		failStreak:       map[string]int{},
		inflight:         map[string]bool{},
		results:          make(chan asyncResult, 256),
		stateSubs:        map[int]func(*world.WorldState){},
		logSubs:          map[int]func(world.ActivityLogEntry){},
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Initialize installs the maps and world state. It is idempotent: calling it
// again on an initialized engine is a no-op.
func (e *Engine) Initialize(maps map[string]*world.Map, ws *world.WorldState) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lifecycle != StateUninitialized {
		return e
	}

	e.maps = maps
	e.ws = ws
	for id := range ws.Characters {
		e.schedules[id] = e.scheduleForDayLocked(id, ws.Time.Day)
	}
	e.lifecycle = StateInitialized
	return e
}

// Start begins tick emission. It requires a non-empty map set and at least
// one character.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.lifecycle {
	case StateUninitialized:
		return fmt.Errorf("engine is not initialized")
	case StateStopped:
		return fmt.Errorf("engine is stopped")
	case StateRunning:
		return nil
	}

	if len(e.maps) == 0 {
		return fmt.Errorf("cannot start with no maps")
	}
	if len(e.ws.Characters) == 0 {
		return fmt.Errorf("cannot start with no characters")
	}

	e.lifecycle = StateRunning
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.tickLoop(e.stopCh, e.doneCh)

	e.log.Info("engine_start", slog.String("type", "lifecycle"))
	return nil
}

// Stop halts tick emission, cancels all in-flight LLM tasks, and discards
// their results.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.lifecycle = StateStopped
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	<-doneCh

	e.cancel()
	e.wg.Wait()

	// Drain and discard whatever the cancelled tasks produced.
	for {
		select {
		case <-e.results:
		default:
			e.log.Info("engine_stop", slog.String("type", "lifecycle"))
			return
		}
	}
}

func (e *Engine) Pause() {
	e.setPaused(true)
}

func (e *Engine) Unpause() {
	e.setPaused(false)
}

func (e *Engine) TogglePause() {
	e.mu.Lock()
	paused := !e.ws.IsPaused
	e.mu.Unlock()
	e.setPaused(paused)
}

func (e *Engine) setPaused(paused bool) {
	e.mu.Lock()
	if e.ws.IsPaused == paused {
		e.mu.Unlock()
		return
	}
	e.ws.IsPaused = paused
	snap := e.ws.Snapshot()
	subs := e.stateSubsLocked()
	e.mu.Unlock()

	e.log.Info("engine_pause_change", slog.String("type", "lifecycle"), slog.Bool("paused", paused))
	for _, cb := range subs {
		cb(snap)
	}
}

func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ws.IsPaused
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) TickRate() time.Duration {
	return e.cfg.TickRate
}

// ConsecutiveFailures exposes the LLM failure counter for diagnostics.
func (e *Engine) ConsecutiveFailures() int {
	return e.failures.Consecutive()
}

// Snapshot returns a deep copy of the current world state.
func (e *Engine) Snapshot() *world.WorldState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ws.Snapshot()
}

// Subscribe registers a state observer. The current snapshot is delivered
// immediately. The returned unsubscribe function is idempotent.
func (e *Engine) Subscribe(cb func(*world.WorldState)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.stateSubs[id] = cb
	snap := e.ws.Snapshot()
	e.mu.Unlock()

	cb(snap)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.stateSubs, id)
			e.mu.Unlock()
		})
	}
}

// SubscribeToLogs registers an activity log observer.
func (e *Engine) SubscribeToLogs(cb func(world.ActivityLogEntry)) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.logSubs[id] = cb
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.logSubs, id)
			e.mu.Unlock()
		})
	}
}

// SubscriberCount is the sum of state and log subscribers; operational
// introspection only.
func (e *Engine) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stateSubs) + len(e.logSubs)
}

func (e *Engine) stateSubsLocked() []func(*world.WorldState) {
	out := make([]func(*world.WorldState), 0, len(e.stateSubs))
	for _, cb := range e.stateSubs {
		out = append(out, cb)
	}
	return out
}

func (e *Engine) logSubsLocked() []func(world.ActivityLogEntry) {
	out := make([]func(world.ActivityLogEntry), 0, len(e.logSubs))
	for _, cb := range e.logSubs {
		out = append(out, cb)
	}
	return out
}

// emitLog queues an activity entry for delivery after the current tick.
func (e *Engine) emitLog(entry world.ActivityLogEntry) {
	e.tickLogs = append(e.tickLogs, entry)
}

// scheduleForDayLocked loads or seeds a character's schedule for a day.
func (e *Engine) scheduleForDayLocked(characterID string, day uint32) *world.Schedule {
	if s, err := e.store.LoadSchedule(characterID, day); err == nil {
		return s
	}

	s := &world.Schedule{CharacterID: characterID, Day: day}
	for _, entry := range e.defaultSchedules[characterID] {
		entry.Done = false
		s.Entries = append(s.Entries, entry)
	}
	s.Sort()
	if err := e.store.SaveSchedule(s); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "save_schedule"),
			slog.Any("err", err),
		)
	}
	return s
}
