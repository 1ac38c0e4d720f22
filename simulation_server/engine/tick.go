package engine

import (
	"log/slog"
	"sort"
	"time"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/world"
)

func (e *Engine) tickLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(e.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.runTick()
		}
	}
}

// runTick is the only place the world mutates. Order within a tick: drain
// async results, advance time, roll the day over, decay stats, step every
// character, then publish one snapshot and the queued activity logs.
func (e *Engine) runTick() {
	e.mu.Lock()

	if e.ws.IsPaused {
		e.mu.Unlock()
		return
	}

	e.tickLogs = nil
	e.drainResultsLocked()

	// A drained error may have paused the simulation; surface that state to
	// observers and stop short of advancing the world.
	if e.ws.IsPaused {
		snap := e.ws.Snapshot()
		subs := e.stateSubsLocked()
		e.mu.Unlock()
		for _, cb := range subs {
			cb(snap)
		}
		return
	}

	oldDay := e.ws.Time.Day
	e.ws.Time = e.ws.Time.Add(e.cfg.MinutesPerTick)
	if e.ws.Time.Day != oldDay {
		e.rolloverDayLocked(e.ws.Time.Day)
	}

	e.applyDecayLocked()

	// Characters step in id order; ties (two characters targeting the same
	// NPC in one tick) resolve to the lower id.
	for _, id := range e.sortedCharacterIDsLocked() {
		e.stepCharacterLocked(e.ws.Characters[id])
	}

	e.ws.Tick++
	snap := e.ws.Snapshot()
	e.ws.Transition = nil // transitions last exactly one published tick

	logs := e.tickLogs
	e.tickLogs = nil
	stateSubs := e.stateSubsLocked()
	logSubs := e.logSubsLocked()

	e.persistLocked()
	e.mu.Unlock()

	for _, cb := range stateSubs {
		cb(snap)
	}
	for _, entry := range logs {
		for _, cb := range logSubs {
			cb(entry)
		}
	}
}

func (e *Engine) sortedCharacterIDsLocked() []string {
	ids := make([]string, 0, len(e.ws.Characters))
	for id := range e.ws.Characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// applyDecayLocked lowers every stat by its decay rate, except stats covered
// by the character's running action, which follow the action's per-minute
// profile instead.
func (e *Engine) applyDecayLocked() {
	minutes := float64(e.cfg.MinutesPerTick)

	for _, id := range e.sortedCharacterIDsLocked() {
		ch := e.ws.Characters[id]

		var def *action.Definition
		if ch.CurrentAction != nil {
			def, _ = e.executor.Catalog().Get(ch.CurrentAction.ID)
		}

		for _, stat := range world.StatNames {
			if def != nil && def.CoversStat(stat) {
				continue
			}
			ch.Stats.Apply(stat, -e.cfg.DecayRates[stat]*minutes)
		}

		if def != nil && def.Variable() {
			e.executor.ApplyPerMinute(ch, def, minutes)
		}
	}
}

// rolloverDayLocked seeds the new day's schedules and expires old memories.
func (e *Engine) rolloverDayLocked(day uint32) {
	for _, id := range e.sortedCharacterIDsLocked() {
		e.schedules[id] = e.scheduleForDayLocked(id, day)
	}
	if err := e.store.DeleteExpiredMidTermMemories(day); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "expire_memories"),
			slog.Any("err", err),
		)
	}
	e.log.Info("day_rollover", slog.String("type", "time"), slog.Uint64("day", uint64(day)))
}

// persistLocked saves the world at the end of a tick. Persistence failures
// are logged and the simulation keeps running.
func (e *Engine) persistLocked() {
	ops := []struct {
		name string
		fn   func() error
	}{
		{"save_state", func() error { return e.store.SaveState(e.ws) }},
		{"save_time", func() error { return e.store.SaveTime(e.ws.Time) }},
		{"save_current_map", func() error { return e.store.SaveCurrentMapID(e.ws.CurrentMapID) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			e.log.Warn("persistence_error",
				slog.String("type", "persistence"),
				slog.String("op", op.name),
				slog.Any("err", err),
			)
		}
	}
}
