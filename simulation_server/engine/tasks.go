package engine

import (
	"log/slog"

	"github.com/avasek/townsim/simulation_server/convo"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/llm"
	"github.com/avasek/townsim/simulation_server/world"
)

type taskKind int

const (
	taskDecision taskKind = iota
	taskConvoTurn
	taskEpisode
)

// asyncResult is what a background LLM task sends back. Results produced in
// tick T are applied no earlier than tick T+1, always inside the tick scope.
type asyncResult struct {
	characterID string
	kind        taskKind

	decision *decide.Decision
	outcome  *convo.Outcome
	episode  *episodeOutcome

	err        error
	originTick uint64
}

func (e *Engine) drainResultsLocked() {
	for {
		select {
		case r := <-e.results:
			e.applyResultLocked(r)
		default:
			return
		}
	}
}

func (e *Engine) applyResultLocked(r asyncResult) {
	delete(e.inflight, r.characterID)

	ch, ok := e.ws.Characters[r.characterID]
	if !ok {
		return
	}

	switch r.kind {
	case taskDecision:
		e.applyDecisionResultLocked(ch, r)
	case taskConvoTurn:
		e.applyConvoResultLocked(ch, r)
	case taskEpisode:
		e.applyEpisodeResultLocked(ch, r)
	}
}

func (e *Engine) applyDecisionResultLocked(ch *world.Character, r asyncResult) {
	ch.DisplayEmoji = ""

	if r.err != nil {
		e.handleLLMErrorLocked(ch, r.err)
		return
	}

	e.failures.RecordSuccess()
	e.failStreak[ch.ID] = 0

	// The character may have been put into a conversation or an action by
	// another path since the call started; a stale decision is dropped.
	if ch.CurrentAction != nil || ch.Navigation.IsMoving || ch.ConversationID != "" {
		return
	}

	e.applyDecisionLocked(ch, r.decision)
}

func (e *Engine) applyConvoResultLocked(ch *world.Character, r asyncResult) {
	if r.err != nil {
		// Push the next turn attempt out by one interval before the usual
		// error handling.
		if s, ok := e.ws.Session(ch.ConversationID); ok {
			s.LastTurnAt = e.ws.Time
		}
		e.handleLLMErrorLocked(ch, r.err)
		return
	}

	e.failures.RecordSuccess()
	e.failStreak[ch.ID] = 0

	s, ok := e.ws.Session(r.outcome.SessionID)
	if !ok || s.Status != world.ConversationActive {
		return
	}
	npc, ok := e.ws.NPCs[s.NPCID]
	if !ok {
		e.convo.Abort(s, ch, &world.NPC{ID: s.NPCID})
		delete(e.ws.Sessions, s.ID)
		return
	}

	closed, logs := e.convo.Apply(s, ch, npc, r.outcome, e.ws.Time)
	for _, entry := range logs {
		e.emitLog(entry)
	}

	if closed {
		e.finishConversationLocked(ch, npc, s, r.outcome.Summary)
	}
}

func (e *Engine) applyEpisodeResultLocked(ch *world.Character, r asyncResult) {
	if r.err != nil {
		// Narrative generation is best-effort; classify and log, but do not
		// defer the character's next decision over it.
		c := llm.Classify(r.err)
		e.log.Warn("mini_episode_fail",
			slog.String("type", "llm_error"),
			slog.String("code", string(c.Code)),
			slog.String("character_id", ch.ID),
			slog.Any("err", r.err),
		)
		return
	}

	ep := r.episode
	if err := e.store.UpdateActionHistoryEpisode(ch.ID, ep.entry.Day, ep.entry.Time, ep.episode); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "attach_episode"),
			slog.Any("err", err),
		)
	}

	for name, delta := range ep.statDeltas {
		ch.Stats.Apply(name, delta)
	}

	e.emitLog(world.ActivityLogEntry{
		Kind:          world.LogKindMiniEpisode,
		Seq:           ch.NextActionSeq(),
		Timestamp:     e.ws.Time,
		CharacterID:   ch.ID,
		CharacterName: ch.Name,
		MiniEpisode: &world.MiniEpisodeLogPayload{
			ActionID:   ep.entry.ActionID,
			Episode:    ep.episode,
			StatDeltas: ep.statDeltas,
		},
	})
}

// handleLLMErrorLocked routes every failed LLM call through the taxonomy:
// classify, count, back the character off, notify, and pause when policy
// demands it.
func (e *Engine) handleLLMErrorLocked(ch *world.Character, err error) {
	c := llm.Classify(err)
	consecutive := e.failures.RecordFailure()

	e.failStreak[ch.ID]++
	delay := e.cfg.Backoff.DelayMinutes(e.failStreak[ch.ID])
	e.cooldownUntil[ch.ID] = e.ws.Time.Add(delay)

	willPause := e.cfg.PausePolicy.ShouldPause(c, consecutive)

	e.log.Error("llm_error",
		slog.String("type", "llm_error"),
		slog.String("code", string(c.Code)),
		slog.String("severity", string(c.Severity)),
		slog.String("character_id", ch.ID),
		slog.Int("consecutive", consecutive),
		slog.Int("backoff_minutes", delay),
		slog.Bool("will_pause", willPause),
		slog.String("message", c.Message),
	)

	if e.webhook != nil {
		e.webhook.Notify(c, willPause)
	}

	if willPause {
		e.ws.IsPaused = true
		return
	}

	// Keep the world moving with the rule-based policy while the LLM path
	// backs off.
	if e.ruleFallback != nil && ch.CurrentAction == nil && !ch.Navigation.IsMoving && ch.ConversationID == "" {
		if d, ferr := e.ruleFallback.Decide(e.ctx, e.buildContextLocked(ch)); ferr == nil {
			e.applyDecisionLocked(ch, d)
		}
	}
}

// spawnTask runs fn off the tick loop and delivers its result to the drain
// channel. Results are dropped when the engine is stopping.
func (e *Engine) spawnTask(fn func() asyncResult) {
	originTick := e.ws.Tick
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r := fn()
		r.originTick = originTick
		select {
		case e.results <- r:
		case <-e.ctx.Done():
		}
	}()
}
