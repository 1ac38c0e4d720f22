package engine

import (
	"log/slog"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/convo"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/pathfind"
	"github.com/avasek/townsim/simulation_server/world"

	"github.com/google/uuid"
)

const thinkingEmoji = "💭"

// stepCharacterLocked advances one character through its behaviour states:
// conversing, acting, moving, or idle-and-deciding. Exactly one branch runs
// per tick.
func (e *Engine) stepCharacterLocked(ch *world.Character) {
	if ch.ConversationID != "" {
		e.stepConversationLocked(ch)
		return
	}

	if ch.CurrentAction != nil {
		if !e.ws.Time.Before(ch.CurrentAction.TargetEndTime) {
			e.completeActionLocked(ch)
		}
		return
	}

	if ch.Navigation.IsMoving {
		e.advanceMovementLocked(ch)
		return
	}

	if e.inflight[ch.ID] {
		return
	}
	if until, ok := e.cooldownUntil[ch.ID]; ok && e.ws.Time.Before(until) {
		return
	}

	e.beginDecisionLocked(ch)
}

// --- deciding ---

func (e *Engine) beginDecisionLocked(ch *world.Character) {
	bc := e.buildContextLocked(ch)

	if e.cfg.DeciderMode == DeciderRules || e.decider == nil {
		d, err := e.ruleFallback.Decide(e.ctx, bc)
		if err != nil {
			e.deferDecisionLocked(ch, "rule decider failed: "+err.Error())
			return
		}
		e.applyDecisionLocked(ch, d)
		return
	}

	e.inflight[ch.ID] = true
	ch.DisplayEmoji = thinkingEmoji

	charID := ch.ID
	e.spawnTask(func() asyncResult {
		d, err := e.decider.Decide(e.ctx, bc)
		return asyncResult{characterID: charID, kind: taskDecision, decision: d, err: err}
	})
}

// deferDecisionLocked pushes the character's next decision out by the
// standard cooldown. An already scheduled longer cooldown (error backoff)
// is never shortened.
func (e *Engine) deferDecisionLocked(ch *world.Character, reason string) {
	until := e.ws.Time.Add(e.cfg.DecisionCooldownMinutes)
	if cur, ok := e.cooldownUntil[ch.ID]; !ok || until.After(cur) {
		e.cooldownUntil[ch.ID] = until
	}
	e.log.Debug("decision_deferred",
		slog.String("type", "decision"),
		slog.String("character_id", ch.ID),
		slog.String("reason", reason),
	)
}

func (e *Engine) applyDecisionLocked(ch *world.Character, d *decide.Decision) {
	if d == nil {
		e.deferDecisionLocked(ch, "empty decision")
		return
	}

	if d.ScheduleUpdate != nil {
		e.applyScheduleUpdateLocked(ch, d.ScheduleUpdate)
	}

	switch d.Type {
	case decide.DecisionIdle:
		e.deferDecisionLocked(ch, "idle")
	case decide.DecisionMove:
		toMap := d.TargetMapID
		if toMap == "" {
			toMap = ch.CurrentMapID
		}
		toNode := d.TargetNodeID
		if toNode == "" {
			if m, ok := e.maps[toMap]; ok {
				toNode = m.SpawnNodeID
			}
		}
		e.beginNavigationLocked(ch, toMap, toNode, nil)
	case decide.DecisionAction:
		e.beginActionLocked(ch, d)
	default:
		e.deferDecisionLocked(ch, "unknown decision type "+string(d.Type))
	}
}

// applyScheduleUpdateLocked mutates today's schedule atomically before the
// decision itself is acted on.
func (e *Engine) applyScheduleUpdateLocked(ch *world.Character, u *decide.ScheduleUpdate) {
	sched := e.schedules[ch.ID]
	if sched == nil {
		sched = &world.Schedule{CharacterID: ch.ID, Day: e.ws.Time.Day}
		e.schedules[ch.ID] = sched
	}

	switch u.Kind {
	case decide.ScheduleAdd:
		sched.Entries = append(sched.Entries, u.Entry)
	case decide.ScheduleModify:
		for i := range sched.Entries {
			if sched.Entries[i].Time == u.Time {
				sched.Entries[i] = u.Entry
				break
			}
		}
	case decide.ScheduleRemove:
		for i := range sched.Entries {
			if sched.Entries[i].Time == u.Time {
				sched.Entries = append(sched.Entries[:i], sched.Entries[i+1:]...)
				break
			}
		}
	}
	sched.Sort()

	if err := e.store.SaveSchedule(sched); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "save_schedule"),
			slog.Any("err", err),
		)
	}
}

// --- actions ---

func (e *Engine) beginActionLocked(ch *world.Character, d *decide.Decision) {
	def, ok := e.executor.Catalog().Get(d.ActionID)
	if !ok {
		e.deferDecisionLocked(ch, "unknown action "+d.ActionID)
		return
	}

	if def.Requirements.NearNPC {
		e.beginTalkLocked(ch, d)
		return
	}

	toMap := d.TargetMapID
	if toMap == "" {
		toMap = ch.CurrentMapID
	}
	m, ok := e.maps[toMap]
	if !ok {
		e.deferDecisionLocked(ch, "unknown map "+toMap)
		return
	}

	var fac *world.Obstacle
	if d.TargetFacilityID != "" {
		fac, _ = m.FacilityByID(d.TargetFacilityID)
	}
	if fac == nil {
		fac = e.findFacilityForLocked(m, def, ch)
	}

	if toMap == ch.CurrentMapID && e.atFacilityLocked(m, ch, fac, d.TargetNodeID) {
		e.startActionHereLocked(ch, def, fac, d.DurationMinutes, d.Reason)
		return
	}

	toNode := d.TargetNodeID
	if toNode == "" && fac != nil {
		toNode = e.facilityDestNodeLocked(m, fac)
	}
	if toNode == "" {
		toNode = m.SpawnNodeID
	}

	pending := &world.PendingAction{
		ActionID:        def.ID,
		DurationMinutes: d.DurationMinutes,
		Reason:          d.Reason,
	}
	if fac != nil {
		pending.FacilityID = fac.ID
	}
	e.beginNavigationLocked(ch, toMap, toNode, pending)
}

// atFacilityLocked reports whether the character already stands where the
// action can run.
func (e *Engine) atFacilityLocked(m *world.Map, ch *world.Character, fac *world.Obstacle, targetNode string) bool {
	if targetNode != "" {
		return ch.CurrentNodeID == targetNode
	}
	if fac == nil {
		return true
	}
	for _, id := range m.NodesForFacility(fac) {
		if id == ch.CurrentNodeID {
			return true
		}
	}
	return false
}

// findFacilityForLocked picks the first facility on the map that satisfies
// the action's tag requirements, preferring ones the character owns when
// ownership is required. Obstacle order is load order, which is stable.
func (e *Engine) findFacilityForLocked(m *world.Map, def *action.Definition, ch *world.Character) *world.Obstacle {
	matches := func(f *world.Facility) bool {
		for _, tag := range def.Requirements.FacilityTags {
			if !f.HasTag(tag) {
				return false
			}
		}
		if len(def.Requirements.FacilityTagsAnyOf) > 0 {
			any := false
			for _, tag := range def.Requirements.FacilityTagsAnyOf {
				if f.HasTag(tag) {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		}
		if def.Requirements.Ownership && f.Owner != "" && f.Owner != ch.ID {
			return false
		}
		return true
	}

	if len(def.Requirements.FacilityTags) == 0 && len(def.Requirements.FacilityTagsAnyOf) == 0 {
		return nil
	}
	for _, o := range m.Obstacles {
		if o.Facility != nil && matches(o.Facility) {
			return o
		}
	}
	return nil
}

// facilityDestNodeLocked picks the first non-NPC-occupied graph node covered
// by the facility.
func (e *Engine) facilityDestNodeLocked(m *world.Map, fac *world.Obstacle) string {
	blocked := e.blockedNodesLocked()[m.ID]
	for _, id := range m.NodesForFacility(fac) {
		if !blocked[id] {
			return id
		}
	}
	return ""
}

func (e *Engine) startActionHereLocked(ch *world.Character, def *action.Definition, fac *world.Obstacle, durationMinutes int, reason string) {
	m := e.maps[ch.CurrentMapID]
	req := action.Request{
		Definition:      def,
		Facility:        fac,
		DurationMinutes: durationMinutes,
		Reason:          reason,
	}

	if err := e.executor.CheckPreconditions(ch, m, req, e.ws.Time); err != nil {
		e.log.Warn("action_rejected",
			slog.String("type", "action"),
			slog.String("character_id", ch.ID),
			slog.String("action_id", def.ID),
			slog.Any("err", err),
		)
		e.deferDecisionLocked(ch, err.Error())
		return
	}

	a := e.executor.Begin(ch, req, e.ws.Time)
	a.Reason = reason
	e.markScheduleDoneLocked(ch, def.ID)

	e.emitLog(world.ActivityLogEntry{
		Kind:          world.LogKindAction,
		Seq:           ch.NextActionSeq(),
		Timestamp:     e.ws.Time,
		CharacterID:   ch.ID,
		CharacterName: ch.Name,
		Action: &world.ActionLogPayload{
			ActionID:   def.ID,
			Status:     world.ActionLogStarted,
			FacilityID: a.FacilityID,
			Reason:     reason,
		},
	})
}

// markScheduleDoneLocked marks the due schedule entry executed when the
// started action fulfils it.
func (e *Engine) markScheduleDoneLocked(ch *world.Character, actionID string) {
	sched := e.schedules[ch.ID]
	if sched == nil {
		return
	}
	i := sched.DueEntry(e.ws.Time)
	if i < 0 || sched.Entries[i].Activity != actionID {
		return
	}
	sched.Entries[i].Done = true
	if err := e.store.SaveSchedule(sched); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "save_schedule"),
			slog.Any("err", err),
		)
	}
}

func (e *Engine) completeActionLocked(ch *world.Character) {
	a := ch.CurrentAction
	def, _ := e.executor.Catalog().Get(a.ID)

	m := e.maps[ch.CurrentMapID]
	var fac *world.Obstacle
	if a.FacilityID != "" && m != nil {
		fac, _ = m.FacilityByID(a.FacilityID)
	}

	if def != nil {
		e.executor.Complete(ch, def, fac)
	}

	target := a.FacilityID
	if fac != nil && fac.Label != "" {
		target = fac.Label
	}
	entry := world.ActionHistoryEntry{
		CharacterID:     ch.ID,
		Day:             a.StartTime.Day,
		Time:            a.StartTime.Clock(),
		ActionID:        a.ID,
		Target:          target,
		DurationMinutes: a.DurationMinutes,
		Reason:          a.Reason,
	}
	if err := e.store.AddActionHistory(entry); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "add_action_history"),
			slog.Any("err", err),
		)
	}

	e.emitLog(world.ActivityLogEntry{
		Kind:          world.LogKindAction,
		Seq:           ch.NextActionSeq(),
		Timestamp:     e.ws.Time,
		CharacterID:   ch.ID,
		CharacterName: ch.Name,
		Action: &world.ActionLogPayload{
			ActionID:   a.ID,
			Status:     world.ActionLogCompleted,
			FacilityID: a.FacilityID,
			Reason:     a.Reason,
		},
	})

	ch.CurrentAction = nil

	if def != nil && !def.Ephemeral && e.gateway != nil && e.cfg.MiniEpisodeProbability > 0 &&
		e.rng.Float64() < e.cfg.MiniEpisodeProbability {
		e.spawnEpisodeLocked(ch, entry)
	}
}

// --- movement ---

// blockedNodesLocked builds the per-map set of NPC-occupied nodes.
func (e *Engine) blockedNodesLocked() map[string]map[string]bool {
	blocked := map[string]map[string]bool{}
	for _, npc := range e.ws.NPCs {
		set := blocked[npc.MapID]
		if set == nil {
			set = map[string]bool{}
			blocked[npc.MapID] = set
		}
		set[npc.CurrentNodeID] = true
	}
	return blocked
}

func (e *Engine) beginNavigationLocked(ch *world.Character, toMap, toNode string, pending *world.PendingAction) {
	route := pathfind.PlanRoute(e.maps, ch.CurrentMapID, ch.CurrentNodeID, toMap, toNode, e.blockedNodesLocked())
	if route == nil {
		e.log.Warn("route_unreachable",
			slog.String("type", "movement"),
			slog.String("character_id", ch.ID),
			slog.String("to_map", toMap),
			slog.String("to_node", toNode),
		)
		e.deferDecisionLocked(ch, "destination unreachable")
		return
	}

	ch.PendingAction = pending
	ch.CrossMapNavigation = &world.CrossMapNavigation{Route: route}
	e.startSegmentLocked(ch, route[0])
}

// startSegmentLocked positions the character on the first node of a route
// segment and aims it at the next one. Single-node segments complete at once,
// which is how entrance crossings fire.
func (e *Engine) startSegmentLocked(ch *world.Character, seg world.RouteSegment) {
	m := e.maps[seg.MapID]

	ch.CurrentMapID = seg.MapID
	ch.CurrentNodeID = seg.Path[0]
	if n, ok := m.Node(seg.Path[0]); ok {
		ch.Position = n.Position()
	}

	nav := &ch.Navigation
	nav.IsMoving = true
	nav.Path = seg.Path
	nav.CurrentPathIndex = 0
	nav.Progress = 0
	nav.StartPosition = ch.Position

	if len(seg.Path) > 1 {
		if n, ok := m.Node(seg.Path[1]); ok {
			nav.TargetPosition = n.Position()
		}
		return
	}

	nav.TargetPosition = ch.Position
	e.finishSegmentLocked(ch)
}

// advanceMovementLocked moves the character along the current edge by
// tickRate × movementSpeed pixels, snapping to nodes on arrival.
func (e *Engine) advanceMovementLocked(ch *world.Character) {
	nav := &ch.Navigation

	dist := nav.StartPosition.DistanceTo(nav.TargetPosition)
	step := e.cfg.TickRate.Seconds() * e.cfg.MovementSpeed
	if dist <= 0 {
		nav.Progress = 1
	} else {
		nav.Progress += step / dist
		ch.Direction = directionOf(nav.StartPosition, nav.TargetPosition)
	}

	if nav.Progress < 1 {
		ch.Position = world.Position{
			X: nav.StartPosition.X + (nav.TargetPosition.X-nav.StartPosition.X)*nav.Progress,
			Y: nav.StartPosition.Y + (nav.TargetPosition.Y-nav.StartPosition.Y)*nav.Progress,
		}
		return
	}

	ch.Position = nav.TargetPosition
	nav.Progress = 0
	nav.CurrentPathIndex++
	ch.CurrentNodeID = nav.Path[nav.CurrentPathIndex]

	if nav.CurrentPathIndex < len(nav.Path)-1 {
		m := e.maps[ch.CurrentMapID]
		if n, ok := m.Node(nav.Path[nav.CurrentPathIndex+1]); ok {
			nav.StartPosition = ch.Position
			nav.TargetPosition = n.Position()
		}
		return
	}

	e.finishSegmentLocked(ch)
}

// finishSegmentLocked either crosses into the next map of the route or
// completes the journey and promotes the pending action.
func (e *Engine) finishSegmentLocked(ch *world.Character) {
	cm := ch.CrossMapNavigation
	if cm != nil && cm.CurrentSegmentIndex < len(cm.Route)-1 {
		seg := cm.Route[cm.CurrentSegmentIndex]
		m := e.maps[seg.MapID]
		if ent, ok := m.Node(seg.ExitEntranceID); ok && ent.LeadsTo != nil {
			e.ws.Transition = &world.MapTransition{
				CharacterID: ch.ID,
				FromMapID:   seg.MapID,
				ToMapID:     ent.LeadsTo.MapID,
			}
			cm.CurrentSegmentIndex++
			e.startSegmentLocked(ch, cm.Route[cm.CurrentSegmentIndex])
			return
		}
		// Malformed route; treat the current node as the destination.
	}

	nav := &ch.Navigation
	nav.IsMoving = false
	nav.Path = nil
	nav.CurrentPathIndex = 0
	nav.Progress = 0
	ch.CrossMapNavigation = nil

	e.promotePendingLocked(ch)
}

// promotePendingLocked re-checks and starts the action queued for arrival.
func (e *Engine) promotePendingLocked(ch *world.Character) {
	p := ch.PendingAction
	ch.PendingAction = nil
	if p == nil {
		return
	}

	def, ok := e.executor.Catalog().Get(p.ActionID)
	if !ok {
		e.deferDecisionLocked(ch, "unknown pending action "+p.ActionID)
		return
	}

	if def.Requirements.NearNPC {
		e.startConversationLocked(ch, p.TargetNPCID, p.ConversationGoal, p.Reason)
		return
	}

	m := e.maps[ch.CurrentMapID]
	var fac *world.Obstacle
	if p.FacilityID != "" {
		fac, _ = m.FacilityByID(p.FacilityID)
	}
	e.startActionHereLocked(ch, def, fac, p.DurationMinutes, p.Reason)
}

func directionOf(from, to world.Position) string {
	dx, dy := to.X-from.X, to.Y-from.Y
	if dx < 0 {
		dx = -dx
	}
	abs := dy
	if abs < 0 {
		abs = -abs
	}
	if dx >= abs {
		if to.X >= from.X {
			return "right"
		}
		return "left"
	}
	if to.Y >= from.Y {
		return "down"
	}
	return "up"
}

// --- conversations ---

func (e *Engine) beginTalkLocked(ch *world.Character, d *decide.Decision) {
	npc, ok := e.ws.NPCs[d.TargetNPCID]
	if !ok {
		e.deferDecisionLocked(ch, "unknown npc "+d.TargetNPCID)
		return
	}
	if npc.InConversation {
		e.deferDecisionLocked(ch, "npc "+npc.ID+" is busy")
		return
	}

	if e.npcAdjacentLocked(ch, npc) {
		e.startConversationLocked(ch, npc.ID, d.ConversationGoal, d.Reason)
		return
	}

	dest := e.nodeNextToNPCLocked(ch, npc)
	if dest == "" {
		e.deferDecisionLocked(ch, "no open node next to npc "+npc.ID)
		return
	}

	e.beginNavigationLocked(ch, npc.MapID, dest, &world.PendingAction{
		ActionID:         "talk",
		TargetNPCID:      npc.ID,
		ConversationGoal: d.ConversationGoal,
		Reason:           d.Reason,
	})
}

func (e *Engine) npcAdjacentLocked(ch *world.Character, npc *world.NPC) bool {
	if npc.MapID != ch.CurrentMapID {
		return false
	}
	if npc.CurrentNodeID == ch.CurrentNodeID {
		return true
	}
	m := e.maps[ch.CurrentMapID]
	node, ok := m.Node(ch.CurrentNodeID)
	if !ok {
		return false
	}
	for _, id := range node.ConnectedTo {
		if id == npc.CurrentNodeID {
			return true
		}
	}
	return false
}

// nodeNextToNPCLocked picks the lowest-id unoccupied neighbour of the NPC's
// node.
func (e *Engine) nodeNextToNPCLocked(ch *world.Character, npc *world.NPC) string {
	m, ok := e.maps[npc.MapID]
	if !ok {
		return ""
	}
	node, ok := m.Node(npc.CurrentNodeID)
	if !ok {
		return ""
	}
	blocked := e.blockedNodesLocked()[npc.MapID]

	best := ""
	for _, id := range node.ConnectedTo {
		if blocked[id] {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best
}

func (e *Engine) startConversationLocked(ch *world.Character, npcID string, goal *world.ConversationGoal, reason string) {
	npc, ok := e.ws.NPCs[npcID]
	if !ok {
		e.deferDecisionLocked(ch, "unknown npc "+npcID)
		return
	}
	if !e.npcAdjacentLocked(ch, npc) {
		e.deferDecisionLocked(ch, "npc "+npcID+" not adjacent on arrival")
		return
	}

	g := world.ConversationGoal{Goal: "have a chat", SuccessCriteria: "a pleasant exchange"}
	if goal != nil {
		g = *goal
	}

	s, err := e.convo.StartSession(ch, npc, g, e.ws.Time)
	if err != nil {
		e.deferDecisionLocked(ch, err.Error())
		return
	}
	e.ws.Sessions[s.ID] = s

	interval := e.convo.TurnIntervalMinutes()
	ch.CurrentAction = &world.Action{
		ID:            "talk",
		StartTime:     e.ws.Time,
		TargetEndTime: e.ws.Time.Add(s.MaxTurns*interval + interval),
		TargetNPCID:   npc.ID,
		Reason:        reason,
	}

	e.log.Info("conversation_start",
		slog.String("type", "conversation"),
		slog.String("session_id", s.ID),
		slog.String("character_id", ch.ID),
		slog.String("npc_id", npc.ID),
		slog.String("goal", g.Goal),
	)
}

func (e *Engine) stepConversationLocked(ch *world.Character) {
	s, ok := e.ws.Session(ch.ConversationID)
	if !ok {
		ch.ConversationID = ""
		ch.CurrentAction = nil
		return
	}

	if e.inflight[ch.ID] {
		return
	}
	if !e.convo.TurnDue(s, e.ws.Time) {
		return
	}

	npc, ok := e.ws.NPCs[s.NPCID]
	if !ok {
		e.convo.Abort(s, ch, &world.NPC{ID: s.NPCID})
		delete(e.ws.Sessions, s.ID)
		return
	}

	e.inflight[ch.ID] = true
	sc, cc, nc := s.Clone(), ch.Clone(), npc.Clone()
	charID := ch.ID
	e.spawnTask(func() asyncResult {
		out, err := e.convo.RunTurn(e.ctx, sc, cc, nc)
		return asyncResult{characterID: charID, kind: taskConvoTurn, outcome: out, err: err}
	})
}

// finishConversationLocked records a closed session in history and distils it
// into a mid-term memory.
func (e *Engine) finishConversationLocked(ch *world.Character, npc *world.NPC, s *world.ConversationSession, summary *convo.SummaryResult) {
	delete(e.ws.Sessions, s.ID)

	entry := world.ActionHistoryEntry{
		CharacterID:     ch.ID,
		Day:             s.StartTime.Day,
		Time:            s.StartTime.Clock(),
		ActionID:        "talk",
		Target:          npc.Name,
		DurationMinutes: e.ws.Time.Sub(s.StartTime),
		Reason:          s.Goal.Goal,
	}
	if err := e.store.AddActionHistory(entry); err != nil {
		e.log.Warn("persistence_error",
			slog.String("type", "persistence"),
			slog.String("op", "add_action_history"),
			slog.Any("err", err),
		)
	}

	if summary != nil && summary.Summary != "" {
		mem := world.MidTermMemory{
			ID:          uuid.NewString(),
			CharacterID: ch.ID,
			Content:     summary.Summary,
			Importance:  world.ImportanceMedium,
			CreatedDay:  e.ws.Time.Day,
			ExpiresDay:  e.ws.Time.Day + 3,
			SourceNPCID: npc.ID,
		}
		if err := e.store.AddMidTermMemory(mem); err != nil {
			e.log.Warn("persistence_error",
				slog.String("type", "persistence"),
				slog.String("op", "add_memory"),
				slog.Any("err", err),
			)
		}
	}
}
