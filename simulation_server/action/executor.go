package action

import (
	"fmt"

	"github.com/avasek/townsim/simulation_server/world"
)

// PreconditionError reports why an action could not be entered. The decider
// receives it as a rejection and re-decides.
type PreconditionError struct {
	ActionID string
	Reason   string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("action %s precondition failed: %s", e.ActionID, e.Reason)
}

func reject(actionID, format string, args ...any) error {
	return &PreconditionError{ActionID: actionID, Reason: fmt.Sprintf(format, args...)}
}

// Request is a resolved ask to run an action for a character.
type Request struct {
	Definition      *Definition
	Facility        *world.Obstacle // nil when the action needs none
	TargetNPC       *world.NPC      // nil unless NearNPC
	DurationMinutes int
	Reason          string
}

// Executor evaluates preconditions and applies action effects. Costs are
// deducted at completion, together with the rest of the terminal effects.
type Executor struct {
	catalog *Catalog
}

func NewExecutor(catalog *Catalog) *Executor {
	return &Executor{catalog: catalog}
}

func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// CheckPreconditions verifies the request can start for the character at its
// current location on the given map.
func (e *Executor) CheckPreconditions(ch *world.Character, m *world.Map, req Request, now world.WorldTime) error {
	d := req.Definition
	reqs := d.Requirements

	var fac *world.Facility
	if req.Facility != nil {
		fac = req.Facility.Facility
	}

	for _, tag := range reqs.FacilityTags {
		if !fac.HasTag(tag) {
			return reject(d.ID, "facility missing tag %q", tag)
		}
	}
	if len(reqs.FacilityTagsAnyOf) > 0 {
		found := false
		for _, tag := range reqs.FacilityTagsAnyOf {
			if fac.HasTag(tag) {
				found = true
				break
			}
		}
		if !found {
			return reject(d.ID, "facility matches none of %v", reqs.FacilityTagsAnyOf)
		}
	}

	if reqs.Ownership && fac != nil && fac.Owner != "" && fac.Owner != ch.ID {
		return reject(d.ID, "facility owned by %s", fac.Owner)
	}

	for name, min := range reqs.MinStats {
		if ch.Stats.Get(name) < min {
			return reject(d.ID, "stat %s below %v", name, min)
		}
	}

	if fac != nil && fac.Cost > 0 && ch.Money < fac.Cost {
		return reject(d.ID, "cannot afford cost %d", fac.Cost)
	}

	if reqs.NearNPC {
		if req.TargetNPC == nil {
			return reject(d.ID, "no target NPC")
		}
		if !e.adjacent(m, ch, req.TargetNPC) {
			return reject(d.ID, "NPC %s not adjacent", req.TargetNPC.ID)
		}
	}

	if reqs.Employment {
		if ch.Employment == nil {
			return reject(d.ID, "character is not employed")
		}
		if req.Facility == nil || ch.Employment.FacilityID != req.Facility.ID {
			return reject(d.ID, "facility is not the character's workplace")
		}
		if fac == nil || fac.Job == nil {
			return reject(d.ID, "workplace exposes no job")
		}
	}

	if reqs.WorkHours != nil && !reqs.WorkHours.Contains(now.Hour) {
		return reject(d.ID, "outside work hours %d-%d", reqs.WorkHours.Start, reqs.WorkHours.End)
	}

	return nil
}

// adjacent reports whether the NPC's node is the character's node or one
// hop away on the navigation graph.
func (e *Executor) adjacent(m *world.Map, ch *world.Character, npc *world.NPC) bool {
	if npc.MapID != ch.CurrentMapID {
		return false
	}
	if npc.CurrentNodeID == ch.CurrentNodeID {
		return true
	}
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

// Begin atomically enters the action: once entered, it runs to its target
// end time unless explicitly cancelled.
func (e *Executor) Begin(ch *world.Character, req Request, now world.WorldTime) *world.Action {
	minutes := req.Definition.ResolveDuration(req.DurationMinutes)

	a := &world.Action{
		ID:              req.Definition.ID,
		StartTime:       now,
		TargetEndTime:   now.Add(minutes),
		DurationMinutes: minutes,
	}
	if req.Facility != nil {
		a.FacilityID = req.Facility.ID
	}
	if req.TargetNPC != nil {
		a.TargetNPCID = req.TargetNPC.ID
	}

	ch.CurrentAction = a
	return a
}

// ApplyPerMinute applies the action's continuous rates over the elapsed
// world minutes. It replaces, never adds to, normal decay for the stats it
// covers.
func (e *Executor) ApplyPerMinute(ch *world.Character, d *Definition, minutes float64) {
	for name, rate := range d.PerMinute {
		ch.Stats.Apply(name, rate*minutes)
	}
}

// Complete applies the action's terminal effects: fixed stat deltas,
// stat overrides, money cost, and wages.
func (e *Executor) Complete(ch *world.Character, d *Definition, facility *world.Obstacle) {
	for name, delta := range d.Effects {
		ch.Stats.Apply(name, delta)
	}
	for name, v := range d.SetStats {
		ch.Stats.Set(name, v)
	}

	var fac *world.Facility
	if facility != nil {
		fac = facility.Facility
	}

	if fac != nil && fac.Cost > 0 {
		ch.Money -= fac.Cost
		if ch.Money < 0 {
			ch.Money = 0
		}
	}

	if d.Money != nil && ch.CurrentAction != nil {
		if d.Money.HourlyWage {
			if fac != nil && fac.Job != nil {
				ch.Money += fac.Job.HourlyWage * ch.CurrentAction.DurationMinutes / 60
			}
		} else {
			ch.Money += d.Money.Amount
		}
	}

	ch.Stats.Clamp()
}
