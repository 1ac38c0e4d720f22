package decide

import (
	"context"

	"github.com/avasek/townsim/simulation_server/world"
)

// Thresholds tune the rule-based policy.
type Thresholds struct {
	Bladder    float64
	Energy     float64
	Satiety    float64
	NightStart int // hour, inclusive
	NightEnd   int // hour, exclusive
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Bladder:    20,
		Energy:     25,
		Satiety:    30,
		NightStart: 21,
		NightEnd:   6,
	}
}

// RuleBased applies, in order: urgent-stat triggers, the current schedule
// entry, then idle.
type RuleBased struct {
	thresholds Thresholds
}

func NewRuleBased(t Thresholds) *RuleBased {
	return &RuleBased{thresholds: t}
}

func (r *RuleBased) Decide(_ context.Context, bc *Context) (*Decision, error) {
	ch := bc.Character

	if ch.Stats.Bladder < r.thresholds.Bladder {
		if d := r.decisionForAction(bc, "toilet", "bladder is urgent"); d != nil {
			return d, nil
		}
	}

	if ch.Stats.Energy < r.thresholds.Energy && r.isNight(bc.Time.Hour) {
		if d := r.decisionForAction(bc, "sleep", "exhausted at night"); d != nil {
			return d, nil
		}
	}

	if ch.Stats.Satiety < r.thresholds.Satiety {
		if d := r.decisionForAction(bc, "eat", "hungry"); d != nil {
			return d, nil
		}
	}

	if bc.Schedule != nil {
		if i := bc.Schedule.DueEntry(bc.Time); i >= 0 {
			entry := bc.Schedule.Entries[i]
			if d := r.decisionForSchedule(bc, entry); d != nil {
				return d, nil
			}
		}
	}

	return &Decision{Type: DecisionIdle, Reason: "nothing to do"}, nil
}

func (r *RuleBased) isNight(hour int) bool {
	if r.thresholds.NightStart > r.thresholds.NightEnd {
		return hour >= r.thresholds.NightStart || hour < r.thresholds.NightEnd
	}
	return hour >= r.thresholds.NightStart && hour < r.thresholds.NightEnd
}

// decisionForAction targets the nearest facility offering the action:
// facilities on the current map first, then by hop distance.
func (r *RuleBased) decisionForAction(bc *Context, actionID, reason string) *Decision {
	if f := nearestFacilityFor(bc, actionID, ""); f != nil {
		return &Decision{
			Type:             DecisionAction,
			ActionID:         actionID,
			TargetMapID:      f.MapID,
			TargetFacilityID: f.FacilityID,
			TargetNodeID:     f.NodeID,
			Reason:           reason,
		}
	}
	return nil
}

func (r *RuleBased) decisionForSchedule(bc *Context, entry world.ScheduleEntry) *Decision {
	actionID := entry.Activity
	if f := nearestFacilityFor(bc, actionID, entry.Location); f != nil {
		return &Decision{
			Type:             DecisionAction,
			ActionID:         actionID,
			TargetMapID:      f.MapID,
			TargetFacilityID: f.FacilityID,
			TargetNodeID:     f.NodeID,
			Reason:           "scheduled: " + entry.Activity,
		}
	}
	// Actions without facility requirements (talk targets aside) still run.
	for _, id := range bc.AvailableActions {
		if id == actionID {
			return &Decision{Type: DecisionAction, ActionID: actionID, Reason: "scheduled: " + entry.Activity}
		}
	}
	return nil
}

func nearestFacilityFor(bc *Context, actionID, location string) *FacilityInfo {
	pick := func(list []FacilityInfo) *FacilityInfo {
		var best *FacilityInfo
		for i := range list {
			f := &list[i]
			if !offers(f, actionID) {
				continue
			}
			if location != "" && f.Label != location && !hasTag(f, location) {
				continue
			}
			if best == nil || f.Hops < best.Hops {
				best = f
			}
		}
		return best
	}

	if f := pick(bc.CurrentMapFacilities); f != nil {
		return f
	}
	return pick(bc.NearbyFacilities)
}

func offers(f *FacilityInfo, actionID string) bool {
	for _, id := range f.AvailableActions {
		if id == actionID {
			return true
		}
	}
	return false
}

func hasTag(f *FacilityInfo, tag string) bool {
	for _, t := range f.Tags {
		if string(t) == tag {
			return true
		}
	}
	return false
}
