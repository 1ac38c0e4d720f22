// Package decide produces behaviour decisions for characters. Two
// implementations satisfy the same contract: a rule-based policy used as a
// safe fallback, and an LLM-backed policy that assembles a behaviour context
// and requests a schema-validated structured decision.
package decide

import (
	"context"

	"github.com/avasek/townsim/simulation_server/world"
)

type DecisionType string

const (
	DecisionAction DecisionType = "action"
	DecisionMove   DecisionType = "move"
	DecisionIdle   DecisionType = "idle"
)

type ScheduleUpdateKind string

const (
	ScheduleAdd    ScheduleUpdateKind = "add"
	ScheduleModify ScheduleUpdateKind = "modify"
	ScheduleRemove ScheduleUpdateKind = "remove"
)

// ScheduleUpdate mutates today's schedule; the engine applies it atomically
// before acting on the decision.
type ScheduleUpdate struct {
	Kind  ScheduleUpdateKind  `json:"kind"`
	Time  string              `json:"time"` // entry addressed for modify/remove
	Entry world.ScheduleEntry `json:"entry"`
}

// Decision is what a decider wants the character to do next.
type Decision struct {
	Type             DecisionType            `json:"type"`
	ActionID         string                  `json:"actionId,omitempty"`
	TargetNodeID     string                  `json:"targetNodeId,omitempty"`
	TargetMapID      string                  `json:"targetMapId,omitempty"`
	TargetNPCID      string                  `json:"targetNpcId,omitempty"`
	TargetFacilityID string                  `json:"targetFacilityId,omitempty"`
	ConversationGoal *world.ConversationGoal `json:"conversationGoal,omitempty"`
	DurationMinutes  int                     `json:"durationMinutes,omitempty"`
	ScheduleUpdate   *ScheduleUpdate         `json:"scheduleUpdate,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
}

// FacilityInfo describes a reachable facility and what can be done there.
type FacilityInfo struct {
	MapID            string              `json:"mapId"`
	FacilityID       string              `json:"facilityId"`
	Label            string              `json:"label,omitempty"`
	Tags             []world.FacilityTag `json:"tags"`
	AvailableActions []string            `json:"availableActions"`
	NodeID           string              `json:"nodeId"`
	Hops             int                 `json:"hops"`
	Cost             int                 `json:"cost,omitempty"`
}

// MapInfo is a map within reach of the character.
type MapInfo struct {
	MapID string `json:"mapId"`
	Name  string `json:"name"`
	Hops  int    `json:"hops"`
}

// NPCInfo is an NPC the character could talk to.
type NPCInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Mood     string `json:"mood"`
	Affinity int    `json:"affinity"`
	NodeID   string `json:"nodeId"`
	MapID    string `json:"mapId"`
}

// Context is everything a decider may consider for one decision.
type Context struct {
	Character           *world.Character
	Time                world.WorldTime
	Schedule            *world.Schedule
	AvailableActions    []string
	CurrentMapFacilities []FacilityInfo
	NearbyMaps          []MapInfo
	NearbyFacilities    []FacilityInfo
	NearbyNPCs          []NPCInfo
	TodayActions        []world.ActionHistoryEntry
	MidTermMemories     []world.MidTermMemory
}

// Decider returns a BehaviourDecision for a character.
type Decider interface {
	Decide(ctx context.Context, bc *Context) (*Decision, error)
}
