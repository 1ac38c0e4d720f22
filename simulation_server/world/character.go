package world

// Stats are a character's interior needs, each clamped to [0,100].
type Stats struct {
	Satiety float64 `json:"satiety"`
	Energy  float64 `json:"energy"`
	Hygiene float64 `json:"hygiene"`
	Mood    float64 `json:"mood"`
	Bladder float64 `json:"bladder"`
}

const (
	StatSatiety = "satiety"
	StatEnergy  = "energy"
	StatHygiene = "hygiene"
	StatMood    = "mood"
	StatBladder = "bladder"
)

// StatNames lists all stat keys in a fixed order.
var StatNames = []string{StatSatiety, StatEnergy, StatHygiene, StatMood, StatBladder}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Get returns the named stat; unknown names return 0.
func (s *Stats) Get(name string) float64 {
	switch name {
	case StatSatiety:
		return s.Satiety
	case StatEnergy:
		return s.Energy
	case StatHygiene:
		return s.Hygiene
	case StatMood:
		return s.Mood
	case StatBladder:
		return s.Bladder
	}
	return 0
}

// Apply adds delta to the named stat and clamps the result.
func (s *Stats) Apply(name string, delta float64) {
	switch name {
	case StatSatiety:
		s.Satiety = clamp(s.Satiety + delta)
	case StatEnergy:
		s.Energy = clamp(s.Energy + delta)
	case StatHygiene:
		s.Hygiene = clamp(s.Hygiene + delta)
	case StatMood:
		s.Mood = clamp(s.Mood + delta)
	case StatBladder:
		s.Bladder = clamp(s.Bladder + delta)
	}
}

// Set overwrites the named stat, clamped.
func (s *Stats) Set(name string, v float64) {
	switch name {
	case StatSatiety:
		s.Satiety = clamp(v)
	case StatEnergy:
		s.Energy = clamp(v)
	case StatHygiene:
		s.Hygiene = clamp(v)
	case StatMood:
		s.Mood = clamp(v)
	case StatBladder:
		s.Bladder = clamp(v)
	}
}

// Clamp forces every stat back into [0,100].
func (s *Stats) Clamp() {
	s.Satiety = clamp(s.Satiety)
	s.Energy = clamp(s.Energy)
	s.Hygiene = clamp(s.Hygiene)
	s.Mood = clamp(s.Mood)
	s.Bladder = clamp(s.Bladder)
}

// Navigation is the intra-segment movement substate of a character.
type Navigation struct {
	IsMoving         bool     `json:"isMoving"`
	Path             []string `json:"path,omitempty"`
	CurrentPathIndex int      `json:"currentPathIndex"`
	Progress         float64  `json:"progress"`
	StartPosition    Position `json:"startPosition"`
	TargetPosition   Position `json:"targetPosition"`
}

// RouteSegment is one intra-map leg of a cross-map route. ExitEntranceID is
// empty on the final segment.
type RouteSegment struct {
	MapID          string   `json:"mapId"`
	Path           []string `json:"path"`
	ExitEntranceID string   `json:"exitEntranceId,omitempty"`
}

// CrossMapNavigation tracks progress through a multi-map route. It is only
// active while Navigation.IsMoving.
type CrossMapNavigation struct {
	Route               []RouteSegment `json:"route"`
	CurrentSegmentIndex int            `json:"currentSegmentIndex"`
}

// Action is a character's currently running action.
type Action struct {
	ID              string    `json:"actionId"`
	StartTime       WorldTime `json:"startTime"`
	TargetEndTime   WorldTime `json:"targetEndTime"`
	FacilityID      string    `json:"facilityId,omitempty"`
	TargetNPCID     string    `json:"targetNpcId,omitempty"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

// PendingAction is an action queued for execution on arrival at the end of
// the current route.
type PendingAction struct {
	ActionID         string            `json:"actionId"`
	FacilityID       string            `json:"facilityId,omitempty"`
	TargetNPCID      string            `json:"targetNpcId,omitempty"`
	DurationMinutes  int               `json:"durationMinutes,omitempty"`
	ConversationGoal *ConversationGoal `json:"conversationGoal,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// Employment references the workplace a character is employed at.
type Employment struct {
	MapID      string `json:"mapId"`
	FacilityID string `json:"facilityId"`
	JobTitle   string `json:"jobTitle"`
}

// Character is a simulated inhabitant of the world.
type Character struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Sprite string `json:"sprite,omitempty"`

	Money int   `json:"money"`
	Stats Stats `json:"stats"`

	CurrentMapID  string   `json:"currentMapId"`
	CurrentNodeID string   `json:"currentNodeId"`
	Position      Position `json:"position"`
	Direction     string   `json:"direction"`

	Personality  string      `json:"personality,omitempty"`
	Tendencies   string      `json:"tendencies,omitempty"`
	CustomPrompt string      `json:"customPrompt,omitempty"`
	Employment   *Employment `json:"employment,omitempty"`

	Navigation         Navigation          `json:"navigation"`
	CrossMapNavigation *CrossMapNavigation `json:"crossMapNavigation,omitempty"`
	CurrentAction      *Action             `json:"currentAction,omitempty"`
	PendingAction      *PendingAction      `json:"pendingAction,omitempty"`
	ConversationID     string              `json:"conversationId,omitempty"`

	DisplayEmoji  string `json:"displayEmoji,omitempty"`
	ActionCounter uint64 `json:"actionCounter"`
}

// NextActionSeq increments and returns the per-character log sequence.
func (c *Character) NextActionSeq() uint64 {
	c.ActionCounter++
	return c.ActionCounter
}

// Clone returns a deep copy of the character.
func (c *Character) Clone() *Character {
	cp := *c
	if c.Navigation.Path != nil {
		cp.Navigation.Path = append([]string(nil), c.Navigation.Path...)
	}
	if c.CrossMapNavigation != nil {
		cm := &CrossMapNavigation{CurrentSegmentIndex: c.CrossMapNavigation.CurrentSegmentIndex}
		cm.Route = make([]RouteSegment, len(c.CrossMapNavigation.Route))
		for i, seg := range c.CrossMapNavigation.Route {
			cm.Route[i] = RouteSegment{
				MapID:          seg.MapID,
				Path:           append([]string(nil), seg.Path...),
				ExitEntranceID: seg.ExitEntranceID,
			}
		}
		cp.CrossMapNavigation = cm
	}
	if c.CurrentAction != nil {
		a := *c.CurrentAction
		cp.CurrentAction = &a
	}
	if c.PendingAction != nil {
		p := *c.PendingAction
		if c.PendingAction.ConversationGoal != nil {
			g := *c.PendingAction.ConversationGoal
			p.ConversationGoal = &g
		}
		cp.PendingAction = &p
	}
	if c.Employment != nil {
		e := *c.Employment
		cp.Employment = &e
	}
	return &cp
}
