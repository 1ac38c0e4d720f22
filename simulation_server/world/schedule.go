package world

import "sort"

// ScheduleEntry is one planned activity in a character's day.
type ScheduleEntry struct {
	Time     string `json:"time"` // "HH:MM"
	Activity string `json:"activity"`
	Location string `json:"location,omitempty"`
	Note     string `json:"note,omitempty"`
	Done     bool   `json:"done"`
}

// Schedule is a character's plan for a single day, sorted ascending by time.
// (characterId, day) is the primary key; saves upsert.
type Schedule struct {
	CharacterID string          `json:"characterId"`
	Day         uint32          `json:"day"`
	Entries     []ScheduleEntry `json:"entries"`
}

// Sort orders the entries ascending by time.
func (s *Schedule) Sort() {
	sort.SliceStable(s.Entries, func(i, j int) bool {
		return s.Entries[i].Time < s.Entries[j].Time
	})
}

// DueEntry returns the index of the earliest entry that is due at t and not
// yet executed today, or -1.
func (s *Schedule) DueEntry(t WorldTime) int {
	clock := t.Clock()
	for i := range s.Entries {
		if !s.Entries[i].Done && s.Entries[i].Time <= clock {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	cp := *s
	if s.Entries != nil {
		cp.Entries = append([]ScheduleEntry(nil), s.Entries...)
	}
	return &cp
}

// ActionHistoryEntry is an append-only record of a completed action. An
// episode may be attached after the fact.
type ActionHistoryEntry struct {
	CharacterID     string `json:"characterId"`
	Day             uint32 `json:"day"`
	Time            string `json:"time"` // "HH:MM"
	ActionID        string `json:"actionId"`
	Target          string `json:"target,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Episode         string `json:"episode,omitempty"`
}

type MemoryImportance string

const (
	ImportanceLow    MemoryImportance = "low"
	ImportanceMedium MemoryImportance = "medium"
	ImportanceHigh   MemoryImportance = "high"
)

// MidTermMemory is a fact a character remembers for a bounded number of days.
type MidTermMemory struct {
	ID          string           `json:"id"`
	CharacterID string           `json:"characterId"`
	Content     string           `json:"content"`
	Importance  MemoryImportance `json:"importance"`
	CreatedDay  uint32           `json:"createdDay"`
	ExpiresDay  uint32           `json:"expiresDay"`
	SourceNPCID string           `json:"sourceNpcId,omitempty"`
}
