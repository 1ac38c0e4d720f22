package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/avasek/townsim/simulation_server/world"
)

// Memory is the in-memory reference StateStore. Every save and load deep
// clones, so mutating a returned object never affects the store.
type Memory struct {
	mu sync.RWMutex

	state        *world.WorldState
	characters   map[string]*world.Character
	timeSet      bool
	time         world.WorldTime
	currentMapID string
	schedules    map[string]*world.Schedule // key: characterID/day
	history      []world.ActionHistoryEntry
	memories     []world.MidTermMemory
}

func NewMemory() *Memory {
	return &Memory{
		characters: map[string]*world.Character{},
		schedules:  map[string]*world.Schedule{},
	}
}

func scheduleKey(characterID string, day uint32) string {
	return fmt.Sprintf("%s/%d", characterID, day)
}

func (m *Memory) SaveState(ws *world.WorldState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ws.Snapshot()
	return nil
}

func (m *Memory) LoadState() (*world.WorldState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, ErrNotFound
	}
	return m.state.Snapshot(), nil
}

func (m *Memory) SaveCharacter(c *world.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters[c.ID] = c.Clone()
	return nil
}

func (m *Memory) LoadCharacter(id string) (*world.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.characters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) LoadAllCharacters() ([]*world.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.characters))
	for id := range m.characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*world.Character, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.characters[id].Clone())
	}
	return out, nil
}

func (m *Memory) DeleteCharacter(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.characters, id)
	return nil
}

func (m *Memory) SaveTime(t world.WorldTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.time = t
	m.timeSet = true
	return nil
}

func (m *Memory) LoadTime() (world.WorldTime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.timeSet {
		return world.WorldTime{}, ErrNotFound
	}
	return m.time, nil
}

func (m *Memory) SaveCurrentMapID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentMapID = id
	return nil
}

func (m *Memory) LoadCurrentMapID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentMapID == "" {
		return "", ErrNotFound
	}
	return m.currentMapID, nil
}

func (m *Memory) SaveSchedule(s *world.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[scheduleKey(s.CharacterID, s.Day)] = s.Clone()
	return nil
}

func (m *Memory) LoadSchedule(characterID string, day uint32) (*world.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[scheduleKey(characterID, day)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) LoadSchedulesForCharacter(characterID string) ([]*world.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*world.Schedule
	for _, s := range m.schedules {
		if s.CharacterID == characterID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *Memory) DeleteSchedule(characterID string, day uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, scheduleKey(characterID, day))
	return nil
}

func (m *Memory) DeleteAllSchedulesForCharacter(characterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.schedules {
		if s.CharacterID == characterID {
			delete(m.schedules, k)
		}
	}
	return nil
}

func (m *Memory) AddActionHistory(e world.ActionHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, e)
	return nil
}

func (m *Memory) LoadActionHistoryForDay(day uint32) ([]world.ActionHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []world.ActionHistoryEntry
	for _, e := range m.history {
		if e.Day == day {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpdateActionHistoryEpisode attaches an episode to the latest matching row.
func (m *Memory) UpdateActionHistoryEpisode(characterID string, day uint32, time, episode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		e := &m.history[i]
		if e.CharacterID == characterID && e.Day == day && e.Time == time {
			e.Episode = episode
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) AddMidTermMemory(mem world.MidTermMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories = append(m.memories, mem)
	return nil
}

func (m *Memory) LoadActiveMidTermMemories(characterID string, currentDay uint32) ([]world.MidTermMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []world.MidTermMemory
	for _, mem := range m.memories {
		if mem.CharacterID == characterID && mem.ExpiresDay >= currentDay {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *Memory) DeleteExpiredMidTermMemories(currentDay uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.memories[:0]
	for _, mem := range m.memories {
		if mem.ExpiresDay >= currentDay {
			kept = append(kept, mem)
		}
	}
	m.memories = kept
	return nil
}

func (m *Memory) HasData() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != nil || len(m.characters) > 0 || m.timeSet, nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	m.characters = map[string]*world.Character{}
	m.timeSet = false
	m.time = world.WorldTime{}
	m.currentMapID = ""
	m.schedules = map[string]*world.Schedule{}
	m.history = nil
	m.memories = nil
	return nil
}

func (m *Memory) Close() error {
	return nil
}
