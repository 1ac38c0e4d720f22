package world

// MapTransition describes a single visual fade between maps. The engine sets
// it for the tick in which a character crosses a boundary; it completes
// within that tick.
type MapTransition struct {
	CharacterID string `json:"characterId"`
	FromMapID   string `json:"fromMapId"`
	ToMapID     string `json:"toMapId"`
}

// WorldState is the authoritative entity store. It is owned exclusively by
// the engine's tick scope; external observers only ever see snapshots.
type WorldState struct {
	Characters   map[string]*Character          `json:"characters"`
	NPCs         map[string]*NPC                `json:"npcs"`
	Sessions     map[string]*ConversationSession `json:"sessions,omitempty"`
	CurrentMapID string                         `json:"currentMapId"`
	Time         WorldTime                      `json:"time"`
	IsPaused     bool                           `json:"isPaused"`
	Transition   *MapTransition                 `json:"transition,omitempty"`
	Tick         uint64                         `json:"tick"`
}

func NewWorldState() *WorldState {
	return &WorldState{
		Characters: map[string]*Character{},
		NPCs:       map[string]*NPC{},
		Sessions:   map[string]*ConversationSession{},
	}
}

// Session returns the active session a character is in, if any.
func (w *WorldState) Session(id string) (*ConversationSession, bool) {
	s, ok := w.Sessions[id]
	return s, ok
}

// Snapshot returns a deep copy of the state. Mutating the copy never affects
// the engine's authoritative state.
func (w *WorldState) Snapshot() *WorldState {
	cp := &WorldState{
		Characters:   make(map[string]*Character, len(w.Characters)),
		NPCs:         make(map[string]*NPC, len(w.NPCs)),
		Sessions:     make(map[string]*ConversationSession, len(w.Sessions)),
		CurrentMapID: w.CurrentMapID,
		Time:         w.Time,
		IsPaused:     w.IsPaused,
		Tick:         w.Tick,
	}
	for id, c := range w.Characters {
		cp.Characters[id] = c.Clone()
	}
	for id, n := range w.NPCs {
		cp.NPCs[id] = n.Clone()
	}
	for id, s := range w.Sessions {
		cp.Sessions[id] = s.Clone()
	}
	if w.Transition != nil {
		t := *w.Transition
		cp.Transition = &t
	}
	return cp
}
