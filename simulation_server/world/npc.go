package world

// NPC is a stationary non-player character. It blocks the node it occupies
// and never moves.
type NPC struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MapID         string   `json:"mapId"`
	CurrentNodeID string   `json:"currentNodeId"`
	Position      Position `json:"position"`
	Direction     string   `json:"direction"`

	Personality  string   `json:"personality,omitempty"`
	Tendencies   string   `json:"tendencies,omitempty"`
	CustomPrompt string   `json:"customPrompt,omitempty"`
	Facts        []string `json:"facts,omitempty"`

	Affinity           int        `json:"affinity"`
	Mood               string     `json:"mood"`
	ConversationCount  int        `json:"conversationCount"`
	LastConversationAt *WorldTime `json:"lastConversationAt,omitempty"`
	InConversation     bool       `json:"inConversation"`
}

// Clone returns a deep copy of the NPC.
func (n *NPC) Clone() *NPC {
	cp := *n
	if n.Facts != nil {
		cp.Facts = append([]string(nil), n.Facts...)
	}
	if n.LastConversationAt != nil {
		t := *n.LastConversationAt
		cp.LastConversationAt = &t
	}
	return &cp
}
