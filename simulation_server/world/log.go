package world

type LogKind string

const (
	LogKindAction              LogKind = "action"
	LogKindConversation        LogKind = "conversation"
	LogKindConversationMessage LogKind = "conversation_message"
	LogKindMiniEpisode         LogKind = "mini_episode"
)

type ActionLogStatus string

const (
	ActionLogStarted   ActionLogStatus = "started"
	ActionLogCompleted ActionLogStatus = "completed"
)

// ActionLogPayload describes an action starting or completing.
type ActionLogPayload struct {
	ActionID   string          `json:"actionId"`
	Status     ActionLogStatus `json:"status"`
	FacilityID string          `json:"facilityId,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// ConversationLogPayload summarises a closed conversation session.
type ConversationLogPayload struct {
	SessionID      string   `json:"sessionId"`
	NPCID          string   `json:"npcId"`
	NPCName        string   `json:"npcName"`
	Summary        string   `json:"summary"`
	Topics         []string `json:"topics,omitempty"`
	AffinityChange int      `json:"affinityChange"`
	NPCMood        string   `json:"npcMood"`
	GoalAchieved   bool     `json:"goalAchieved"`
}

// ConversationMessageLogPayload carries a single utterance.
type ConversationMessageLogPayload struct {
	SessionID   string  `json:"sessionId"`
	NPCID       string  `json:"npcId"`
	Speaker     Speaker `json:"speaker"`
	SpeakerName string  `json:"speakerName"`
	Utterance   string  `json:"utterance"`
}

// MiniEpisodeLogPayload carries a post-action narrative fragment.
type MiniEpisodeLogPayload struct {
	ActionID   string             `json:"actionId"`
	Episode    string             `json:"episode"`
	StatDeltas map[string]float64 `json:"statDeltas,omitempty"`
}

// ActivityLogEntry is an emitted observation event. It is published to log
// subscribers and never stored in the world state.
type ActivityLogEntry struct {
	Kind          LogKind   `json:"kind"`
	Seq           uint64    `json:"seq"`
	Timestamp     WorldTime `json:"timestamp"`
	CharacterID   string    `json:"characterId"`
	CharacterName string    `json:"characterName"`

	Action       *ActionLogPayload              `json:"action,omitempty"`
	Conversation *ConversationLogPayload        `json:"conversation,omitempty"`
	Message      *ConversationMessageLogPayload `json:"message,omitempty"`
	MiniEpisode  *MiniEpisodeLogPayload         `json:"miniEpisode,omitempty"`
}
