package world

// ConversationGoal is what a character wants out of talking to an NPC.
type ConversationGoal struct {
	Goal            string `json:"goal"`
	SuccessCriteria string `json:"successCriteria"`
}

type Speaker string

const (
	SpeakerCharacter Speaker = "character"
	SpeakerNPC       Speaker = "npc"
)

// ConversationMessage is a single utterance in a session.
type ConversationMessage struct {
	Speaker     Speaker   `json:"speaker"`
	SpeakerID   string    `json:"speakerId"`
	SpeakerName string    `json:"speakerName"`
	Utterance   string    `json:"utterance"`
	Timestamp   WorldTime `json:"timestamp"`
}

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationAborted   ConversationStatus = "aborted"
)

// ConversationSession is a turn-based dialogue between a character and an
// NPC. It holds identifiers only, never pointers to the participants.
type ConversationSession struct {
	ID           string                `json:"id"`
	CharacterID  string                `json:"characterId"`
	NPCID        string                `json:"npcId"`
	Goal         ConversationGoal      `json:"goal"`
	Messages     []ConversationMessage `json:"messages"`
	CurrentTurn  int                   `json:"currentTurn"`
	MaxTurns     int                   `json:"maxTurns"`
	StartTime    WorldTime             `json:"startTime"`
	LastTurnAt   WorldTime             `json:"lastTurnAt"`
	Status       ConversationStatus    `json:"status"`
	GoalAchieved bool                  `json:"goalAchieved"`

	// AffinityChange accumulates the deltas applied over the session.
	AffinityChange int `json:"affinityChange"`
}

// Clone returns a deep copy of the session.
func (s *ConversationSession) Clone() *ConversationSession {
	cp := *s
	if s.Messages != nil {
		cp.Messages = append([]ConversationMessage(nil), s.Messages...)
	}
	return &cp
}
