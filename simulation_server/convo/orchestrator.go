// Package convo drives turn-based dialogue between a character and a static
// NPC: prompt construction, structured turn output, NPC mutation, goal
// tracking, and end-of-session summarisation.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/avasek/townsim/simulation_server/llm"
	"github.com/avasek/townsim/simulation_server/world"

	"github.com/google/uuid"
)

const DefaultMaxTurns = 10

// TurnResult is the structured output of one conversation round.
type TurnResult struct {
	Utterance       string `json:"utterance"`
	Speaker         string `json:"speaker"`
	GoalAchieved    bool   `json:"goalAchieved"`
	EndConversation bool   `json:"endConversation"`
	NPCMoodDelta    string `json:"npcMoodDelta,omitempty"`
	AffinityDelta   int    `json:"affinityDelta,omitempty"`
	FactLearned     string `json:"factLearned,omitempty"`
}

// SummaryResult closes out a session for the log stream.
type SummaryResult struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics,omitempty"`
}

// Outcome bundles what one background conversation task produced.
type Outcome struct {
	SessionID string
	Turn      TurnResult
	// Summary is set when the turn ends the session.
	Summary *SummaryResult
}

const turnPromptText = `A conversation is happening between {{.CharacterName}} and {{.NPCName}}.

{{.CharacterName}}'s profile:
{{- if .CharacterPersonality}}
Personality: {{.CharacterPersonality}}
{{- end}}
Goal of this conversation: {{.Goal.Goal}}
Success looks like: {{.Goal.SuccessCriteria}}

{{.NPCName}}'s profile:
{{- if .NPCPersonality}}
Personality: {{.NPCPersonality}}
{{- end}}
{{- if .NPCTendencies}}
Tendencies: {{.NPCTendencies}}
{{- end}}
Mood: {{.NPCMood}}. Affinity toward {{.CharacterName}}: {{.NPCAffinity}}.
{{- if .NPCFacts}}
Facts {{.NPCName}} knows:
{{- range .NPCFacts}}
- {{.}}
{{- end}}
{{- end}}

{{- if .Messages}}
Conversation so far:
{{- range .Messages}}
{{.SpeakerName}}: {{.Utterance}}
{{- end}}
{{- end}}

It is {{.NextSpeakerName}}'s turn to speak. Produce their next utterance and
judge whether the goal has been achieved and whether the conversation should
end now.`

var turnPrompt = template.Must(template.
	New("conversation_turn").
	Option("missingkey=error").
	Parse(turnPromptText))

// TurnSchema is the structured-output contract for one conversation round.
var TurnSchema = llm.Schema{
	Name: "conversation_turn",
	Schema: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"utterance": map[string]any{"type": "string"},
			"speaker": map[string]any{
				"type": "string",
				"enum": []any{"character", "npc"},
			},
			"goalAchieved":    map[string]any{"type": "boolean"},
			"endConversation": map[string]any{"type": "boolean"},
			"npcMoodDelta":    map[string]any{"type": "string"},
			"affinityDelta":   map[string]any{"type": "integer"},
			"factLearned":     map[string]any{"type": "string"},
		},
		"required": []any{"utterance", "speaker", "goalAchieved", "endConversation"},
	},
}

var summarySchema = llm.Schema{
	Name: "conversation_summary",
	Schema: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"topics": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"summary"},
	},
}

// Orchestrator runs conversation sessions. At most one open session per
// character and per NPC; the engine enforces the lower-character-id-wins
// rule when two characters target the same NPC in one tick.
type Orchestrator struct {
	gateway             llm.Gateway
	log                 *slog.Logger
	turnIntervalMinutes int
	affinityMin         int
	affinityMax         int
}

type Config struct {
	TurnIntervalMinutes int
	AffinityMin         int
	AffinityMax         int
}

func New(gateway llm.Gateway, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.TurnIntervalMinutes <= 0 {
		cfg.TurnIntervalMinutes = 1
	}
	if cfg.AffinityMin == 0 && cfg.AffinityMax == 0 {
		cfg.AffinityMin, cfg.AffinityMax = -100, 100
	}
	return &Orchestrator{
		gateway:             gateway,
		log:                 log,
		turnIntervalMinutes: cfg.TurnIntervalMinutes,
		affinityMin:         cfg.AffinityMin,
		affinityMax:         cfg.AffinityMax,
	}
}

func (o *Orchestrator) TurnIntervalMinutes() int {
	return o.turnIntervalMinutes
}

// StartSession opens a session between the character and NPC. The NPC must
// not already be in a conversation.
func (o *Orchestrator) StartSession(ch *world.Character, npc *world.NPC, goal world.ConversationGoal, now world.WorldTime) (*world.ConversationSession, error) {
	if npc.InConversation {
		return nil, fmt.Errorf("npc %s is already in a conversation", npc.ID)
	}
	if ch.ConversationID != "" {
		return nil, fmt.Errorf("character %s is already in a conversation", ch.ID)
	}

	s := &world.ConversationSession{
		ID:          uuid.NewString(),
		CharacterID: ch.ID,
		NPCID:       npc.ID,
		Goal:        goal,
		MaxTurns:    DefaultMaxTurns,
		StartTime:   now,
		LastTurnAt:  now.Add(-o.turnIntervalMinutes), // first turn fires immediately
		Status:      world.ConversationActive,
	}

	ch.ConversationID = s.ID
	npc.InConversation = true

	return s, nil
}

// TurnDue reports whether the session's next LLM round should fire.
func (o *Orchestrator) TurnDue(s *world.ConversationSession, now world.WorldTime) bool {
	return s.Status == world.ConversationActive &&
		now.Sub(s.LastTurnAt) >= o.turnIntervalMinutes
}

// RunTurn performs one LLM round for the session. It runs off the tick loop;
// the world is only mutated later when the engine applies the outcome. The
// session, character, and NPC arguments are snapshots.
func (o *Orchestrator) RunTurn(ctx context.Context, s *world.ConversationSession, ch *world.Character, npc *world.NPC) (*Outcome, error) {
	next := world.SpeakerCharacter
	if len(s.Messages) > 0 && s.Messages[len(s.Messages)-1].Speaker == world.SpeakerCharacter {
		next = world.SpeakerNPC
	}
	nextName := ch.Name
	if next == world.SpeakerNPC {
		nextName = npc.Name
	}

	in := struct {
		CharacterName        string
		CharacterPersonality string
		Goal                 world.ConversationGoal
		NPCName              string
		NPCPersonality       string
		NPCTendencies        string
		NPCMood              string
		NPCAffinity          int
		NPCFacts             []string
		Messages             []world.ConversationMessage
		NextSpeakerName      string
	}{
		CharacterName:        ch.Name,
		CharacterPersonality: ch.Personality,
		Goal:                 s.Goal,
		NPCName:              npc.Name,
		NPCPersonality:       npc.Personality,
		NPCTendencies:        npc.Tendencies,
		NPCMood:              npc.Mood,
		NPCAffinity:          npc.Affinity,
		NPCFacts:             npc.Facts,
		Messages:             s.Messages,
		NextSpeakerName:      nextName,
	}

	var wr strings.Builder
	if err := turnPrompt.Execute(&wr, in); err != nil {
		return nil, fmt.Errorf("could not execute turn prompt template: %w", err)
	}

	var turn TurnResult
	if err := o.gateway.GenerateObject(ctx, wr.String(), npc.CustomPrompt, TurnSchema, &turn); err != nil {
		return nil, err
	}

	// Turns alternate; an inconsistent speaker field is overridden rather
	// than failing the turn.
	turn.Speaker = string(next)

	out := &Outcome{SessionID: s.ID, Turn: turn}

	willClose := turn.EndConversation || turn.GoalAchieved || s.CurrentTurn+1 >= s.MaxTurns
	if willClose {
		out.Summary = o.summarize(ctx, s, turn)
	}

	return out, nil
}

// summarize produces the closing summary. Summarisation failures degrade to
// a locally assembled summary rather than failing the close.
func (o *Orchestrator) summarize(ctx context.Context, s *world.ConversationSession, last TurnResult) *SummaryResult {
	var transcript strings.Builder
	for _, m := range s.Messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.SpeakerName, m.Utterance)
	}
	fmt.Fprintf(&transcript, "(final line) %s\n", last.Utterance)

	prompt := fmt.Sprintf(
		"Summarise this conversation in one or two sentences, and list its topics.\n\n%s",
		transcript.String())

	var out SummaryResult
	if err := o.gateway.GenerateObject(ctx, prompt, "", summarySchema, &out); err != nil {
		if o.log != nil {
			o.log.Warn("conversation_summary_fail",
				slog.String("type", "conversation"),
				slog.String("session_id", s.ID),
				slog.Any("err", err),
			)
		}
		return &SummaryResult{Summary: fmt.Sprintf("Talked about: %s", s.Goal.Goal)}
	}
	return &out
}

// Apply writes one turn outcome into the session, character, and NPC. It
// returns the log entries to emit and whether the session closed. Runs in
// the tick scope.
func (o *Orchestrator) Apply(s *world.ConversationSession, ch *world.Character, npc *world.NPC, out *Outcome, now world.WorldTime) (closed bool, logs []world.ActivityLogEntry) {
	turn := out.Turn

	speaker := world.Speaker(turn.Speaker)
	speakerID, speakerName := ch.ID, ch.Name
	if speaker == world.SpeakerNPC {
		speakerID, speakerName = npc.ID, npc.Name
	}

	s.Messages = append(s.Messages, world.ConversationMessage{
		Speaker:     speaker,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Utterance:   turn.Utterance,
		Timestamp:   now,
	})
	s.CurrentTurn++
	s.LastTurnAt = now

	logs = append(logs, world.ActivityLogEntry{
		Kind:          world.LogKindConversationMessage,
		Seq:           ch.NextActionSeq(),
		Timestamp:     now,
		CharacterID:   ch.ID,
		CharacterName: ch.Name,
		Message: &world.ConversationMessageLogPayload{
			SessionID:   s.ID,
			NPCID:       npc.ID,
			Speaker:     speaker,
			SpeakerName: speakerName,
			Utterance:   turn.Utterance,
		},
	})

	if turn.AffinityDelta != 0 {
		npc.Affinity = clampAffinity(npc.Affinity+turn.AffinityDelta, o.affinityMin, o.affinityMax)
		s.AffinityChange += turn.AffinityDelta
	}
	if turn.NPCMoodDelta != "" {
		npc.Mood = turn.NPCMoodDelta
	}
	if turn.FactLearned != "" {
		npc.Facts = append(npc.Facts, turn.FactLearned)
	}
	if turn.GoalAchieved {
		s.GoalAchieved = true
	}

	if turn.EndConversation || turn.GoalAchieved || s.CurrentTurn >= s.MaxTurns {
		logs = append(logs, o.close(s, ch, npc, out.Summary, now))
		return true, logs
	}

	return false, logs
}

// close completes the session and releases both participants.
func (o *Orchestrator) close(s *world.ConversationSession, ch *world.Character, npc *world.NPC, summary *SummaryResult, now world.WorldTime) world.ActivityLogEntry {
	s.Status = world.ConversationCompleted

	npc.InConversation = false
	npc.ConversationCount++
	t := now
	npc.LastConversationAt = &t

	ch.ConversationID = ""
	ch.CurrentAction = nil

	if summary == nil {
		summary = &SummaryResult{Summary: fmt.Sprintf("Talked about: %s", s.Goal.Goal)}
	}

	return world.ActivityLogEntry{
		Kind:          world.LogKindConversation,
		Seq:           ch.NextActionSeq(),
		Timestamp:     now,
		CharacterID:   ch.ID,
		CharacterName: ch.Name,
		Conversation: &world.ConversationLogPayload{
			SessionID:      s.ID,
			NPCID:          npc.ID,
			NPCName:        npc.Name,
			Summary:        summary.Summary,
			Topics:         summary.Topics,
			AffinityChange: s.AffinityChange,
			NPCMood:        npc.Mood,
			GoalAchieved:   s.GoalAchieved,
		},
	}
}

// Abort terminates a session without a summary, e.g. at engine stop.
func (o *Orchestrator) Abort(s *world.ConversationSession, ch *world.Character, npc *world.NPC) {
	s.Status = world.ConversationAborted
	npc.InConversation = false
	ch.ConversationID = ""
	ch.CurrentAction = nil
}

func clampAffinity(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
