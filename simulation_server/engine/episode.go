package engine

import (
	"fmt"

	"github.com/avasek/townsim/simulation_server/llm"
	"github.com/avasek/townsim/simulation_server/world"
)

// episodeOutcome is the result of a background mini-episode task.
type episodeOutcome struct {
	entry      world.ActionHistoryEntry
	episode    string
	statDeltas map[string]float64
}

type episodeObject struct {
	Episode    string             `json:"episode"`
	StatDeltas map[string]float64 `json:"statDeltas,omitempty"`
}

var episodeSchema = llm.Schema{
	Name: "mini_episode",
	Schema: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"episode": map[string]any{"type": "string"},
			"statDeltas": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number"},
			},
		},
		"required": []any{"episode"},
	},
}

// spawnEpisodeLocked asks the model for a one-or-two sentence vignette about
// the action that just completed. Purely narrative; the character keeps
// deciding while it generates.
func (e *Engine) spawnEpisodeLocked(ch *world.Character, entry world.ActionHistoryEntry) {
	prompt := fmt.Sprintf(
		"%s just finished the action %q", ch.Name, entry.ActionID)
	if entry.Target != "" {
		prompt += fmt.Sprintf(" at %s", entry.Target)
	}
	prompt += fmt.Sprintf(" on day %d at %s.", entry.Day, entry.Time)
	if ch.Personality != "" {
		prompt += fmt.Sprintf("\nPersonality: %s.", ch.Personality)
	}
	prompt += "\nWrite a one or two sentence episode about something small that " +
		"happened during it. Optionally include statDeltas (satiety, energy, " +
		"hygiene, mood, bladder) between -5 and 5 if the episode affected them."

	charID := ch.ID
	e.spawnTask(func() asyncResult {
		var obj episodeObject
		err := e.gateway.GenerateObject(e.ctx, prompt, "", episodeSchema, &obj)
		return asyncResult{
			characterID: charID,
			kind:        taskEpisode,
			episode:     &episodeOutcome{entry: entry, episode: obj.Episode, statDeltas: obj.StatDeltas},
			err:         err,
		}
	})
}
