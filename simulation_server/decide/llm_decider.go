package decide

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/avasek/townsim/simulation_server/llm"
)

const decisionPromptText = `You are {{.Character.Name}}, a character in a small town.
{{- if .Character.Personality}}
Personality: {{.Character.Personality}}
{{- end}}
{{- if .Character.Tendencies}}
Tendencies: {{.Character.Tendencies}}
{{- end}}
{{- if .Character.CustomPrompt}}
{{.Character.CustomPrompt}}
{{- end}}

Current time: day {{.Time.Day}}, {{.Time.Clock}}.
Location: map {{.Character.CurrentMapID}}, node {{.Character.CurrentNodeID}}.
Money: {{.Character.Money}}.
Stats (0-100): satiety {{printf "%.0f" .Character.Stats.Satiety}}, energy {{printf "%.0f" .Character.Stats.Energy}}, hygiene {{printf "%.0f" .Character.Stats.Hygiene}}, mood {{printf "%.0f" .Character.Stats.Mood}}, bladder {{printf "%.0f" .Character.Stats.Bladder}}.

{{- if .Schedule}}
Today's schedule:
{{- range .Schedule.Entries}}
- {{.Time}} {{.Activity}}{{if .Location}} at {{.Location}}{{end}}{{if .Done}} (done){{end}}
{{- end}}
{{- end}}

Actions you can take right now: {{join .AvailableActions ", "}}.

Facilities on this map:
{{- range .CurrentMapFacilities}}
- {{.FacilityID}}{{if .Label}} ({{.Label}}){{end}}: {{join .AvailableActions ", "}}{{if .Cost}}, cost {{.Cost}}{{end}}
{{- end}}
{{- if .NearbyMaps}}

Nearby maps:
{{- range .NearbyMaps}}
- {{.MapID}} ({{.Name}}), {{.Hops}} hops away
{{- end}}
{{- end}}
{{- if .NearbyFacilities}}

Facilities on nearby maps:
{{- range .NearbyFacilities}}
- {{.FacilityID}} on {{.MapID}}, {{.Hops}} hops: {{join .AvailableActions ", "}}
{{- end}}
{{- end}}
{{- if .NearbyNPCs}}

People nearby you could talk to:
{{- range .NearbyNPCs}}
- {{.Name}} (id {{.ID}}), mood {{.Mood}}, affinity {{.Affinity}}
{{- end}}
{{- end}}
{{- if .TodayActions}}

What you already did today:
{{- range .TodayActions}}
- {{.Time}} {{.ActionID}}{{if .Target}} ({{.Target}}){{end}}
{{- end}}
{{- end}}
{{- if .MidTermMemories}}

Things you remember:
{{- range .MidTermMemories}}
- {{.Content}}
{{- end}}
{{- end}}

Decide what to do next. Prefer following your schedule; attend to urgent
needs first. Respond with a single decision object.`

var decisionPrompt = template.Must(template.
	New("behaviour_decision").
	Funcs(template.FuncMap{"join": strings.Join}).
	Option("missingkey=error").
	Parse(decisionPromptText))

// DecisionSchema is the structured-output contract for behaviour decisions.
var DecisionSchema = llm.Schema{
	Name: "behaviour_decision",
	Schema: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"type": map[string]any{
				"type": "string",
				"enum": []any{"action", "move", "idle"},
			},
			"actionId":         map[string]any{"type": "string"},
			"targetNodeId":     map[string]any{"type": "string"},
			"targetMapId":      map[string]any{"type": "string"},
			"targetNpcId":      map[string]any{"type": "string"},
			"targetFacilityId": map[string]any{"type": "string"},
			"durationMinutes":  map[string]any{"type": "integer"},
			"conversationGoal": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"goal":            map[string]any{"type": "string"},
					"successCriteria": map[string]any{"type": "string"},
				},
				"required": []any{"goal", "successCriteria"},
			},
			"scheduleUpdate": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"kind": map[string]any{
						"type": "string",
						"enum": []any{"add", "modify", "remove"},
					},
					"time": map[string]any{"type": "string"},
					"entry": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"properties": map[string]any{
							"time":     map[string]any{"type": "string"},
							"activity": map[string]any{"type": "string"},
							"location": map[string]any{"type": "string"},
							"note":     map[string]any{"type": "string"},
						},
						"required": []any{"time", "activity"},
					},
				},
				"required": []any{"kind"},
			},
			"reason": map[string]any{"type": "string"},
		},
		"required": []any{"type"},
	},
}

// LLMDecider asks the gateway for a structured decision conforming to
// DecisionSchema. Errors bubble up unchanged so the engine can classify
// them and consult the rule-based fallback.
type LLMDecider struct {
	gateway llm.Gateway
	log     *slog.Logger
}

func NewLLMDecider(gateway llm.Gateway, log *slog.Logger) *LLMDecider {
	return &LLMDecider{gateway: gateway, log: log}
}

func (d *LLMDecider) Decide(ctx context.Context, bc *Context) (*Decision, error) {
	var wr strings.Builder
	if err := decisionPrompt.Execute(&wr, bc); err != nil {
		return nil, fmt.Errorf("could not execute decision prompt template: %w", err)
	}

	var out Decision
	if err := d.gateway.GenerateObject(ctx, wr.String(), "", DecisionSchema, &out); err != nil {
		return nil, err
	}

	if err := validateDecision(bc, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// validateDecision runs the semantic checks the JSON schema cannot express.
// Failures read as schema errors so the classifier maps them to
// LLM_INVALID_RESPONSE.
func validateDecision(bc *Context, d *Decision) error {
	switch d.Type {
	case DecisionIdle:
		return nil
	case DecisionAction:
		if d.ActionID == "" {
			return fmt.Errorf("invalid decision: action without actionId")
		}
		if d.ActionID == "talk" && d.TargetNPCID == "" {
			return fmt.Errorf("invalid decision: talk without targetNpcId")
		}
		return nil
	case DecisionMove:
		if d.TargetNodeID == "" && d.TargetFacilityID == "" {
			return fmt.Errorf("invalid decision: move without target")
		}
		return nil
	default:
		return fmt.Errorf("invalid decision type %q", d.Type)
	}
}
