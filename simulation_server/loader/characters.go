package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avasek/townsim/simulation_server/world"
)

type characterConfig struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Sprite          string                `json:"sprite,omitempty"`
	Money           int                   `json:"money"`
	Stats           map[string]float64    `json:"stats,omitempty"`
	CurrentMapID    string                `json:"currentMapId"`
	CurrentNodeID   string                `json:"currentNodeId"`
	Position        *world.Position       `json:"position,omitempty"`
	Direction       string                `json:"direction,omitempty"`
	Personality     string                `json:"personality,omitempty"`
	Tendencies      string                `json:"tendencies,omitempty"`
	CustomPrompt    string                `json:"customPrompt,omitempty"`
	Employment      *world.Employment     `json:"employment,omitempty"`
	DefaultSchedule []world.ScheduleEntry `json:"defaultSchedule,omitempty"`
}

type npcConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MapID         string   `json:"mapId"`
	CurrentNodeID string   `json:"currentNodeId"`
	Direction     string   `json:"direction,omitempty"`
	Personality   string   `json:"personality,omitempty"`
	Tendencies    string   `json:"tendencies,omitempty"`
	CustomPrompt  string   `json:"customPrompt,omitempty"`
	Facts         []string `json:"facts,omitempty"`
	Affinity      int      `json:"affinity"`
	Mood          string   `json:"mood,omitempty"`
}

type charactersFile struct {
	Characters []characterConfig `json:"characters"`
	NPCs       []npcConfig       `json:"npcs,omitempty"`
}

const defaultStatValue = 80

// Population is everything characters.json contributes to the initial world.
type Population struct {
	Characters map[string]*world.Character
	NPCs       map[string]*world.NPC
	// DefaultSchedules seed each character's day at rollover.
	DefaultSchedules map[string][]world.ScheduleEntry
}

// LoadCharacters reads characters.json and places everyone on the maps.
// Unresolved spawn locations abort the load.
func LoadCharacters(path string, maps map[string]*world.Map) (*Population, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &CharacterLoadError{Err: fmt.Errorf("could not read characters file %s: %w", path, err)}
	}

	var file charactersFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, &CharacterLoadError{Err: fmt.Errorf("could not unmarshal characters file json: %w", err)}
	}
	if len(file.Characters) == 0 {
		return nil, &CharacterLoadError{Err: fmt.Errorf("characters file %s defines no characters", path)}
	}

	pop := &Population{
		Characters:       map[string]*world.Character{},
		NPCs:             map[string]*world.NPC{},
		DefaultSchedules: map[string][]world.ScheduleEntry{},
	}

	for _, cfg := range file.Characters {
		ch, err := buildCharacter(cfg, maps)
		if err != nil {
			return nil, err
		}
		if _, dup := pop.Characters[ch.ID]; dup {
			return nil, charErr(ch.ID, "duplicate character id")
		}
		pop.Characters[ch.ID] = ch
		if len(cfg.DefaultSchedule) > 0 {
			for _, entry := range cfg.DefaultSchedule {
				if _, _, err := world.ParseClock(entry.Time); err != nil {
					return nil, charErr(ch.ID, "schedule entry: %v", err)
				}
			}
			pop.DefaultSchedules[ch.ID] = cfg.DefaultSchedule
		}
	}

	for _, cfg := range file.NPCs {
		npc, err := buildNPC(cfg, maps)
		if err != nil {
			return nil, err
		}
		if _, dup := pop.NPCs[npc.ID]; dup {
			return nil, charErr(npc.ID, "duplicate npc id")
		}
		pop.NPCs[npc.ID] = npc
	}

	return pop, nil
}

func buildCharacter(cfg characterConfig, maps map[string]*world.Map) (*world.Character, error) {
	if cfg.ID == "" {
		return nil, charErr("", "character is missing an id")
	}

	m, ok := maps[cfg.CurrentMapID]
	if !ok {
		return nil, charErr(cfg.ID, "currentMapId %s does not resolve", cfg.CurrentMapID)
	}
	node, ok := m.Node(cfg.CurrentNodeID)
	if !ok {
		return nil, charErr(cfg.ID, "currentNodeId %s does not resolve on map %s", cfg.CurrentNodeID, cfg.CurrentMapID)
	}

	ch := &world.Character{
		ID:            cfg.ID,
		Name:          cfg.Name,
		Sprite:        cfg.Sprite,
		Money:         cfg.Money,
		CurrentMapID:  cfg.CurrentMapID,
		CurrentNodeID: cfg.CurrentNodeID,
		Position:      node.Position(),
		Direction:     cfg.Direction,
		Personality:   cfg.Personality,
		Tendencies:    cfg.Tendencies,
		CustomPrompt:  cfg.CustomPrompt,
		Employment:    cfg.Employment,
	}
	if cfg.Position != nil {
		ch.Position = *cfg.Position
	}
	if ch.Direction == "" {
		ch.Direction = "down"
	}

	for _, stat := range world.StatNames {
		v, ok := cfg.Stats[stat]
		if !ok {
			v = defaultStatValue
		}
		ch.Stats.Set(stat, v)
	}

	if emp := cfg.Employment; emp != nil {
		wm, ok := maps[emp.MapID]
		if !ok {
			return nil, charErr(cfg.ID, "employment map %s does not resolve", emp.MapID)
		}
		if _, ok := wm.FacilityByID(emp.FacilityID); !ok {
			return nil, charErr(cfg.ID, "employment facility %s does not resolve on map %s", emp.FacilityID, emp.MapID)
		}
	}

	return ch, nil
}

func buildNPC(cfg npcConfig, maps map[string]*world.Map) (*world.NPC, error) {
	if cfg.ID == "" {
		return nil, charErr("", "npc is missing an id")
	}

	m, ok := maps[cfg.MapID]
	if !ok {
		return nil, charErr(cfg.ID, "npc mapId %s does not resolve", cfg.MapID)
	}
	node, ok := m.Node(cfg.CurrentNodeID)
	if !ok {
		return nil, charErr(cfg.ID, "npc currentNodeId %s does not resolve on map %s", cfg.CurrentNodeID, cfg.MapID)
	}

	mood := cfg.Mood
	if mood == "" {
		mood = "neutral"
	}
	direction := cfg.Direction
	if direction == "" {
		direction = "down"
	}

	return &world.NPC{
		ID:            cfg.ID,
		Name:          cfg.Name,
		MapID:         cfg.MapID,
		CurrentNodeID: cfg.CurrentNodeID,
		Position:      node.Position(),
		Direction:     direction,
		Personality:   cfg.Personality,
		Tendencies:    cfg.Tendencies,
		CustomPrompt:  cfg.CustomPrompt,
		Facts:         cfg.Facts,
		Affinity:      cfg.Affinity,
		Mood:          mood,
	}, nil
}
