// Package action holds the data-driven action catalogue and the executor
// that gates, starts, and completes actions at facilities.
package action

import (
	"fmt"

	"github.com/avasek/townsim/simulation_server/world"
)

// HourRange is an inclusive [Start, End) window of the day, in hours. A
// range with Start > End wraps past midnight.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r HourRange) Contains(hour int) bool {
	if r.Start <= r.End {
		return hour >= r.Start && hour < r.End
	}
	return hour >= r.Start || hour < r.End
}

// Requirements gate entry into an action.
type Requirements struct {
	// FacilityTags that must all be present on the facility. An action with
	// alternative facilities lists them in FacilityTagsAnyOf instead.
	FacilityTags      []world.FacilityTag `json:"facilityTags,omitempty"`
	FacilityTagsAnyOf []world.FacilityTag `json:"facilityTagsAnyOf,omitempty"`
	// Ownership requires the facility owner to be the acting character.
	Ownership bool `json:"ownership,omitempty"`
	// MinStats are lower bounds on the character's stats.
	MinStats map[string]float64 `json:"minStats,omitempty"`
	// NearNPC requires the target NPC to be adjacent on the navigation graph.
	NearNPC bool `json:"nearNpc,omitempty"`
	// Employment requires the character's employment to reference a
	// workplace whose facility exposes this job.
	Employment bool `json:"employment,omitempty"`
	// WorkHours constrains when the action may start.
	WorkHours *HourRange `json:"workHours,omitempty"`
}

// DurationRange bounds a variable-duration action, in world minutes.
type DurationRange struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

// Clamp forces d into the range; non-positive d selects the default.
func (r DurationRange) Clamp(d int) int {
	if d <= 0 {
		return r.Default
	}
	if d < r.Min {
		return r.Min
	}
	if d > r.Max {
		return r.Max
	}
	return d
}

// MoneyDelta is either a literal amount or the symbolic hourly wage derived
// from the facility's job.
type MoneyDelta struct {
	Amount     int  `json:"amount,omitempty"`
	HourlyWage bool `json:"hourlyWage,omitempty"`
}

// Definition describes one action in the catalogue. Fixed actions apply
// Effects once at completion; variable-duration actions apply PerMinute
// rates continuously, replacing normal decay for the stats they cover.
type Definition struct {
	ID            string             `json:"actionId"`
	Requirements  Requirements       `json:"requirements"`
	Duration      int                `json:"duration,omitempty"`
	DurationRange *DurationRange     `json:"durationRange,omitempty"`
	Effects       map[string]float64 `json:"effects,omitempty"`
	PerMinute     map[string]float64 `json:"perMinute,omitempty"`
	Money         *MoneyDelta        `json:"money,omitempty"`
	// SetStats overwrite a stat at completion (toilet sets bladder high).
	SetStats map[string]float64 `json:"setStats,omitempty"`
	// TurnIntervalMinutes paces conversation turns for talk.
	TurnIntervalMinutes int `json:"turnIntervalMinutes,omitempty"`
	// Ephemeral actions are internal state and never persisted.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// Variable reports whether the action has a per-minute effect profile.
func (d *Definition) Variable() bool {
	return len(d.PerMinute) > 0
}

// CoversStat reports whether the action's per-minute profile replaces the
// decay of the given stat.
func (d *Definition) CoversStat(name string) bool {
	_, ok := d.PerMinute[name]
	return ok
}

// ResolveDuration picks the world-minute duration for an execution request.
func (d *Definition) ResolveDuration(requested int) int {
	if d.DurationRange != nil {
		return d.DurationRange.Clamp(requested)
	}
	if d.Duration > 0 {
		return d.Duration
	}
	return requested
}

// Catalog is the set of known actions, in registration order.
type Catalog struct {
	defs  map[string]*Definition
	order []string
}

func NewCatalog(defs ...*Definition) *Catalog {
	c := &Catalog{defs: map[string]*Definition{}}
	for _, d := range defs {
		c.Register(d)
	}
	return c
}

func (c *Catalog) Register(d *Definition) {
	if _, ok := c.defs[d.ID]; !ok {
		c.order = append(c.order, d.ID)
	}
	c.defs[d.ID] = d
}

func (c *Catalog) Get(id string) (*Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// IDs returns all action ids in registration order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// ActionIDs that each facility tag enables.
var facilityTagToActionID = map[world.FacilityTag][]string{
	world.TagKitchen:    {"eat"},
	world.TagRestaurant: {"eat"},
	world.TagBathroom:   {"bathe"},
	world.TagHotspring:  {"bathe"},
	world.TagBedroom:    {"sleep"},
	world.TagToilet:     {"toilet"},
	world.TagWorkspace:  {"work"},
	world.TagPublic:     {"rest"},
}

// ActionsForTags returns the deduplicated union of action ids enabled by the
// given facility tags, in first-seen order. Unknown tags contribute nothing.
func ActionsForTags(tags []world.FacilityTag) []string {
	seen := map[string]bool{}
	var out []string
	for _, tag := range tags {
		for _, id := range facilityTagToActionID[tag] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// DefaultCatalog builds the built-in action set. Numbers here are the
// reproducible defaults; world config may override any of them.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		&Definition{
			ID:            "eat",
			Requirements:  Requirements{FacilityTagsAnyOf: []world.FacilityTag{world.TagKitchen, world.TagRestaurant}},
			DurationRange: &DurationRange{Min: 15, Max: 60, Default: 30},
			PerMinute:     map[string]float64{world.StatSatiety: 1.67},
		},
		&Definition{
			ID:            "sleep",
			Requirements:  Requirements{FacilityTags: []world.FacilityTag{world.TagBedroom}, Ownership: true},
			DurationRange: &DurationRange{Min: 60, Max: 600, Default: 480},
			PerMinute:     map[string]float64{world.StatEnergy: 0.2, world.StatMood: 0.02},
		},
		&Definition{
			ID:            "bathe",
			Requirements:  Requirements{FacilityTagsAnyOf: []world.FacilityTag{world.TagBathroom, world.TagHotspring}},
			DurationRange: &DurationRange{Min: 15, Max: 60, Default: 20},
			PerMinute:     map[string]float64{world.StatHygiene: 3.0},
		},
		&Definition{
			ID:            "toilet",
			Requirements:  Requirements{FacilityTags: []world.FacilityTag{world.TagToilet}},
			DurationRange: &DurationRange{Min: 3, Max: 10, Default: 5},
			PerMinute:     map[string]float64{world.StatBladder: 0},
			SetStats:      map[string]float64{world.StatBladder: 95},
		},
		&Definition{
			ID:            "rest",
			Requirements:  Requirements{FacilityTags: []world.FacilityTag{world.TagPublic}},
			DurationRange: &DurationRange{Min: 10, Max: 120, Default: 30},
			PerMinute:     map[string]float64{world.StatMood: 0.1},
		},
		&Definition{
			ID:            "work",
			Requirements:  Requirements{FacilityTags: []world.FacilityTag{world.TagWorkspace}, Employment: true, WorkHours: &HourRange{Start: 8, End: 18}},
			DurationRange: &DurationRange{Min: 60, Max: 480, Default: 240},
			PerMinute:     map[string]float64{world.StatEnergy: -0.08, world.StatMood: -0.03},
			Money:         &MoneyDelta{HourlyWage: true},
		},
		&Definition{
			ID:                  "talk",
			Requirements:        Requirements{NearNPC: true},
			TurnIntervalMinutes: 1,
		},
		&Definition{
			ID:        "thinking",
			Ephemeral: true,
		},
	)
}

// Override merges a config-supplied partial definition over a registered one.
func (c *Catalog) Override(id string, patch Definition) error {
	d, ok := c.defs[id]
	if !ok {
		return fmt.Errorf("unknown action %q", id)
	}
	if patch.Duration > 0 {
		d.Duration = patch.Duration
		d.DurationRange = nil
	}
	if patch.DurationRange != nil {
		d.DurationRange = patch.DurationRange
	}
	if patch.Effects != nil {
		d.Effects = patch.Effects
	}
	if patch.PerMinute != nil {
		d.PerMinute = patch.PerMinute
	}
	if patch.Money != nil {
		d.Money = patch.Money
	}
	if patch.TurnIntervalMinutes > 0 {
		d.TurnIntervalMinutes = patch.TurnIntervalMinutes
	}
	return nil
}
