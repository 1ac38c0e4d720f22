package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/world"
)

// WorldConfig is the top-level runtime configuration. Everything has a
// default; the file narrows behaviour rather than enabling it.
type WorldConfig struct {
	Timing struct {
		TickRateMs     int `json:"tickRateMs"`
		MinutesPerTick int `json:"minutesPerTick"`
	} `json:"timing"`

	Movement struct {
		Speed float64 `json:"speed"`
		// EntranceProbability is consumed by rendering clients that animate
		// idle wandering; the engine itself moves characters only on purpose.
		EntranceProbability float64 `json:"entranceProbability"`
	} `json:"movement"`

	Grid struct {
		TileSize int `json:"tileSize"`
	} `json:"grid"`

	Canvas struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"canvas"`

	Theme string `json:"theme,omitempty"`

	InitialState struct {
		MapID string `json:"mapId"`
		Day   uint32 `json:"day"`
		Time  string `json:"time"` // "HH:MM"
	} `json:"initialState"`

	Paths struct {
		MapsFile       string `json:"mapsFile"`
		CharactersFile string `json:"charactersFile"`
		DatabaseFile   string `json:"databaseFile,omitempty"`
	} `json:"paths"`

	Time struct {
		Timezone             string             `json:"timezone,omitempty"`
		StatusDecayIntervalMs int               `json:"statusDecayIntervalMs,omitempty"`
		DecayRates           map[string]float64 `json:"decayRates,omitempty"`
	} `json:"time"`

	Error struct {
		PauseOnCriticalError   bool `json:"pauseOnCriticalError"`
		MaxConsecutiveFailures int  `json:"maxConsecutiveFailures"`
		WebhookTimeoutMs       int  `json:"webhookTimeoutMs"`
	} `json:"error"`

	Decider struct {
		Mode string `json:"mode,omitempty"` // "llm" or "rules"
	} `json:"decider"`

	Actions map[string]ActionOverride `json:"actions,omitempty"`

	MiniEpisode struct {
		Probability float64 `json:"probability"`
	} `json:"miniEpisode"`

	Server struct {
		Addr string `json:"addr,omitempty"`
	} `json:"server"`
}

// ActionOverride is a partial action definition merged over the built-in
// catalogue entry.
type ActionOverride struct {
	Duration       int                   `json:"duration,omitempty"`
	DurationRange  *action.DurationRange `json:"durationRange,omitempty"`
	Effects        map[string]float64    `json:"effects,omitempty"`
	PerMinute      map[string]float64    `json:"perMinute,omitempty"`
	TurnIntervalMs int                   `json:"turnIntervalMs,omitempty"`
}

// LoadConfig reads the world configuration file.
func LoadConfig(path string) (*WorldConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigLoadError{Err: fmt.Errorf("could not read config file %s: %w", path, err)}
	}

	var cfg WorldConfig
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, &ConfigLoadError{Err: fmt.Errorf("could not unmarshal config file json: %w", err)}
	}

	if cfg.Paths.MapsFile == "" || cfg.Paths.CharactersFile == "" {
		return nil, &ConfigLoadError{Err: fmt.Errorf("config must name mapsFile and charactersFile")}
	}
	if cfg.InitialState.Time != "" {
		if _, _, err := world.ParseClock(cfg.InitialState.Time); err != nil {
			return nil, &ConfigLoadError{Err: fmt.Errorf("initialState.time: %w", err)}
		}
	}

	return &cfg, nil
}

// InitialTime resolves the configured simulation start time.
func (c *WorldConfig) InitialTime() world.WorldTime {
	t := world.NewWorldTime(c.InitialState.Day, 8, 0)
	if c.InitialState.Time != "" {
		// Validated during load.
		h, m, _ := world.ParseClock(c.InitialState.Time)
		t.Hour, t.Minute = h, m
	}
	return t
}

// ApplyActionOverrides merges the config's action patches into the catalogue.
func (c *WorldConfig) ApplyActionOverrides(catalog *action.Catalog) error {
	for id, o := range c.Actions {
		patch := action.Definition{
			Duration:      o.Duration,
			DurationRange: o.DurationRange,
			Effects:       o.Effects,
			PerMinute:     o.PerMinute,
		}
		if o.TurnIntervalMs > 0 {
			minutes := o.TurnIntervalMs / 60000
			if minutes < 1 {
				minutes = 1
			}
			patch.TurnIntervalMinutes = minutes
		}
		if err := catalog.Override(id, patch); err != nil {
			return &ConfigLoadError{Err: err}
		}
	}
	return nil
}

// Validate loads the whole configuration trio and collects every error it
// can find, for the -validate CLI mode.
func Validate(configPath string) []error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return []error{err}
	}

	var errs []error

	maps, err := LoadMaps(cfg.Paths.MapsFile, cfg.Grid.TileSize)
	if err != nil {
		errs = append(errs, err)
	}

	if maps != nil {
		if _, err := LoadCharacters(cfg.Paths.CharactersFile, maps); err != nil {
			errs = append(errs, err)
		}
		if cfg.InitialState.MapID != "" {
			if _, ok := maps[cfg.InitialState.MapID]; !ok {
				errs = append(errs, &ConfigLoadError{Err: fmt.Errorf("initialState.mapId %s does not resolve", cfg.InitialState.MapID)})
			}
		}
	}

	if err := cfg.ApplyActionOverrides(action.DefaultCatalog()); err != nil {
		errs = append(errs, err)
	}

	return errs
}
