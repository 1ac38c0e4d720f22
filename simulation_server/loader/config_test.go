package loader

import (
	"strings"
	"testing"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/world"
)

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "world.json", `{
		"timing": {"tickRateMs": 500, "minutesPerTick": 2},
		"paths": {"mapsFile": "maps.json", "charactersFile": "characters.json"},
		"initialState": {"mapId": "town", "day": 1, "time": "07:30"},
		"decider": {"mode": "rules"}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timing.TickRateMs != 500 || cfg.Timing.MinutesPerTick != 2 {
		t.Fatalf("timing wrong: %+v", cfg.Timing)
	}
	if got := cfg.InitialTime(); !got.Equal(world.NewWorldTime(1, 7, 30)) {
		t.Fatalf("InitialTime = %v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, "world.json", `{
		"paths": {"mapsFile": "maps.json", "charactersFile": "characters.json"}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.InitialTime(); !got.Equal(world.NewWorldTime(0, 8, 0)) {
		t.Fatalf("default start is day 0 08:00, got %v", got)
	}
}

func TestLoadConfigRejections(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"missing paths", `{}`, "mapsFile"},
		{
			"bad initial time",
			`{"paths":{"mapsFile":"m","charactersFile":"c"},"initialState":{"time":"26:00"}}`,
			"initialState.time",
		},
		{"broken json", `{`, "unmarshal"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "world.json", c.json))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestApplyActionOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "world.json", `{
		"paths": {"mapsFile": "m", "charactersFile": "c"},
		"actions": {
			"eat": {"duration": 45, "perMinute": {"satiety": 2.5}},
			"talk": {"turnIntervalMs": 120000}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	catalog := action.DefaultCatalog()
	if err := cfg.ApplyActionOverrides(catalog); err != nil {
		t.Fatal(err)
	}

	eat, _ := catalog.Get("eat")
	if eat.Duration != 45 || eat.PerMinute["satiety"] != 2.5 {
		t.Fatalf("eat override not applied: %+v", eat)
	}

	talk, _ := catalog.Get("talk")
	if talk.TurnIntervalMinutes != 2 {
		t.Fatalf("turnIntervalMs must convert to minutes, got %d", talk.TurnIntervalMinutes)
	}
}

func TestApplyActionOverridesUnknownAction(t *testing.T) {
	cfg, err := LoadConfig(writeFile(t, "world.json", `{
		"paths": {"mapsFile": "m", "charactersFile": "c"},
		"actions": {"levitate": {"duration": 5}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ApplyActionOverrides(action.DefaultCatalog()); err == nil {
		t.Fatal("unknown action override must fail")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	maps := writeFile(t, "maps.json", goodMaps)

	// Characters file references a node that does not exist; initial map is
	// unknown. Both must be reported.
	chars := writeFile(t, "characters.json",
		`{"characters":[{"id":"a","currentMapId":"town","currentNodeId":"town-9-9"}]}`)

	cfgPath := writeFile(t, "world.json", `{
		"paths": {"mapsFile": "`+maps+`", "charactersFile": "`+chars+`"},
		"initialState": {"mapId": "mars"}
	}`)

	errs := Validate(cfgPath)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestValidateOK(t *testing.T) {
	maps := writeFile(t, "maps.json", goodMaps)
	chars := writeFile(t, "characters.json",
		`{"characters":[{"id":"a","currentMapId":"town","currentNodeId":"town-0-0"}]}`)
	cfgPath := writeFile(t, "world.json", `{
		"paths": {"mapsFile": "`+maps+`", "charactersFile": "`+chars+`"},
		"initialState": {"mapId": "town"}
	}`)

	if errs := Validate(cfgPath); len(errs) != 0 {
		t.Fatalf("expected a clean validation, got %v", errs)
	}
}
