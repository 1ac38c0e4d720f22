package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/convo"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/engine"
	"github.com/avasek/townsim/simulation_server/llm"
	"github.com/avasek/townsim/simulation_server/llm/openai"
	"github.com/avasek/townsim/simulation_server/loader"
	"github.com/avasek/townsim/simulation_server/logging"
	"github.com/avasek/townsim/simulation_server/server"
	"github.com/avasek/townsim/simulation_server/store"
	"github.com/avasek/townsim/simulation_server/world"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config/world.json", "path to the world configuration file")
	validate := flag.Bool("validate", false, "validate the configuration and exit")
	logDir := flag.String("log-dir", "logs", "base directory for run logs")
	flag.Parse()

	if *validate {
		errs := loader.Validate(*configPath)
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, err)
		}
		if len(errs) > 0 {
			os.Exit(1)
		}
		fmt.Println("configuration ok")
		return
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic(fmt.Sprintf("Could not load .env file: %v", err))
	}

	cfg, err := loader.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Could not load config: %v", err))
	}

	rl, err := logging.NewRunLogs(logging.Config{
		BaseDir:        *logDir,
		AlsoToStderr:   true,
		EnableDebugLog: true,
	})
	if err != nil {
		panic(fmt.Sprintf("Could not create logger: %v", err))
	}
	defer func() { _ = rl.Close() }()
	defer logging.RecoverAndLog(rl.Log, rl.Sync)

	maps, err := loader.LoadMaps(cfg.Paths.MapsFile, cfg.Grid.TileSize)
	if err != nil {
		panic(fmt.Sprintf("Could not load maps: %v", err))
	}
	pop, err := loader.LoadCharacters(cfg.Paths.CharactersFile, maps)
	if err != nil {
		panic(fmt.Sprintf("Could not load characters: %v", err))
	}

	catalog := action.DefaultCatalog()
	if err := cfg.ApplyActionOverrides(catalog); err != nil {
		panic(fmt.Sprintf("Could not apply action overrides: %v", err))
	}

	clientOpts := []openai.ClientOpt{
		openai.WithAPIKey(os.Getenv("LLM_API_KEY")),
		openai.WithLogger(rl.Log),
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(url))
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		clientOpts = append(clientOpts, openai.WithModel(model))
	}
	gateway := openai.New(clientOpts...)

	var st store.StateStore
	if cfg.Paths.DatabaseFile != "" {
		st, err = store.OpenSQLite(cfg.Paths.DatabaseFile)
		if err != nil {
			panic(fmt.Sprintf("Could not open state store: %v", err))
		}
	} else {
		st = store.NewMemory()
	}
	defer func() { _ = st.Close() }()

	ws := initialWorldState(cfg, pop, st)

	var webhook *llm.WebhookNotifier
	if url := os.Getenv("ERROR_WEBHOOK_URL"); url != "" {
		webhook = llm.NewWebhookNotifier(url, time.Duration(cfg.Error.WebhookTimeoutMs)*time.Millisecond, rl.Log)
	}

	talkDef, _ := catalog.Get("talk")
	orchestrator := convo.New(gateway, convo.Config{
		TurnIntervalMinutes: talkDef.TurnIntervalMinutes,
	}, rl.Log)

	deciderMode := engine.DeciderMode(cfg.Decider.Mode)
	var decider decide.Decider
	if deciderMode != engine.DeciderRules {
		deciderMode = engine.DeciderLLM
		decider = decide.NewLLMDecider(gateway, rl.Log)
	}

	eng := engine.New(engine.Config{
		TickRate:       time.Duration(cfg.Timing.TickRateMs) * time.Millisecond,
		MinutesPerTick: cfg.Timing.MinutesPerTick,
		MovementSpeed:  cfg.Movement.Speed,
		DecayRates:     decayRates(cfg),
		DeciderMode:    deciderMode,
		PausePolicy: llm.PausePolicy{
			PauseOnCriticalError:   cfg.Error.PauseOnCriticalError,
			MaxConsecutiveFailures: cfg.Error.MaxConsecutiveFailures,
		},
		MiniEpisodeProbability: cfg.MiniEpisode.Probability,
	}, engine.Deps{
		Log:              rl.Log,
		Executor:         action.NewExecutor(catalog),
		Decider:          decider,
		RuleFallback:     decide.NewRuleBased(decide.DefaultThresholds()),
		Convo:            orchestrator,
		Store:            st,
		Webhook:          webhook,
		Gateway:          gateway,
		DefaultSchedules: pop.DefaultSchedules,
	})
	eng.Initialize(maps, ws)

	if err := eng.Start(); err != nil {
		panic(fmt.Sprintf("Could not start engine: %v", err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		rl.Log.Info("shutdown_signal")
		eng.Stop()
		rl.Sync()
		os.Exit(0)
	}()

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := server.New(eng, rl.Log)
	if err := srv.Run(addr); err != nil {
		panic(fmt.Sprintf("Could not run http server: %v", err))
	}
}

// initialWorldState resumes a persisted world when the store has one;
// otherwise it seeds a fresh state from the configuration.
func initialWorldState(cfg *loader.WorldConfig, pop *loader.Population, st store.StateStore) *world.WorldState {
	if has, err := st.HasData(); err == nil && has {
		if ws, err := st.LoadState(); err == nil {
			ws.IsPaused = false
			return ws
		}
	}

	ws := world.NewWorldState()
	ws.Characters = pop.Characters
	ws.NPCs = pop.NPCs
	ws.CurrentMapID = cfg.InitialState.MapID
	ws.Time = cfg.InitialTime()
	return ws
}

// decayRates converts the config's per-minute rates onto stat names,
// falling back to engine defaults for anything unset.
func decayRates(cfg *loader.WorldConfig) map[string]float64 {
	if len(cfg.Time.DecayRates) == 0 {
		return nil
	}
	rates := map[string]float64{}
	for _, stat := range world.StatNames {
		if v, ok := cfg.Time.DecayRates[stat+"PerMinute"]; ok {
			rates[stat] = v
		} else if v, ok := cfg.Time.DecayRates[stat]; ok {
			rates[stat] = v
		}
	}
	return rates
}
