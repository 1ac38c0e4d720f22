package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/convo"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/llm"
	"github.com/avasek/townsim/simulation_server/store"
	"github.com/avasek/townsim/simulation_server/world"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testGrid builds a rows x cols waypoint lattice with 4-neighbour edges and
// 32px tiles.
func testGrid(id string, rows, cols int) *world.Map {
	m := &world.Map{
		ID:         id,
		Name:       id,
		GridPrefix: id,
		Nodes:      map[string]*world.PathNode{},
	}
	nodeID := func(r, c int) string { return fmt.Sprintf("%s-%d-%d", id, r, c) }
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Nodes[nodeID(r, c)] = &world.PathNode{
				ID:   nodeID(r, c),
				X:    float64(c*32 + 16),
				Y:    float64(r*32 + 16),
				Type: world.NodeTypeWaypoint,
			}
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			n := m.Nodes[nodeID(r, c)]
			for _, rc := range [][2]int{{r - 1, c}, {r + 1, c}, {r, c - 1}, {r, c + 1}} {
				if other, ok := m.Nodes[nodeID(rc[0], rc[1])]; ok {
					n.ConnectedTo = append(n.ConnectedTo, other.ID)
				}
			}
		}
	}
	m.SpawnNodeID = nodeID(0, 0)
	return m
}

// testMaps builds a town with a toilet zone and a forest reachable through an
// entrance pair.
func testMaps() map[string]*world.Map {
	town := testGrid("town", 4, 4)
	town.Obstacles = []*world.Obstacle{
		{
			ID:   "toilet-1",
			Type: world.ObstacleZone,
			X:    64, Y: 64, Width: 64, Height: 64, // covers town-2-2..town-3-3
			Label:    "Public Toilet",
			Facility: &world.Facility{Tags: []world.FacilityTag{world.TagToilet}},
		},
	}

	forest := testGrid("forest", 4, 4)

	town.Nodes["town-east"] = &world.PathNode{
		ID: "town-east", X: 144, Y: 16,
		Type:        world.NodeTypeEntrance,
		ConnectedTo: []string{"town-0-3"},
		LeadsTo:     &world.LeadsTo{MapID: "forest", NodeID: "forest-west"},
	}
	town.Nodes["town-0-3"].ConnectedTo = append(town.Nodes["town-0-3"].ConnectedTo, "town-east")

	forest.Nodes["forest-west"] = &world.PathNode{
		ID: "forest-west", X: 16, Y: 16,
		Type:        world.NodeTypeEntrance,
		ConnectedTo: []string{"forest-0-0"},
		LeadsTo:     &world.LeadsTo{MapID: "town", NodeID: "town-east"},
	}
	forest.Nodes["forest-0-0"].ConnectedTo = append(forest.Nodes["forest-0-0"].ConnectedTo, "forest-west")

	return map[string]*world.Map{"town": town, "forest": forest}
}

func testState() *world.WorldState {
	ws := world.NewWorldState()
	ws.CurrentMapID = "town"
	ws.Time = world.NewWorldTime(0, 8, 0)
	alice := &world.Character{
		ID: "alice", Name: "Alice",
		CurrentMapID:  "town",
		CurrentNodeID: "town-0-0",
		Position:      world.Position{X: 16, Y: 16},
		Direction:     "down",
		Money:         100,
	}
	for _, s := range world.StatNames {
		alice.Stats.Set(s, 80)
	}
	ws.Characters["alice"] = alice
	return ws
}

// newTestEngine builds an initialized engine around the standard fixture.
// Unset deps fall back to working defaults; the ticker goroutine is not
// started, tests drive runTick directly.
func newTestEngine(t *testing.T, cfg Config, deps Deps) (*Engine, *world.WorldState) {
	t.Helper()

	if deps.Log == nil {
		deps.Log = discardLog()
	}
	if deps.Executor == nil {
		deps.Executor = action.NewExecutor(action.DefaultCatalog())
	}
	if deps.RuleFallback == nil {
		deps.RuleFallback = decide.NewRuleBased(decide.DefaultThresholds())
	}
	if deps.Convo == nil {
		deps.Convo = convo.New(nil, convo.Config{}, nil)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(1))
	}
	if cfg.TickRate == 0 {
		cfg.TickRate = time.Second
	}
	if cfg.MovementSpeed == 0 {
		cfg.MovementSpeed = 32 // one 32px edge per tick
	}

	ws := testState()
	e := New(cfg, deps).Initialize(testMaps(), ws)
	return e, ws
}

// waitResults blocks until n async task results are queued.
func waitResults(t *testing.T, e *Engine, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(e.results) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d async results", n)
		}
		time.Sleep(time.Millisecond)
	}
}

type deciderFunc func(context.Context, *decide.Context) (*decide.Decision, error)

func (f deciderFunc) Decide(ctx context.Context, bc *decide.Context) (*decide.Decision, error) {
	return f(ctx, bc)
}

// gatewayStub replays canned structured responses in call order.
type gatewayStub struct {
	responses []any
	calls     int
}

func (g *gatewayStub) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not used")
}

func (g *gatewayStub) GenerateObject(_ context.Context, _, _ string, _ llm.Schema, out any) error {
	i := g.calls
	g.calls++
	if i >= len(g.responses) {
		return errors.New("no canned response")
	}
	b, _ := json.Marshal(g.responses[i])
	return json.Unmarshal(b, out)
}

// --- lifecycle ---

func TestStartLifecycle(t *testing.T) {
	e := New(Config{TickRate: time.Hour}, Deps{Log: discardLog(), Store: store.NewMemory(),
		Executor: action.NewExecutor(action.DefaultCatalog()),
		RuleFallback: decide.NewRuleBased(decide.DefaultThresholds()),
		Convo: convo.New(nil, convo.Config{}, nil)})

	if err := e.Start(); err == nil {
		t.Fatal("starting an uninitialized engine must fail")
	}

	ws := world.NewWorldState()
	ws.Time = world.NewWorldTime(0, 8, 0)
	e.Initialize(testMaps(), ws)
	if err := e.Start(); err == nil {
		t.Fatal("starting with no characters must fail")
	}
}

func TestStartStopStart(t *testing.T) {
	e, _ := newTestEngine(t, Config{TickRate: time.Hour}, Deps{})

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("starting a running engine is a no-op, got %v", err)
	}
	if !e.IsRunning() {
		t.Fatal("engine must report running")
	}

	e.Stop()
	if e.IsRunning() {
		t.Fatal("engine must report stopped")
	}
	if err := e.Start(); err == nil {
		t.Fatal("a stopped engine must not restart")
	}
}

func TestInitializeIdempotent(t *testing.T) {
	e, ws := newTestEngine(t, Config{}, Deps{})
	other := world.NewWorldState()
	e.Initialize(nil, other)
	if e.ws != ws {
		t.Fatal("re-initialization must be a no-op")
	}
}

// --- ticking ---

func TestRunTickAdvancesTimeMonotonically(t *testing.T) {
	e, ws := newTestEngine(t, Config{MinutesPerTick: 1}, Deps{})

	last := ws.Time
	for i := 0; i < 5; i++ {
		e.runTick()
		if !ws.Time.After(last) {
			t.Fatalf("time did not advance: %v -> %v", last, ws.Time)
		}
		if ws.Tick != uint64(i+1) {
			t.Fatalf("tick counter = %d, want %d", ws.Tick, i+1)
		}
		last = ws.Time
	}
}

func TestRunTickDecay(t *testing.T) {
	rates := map[string]float64{
		world.StatSatiety: 0.5,
		world.StatEnergy:  0.25,
	}
	e, ws := newTestEngine(t, Config{MinutesPerTick: 2, DecayRates: rates}, Deps{})

	e.runTick()

	alice := ws.Characters["alice"]
	if alice.Stats.Satiety != 79 {
		t.Fatalf("satiety = %v, want 79 (0.5/min over 2 minutes)", alice.Stats.Satiety)
	}
	if alice.Stats.Energy != 79.5 {
		t.Fatalf("energy = %v, want 79.5", alice.Stats.Energy)
	}
	// No rate configured for mood: it holds.
	if alice.Stats.Mood != 80 {
		t.Fatalf("mood = %v, want 80", alice.Stats.Mood)
	}
}

func TestActionPerMinuteReplacesDecay(t *testing.T) {
	e, ws := newTestEngine(t, Config{}, Deps{})
	alice := ws.Characters["alice"]
	alice.Stats.Set(world.StatSatiety, 20)

	alice.CurrentAction = &world.Action{
		ID:            "eat",
		StartTime:     ws.Time,
		TargetEndTime: ws.Time.Add(30),
	}

	e.runTick()

	// eat restores 1.67 satiety per minute instead of decaying it.
	if got := alice.Stats.Satiety; math.Abs(got-21.67) > 1e-9 {
		t.Fatalf("satiety = %v, want 21.67", got)
	}
	// Energy is not covered by eat and decays at the default rate.
	if got := alice.Stats.Energy; got != 80-0.07 {
		t.Fatalf("energy = %v, want %v", got, 80-0.07)
	}
}

func TestActionCompletes(t *testing.T) {
	st := store.NewMemory()
	e, ws := newTestEngine(t, Config{}, Deps{Store: st})
	alice := ws.Characters["alice"]

	var completed []world.ActivityLogEntry
	unsub := e.SubscribeToLogs(func(entry world.ActivityLogEntry) {
		completed = append(completed, entry)
	})
	defer unsub()

	alice.CurrentAction = &world.Action{
		ID:              "rest",
		StartTime:       ws.Time,
		TargetEndTime:   ws.Time, // already due
		DurationMinutes: 30,
		Reason:          "taking a break",
	}

	e.runTick()

	if alice.CurrentAction != nil {
		t.Fatal("action must be cleared on completion")
	}

	hist, _ := st.LoadActionHistoryForDay(0)
	if len(hist) != 1 || hist[0].ActionID != "rest" || hist[0].Reason != "taking a break" {
		t.Fatalf("history entry wrong: %+v", hist)
	}

	if len(completed) != 1 || completed[0].Kind != world.LogKindAction {
		t.Fatalf("expected one action log, got %+v", completed)
	}
	if completed[0].Action.Status != world.ActionLogCompleted {
		t.Fatalf("log status = %s", completed[0].Action.Status)
	}
}

func TestPauseSkipsTicks(t *testing.T) {
	e, ws := newTestEngine(t, Config{}, Deps{})

	e.Pause()
	if !e.IsPaused() {
		t.Fatal("Pause must take effect")
	}
	e.runTick()
	if ws.Tick != 0 {
		t.Fatal("a paused engine must not tick")
	}

	e.Unpause()
	e.runTick()
	if ws.Tick != 1 {
		t.Fatal("an unpaused engine must tick")
	}

	e.TogglePause()
	if !e.IsPaused() {
		t.Fatal("TogglePause must flip the state")
	}
}

// --- movement ---

func TestMovementOneEdgePerTick(t *testing.T) {
	e, ws := newTestEngine(t, Config{DecayRates: map[string]float64{}}, Deps{})
	alice := ws.Characters["alice"]

	e.beginNavigationLocked(alice, "town", "town-0-2", nil)
	if !alice.Navigation.IsMoving {
		t.Fatal("navigation must start")
	}

	e.runTick()
	if alice.CurrentNodeID != "town-0-1" {
		t.Fatalf("after one tick at 32px/s, node = %s, want town-0-1", alice.CurrentNodeID)
	}
	if alice.Direction != "right" {
		t.Fatalf("direction = %s, want right", alice.Direction)
	}

	e.runTick()
	if alice.CurrentNodeID != "town-0-2" {
		t.Fatalf("node = %s, want town-0-2", alice.CurrentNodeID)
	}
	if alice.Navigation.IsMoving {
		t.Fatal("arrival must end navigation")
	}
	if alice.Position != (world.Position{X: 80, Y: 16}) {
		t.Fatalf("position = %+v", alice.Position)
	}
}

func TestMovementPartialProgress(t *testing.T) {
	e, ws := newTestEngine(t, Config{MovementSpeed: 16, DecayRates: map[string]float64{}}, Deps{})
	alice := ws.Characters["alice"]

	e.beginNavigationLocked(alice, "town", "town-0-1", nil)
	e.runTick()

	// Half an edge: interpolated position, still moving.
	if !alice.Navigation.IsMoving {
		t.Fatal("still mid-edge")
	}
	if alice.Position.X != 32 || alice.Position.Y != 16 {
		t.Fatalf("position = %+v, want midpoint (32,16)", alice.Position)
	}

	e.runTick()
	if alice.Navigation.IsMoving {
		t.Fatal("second half must complete the edge")
	}
}

func TestCrossMapTransition(t *testing.T) {
	e, ws := newTestEngine(t, Config{DecayRates: map[string]float64{}}, Deps{})
	alice := ws.Characters["alice"]
	alice.CurrentNodeID = "town-0-3"
	alice.Position = world.Position{X: 112, Y: 16}

	var transitions []*world.MapTransition
	unsub := e.Subscribe(func(s *world.WorldState) {
		transitions = append(transitions, s.Transition)
	})
	defer unsub()
	transitions = nil // drop the subscription snapshot

	e.beginNavigationLocked(alice, "forest", "forest-1-1", nil)
	e.runTick()

	if alice.CurrentMapID != "forest" {
		t.Fatalf("character must be on the forest after crossing, got %s", alice.CurrentMapID)
	}
	if len(transitions) != 1 || transitions[0] == nil {
		t.Fatalf("crossing tick must publish a transition, got %+v", transitions)
	}
	if transitions[0].FromMapID != "town" || transitions[0].ToMapID != "forest" || transitions[0].CharacterID != "alice" {
		t.Fatalf("transition wrong: %+v", transitions[0])
	}

	e.runTick()
	if last := transitions[len(transitions)-1]; last != nil {
		t.Fatalf("transition must last exactly one published tick, got %+v", last)
	}
}

func TestNavigationUnreachableDefers(t *testing.T) {
	e, ws := newTestEngine(t, Config{DecisionCooldownMinutes: 5}, Deps{})
	alice := ws.Characters["alice"]

	e.beginNavigationLocked(alice, "town", "no-such-node", nil)

	if alice.Navigation.IsMoving {
		t.Fatal("unreachable destination must not start movement")
	}
	until, ok := e.cooldownUntil["alice"]
	if !ok || !until.Equal(ws.Time.Add(5)) {
		t.Fatalf("cooldown not applied: %v %v", until, ok)
	}
}

// --- rule-driven behaviour ---

func TestUrgentBladderDrivesToToilet(t *testing.T) {
	e, ws := newTestEngine(t, Config{DecayRates: map[string]float64{}}, Deps{})
	alice := ws.Characters["alice"]
	alice.Stats.Set(world.StatBladder, 10)

	started := false
	for i := 0; i < 10 && !started; i++ {
		e.runTick()
		started = alice.CurrentAction != nil && alice.CurrentAction.ID == "toilet"
	}
	if !started {
		t.Fatalf("character never reached the toilet; action=%+v node=%s",
			alice.CurrentAction, alice.CurrentNodeID)
	}
	if alice.CurrentMapID != "town" {
		t.Fatalf("wrong map %s", alice.CurrentMapID)
	}

	if errs := CheckInvariants(ws, e.maps); len(errs) != 0 {
		t.Fatalf("invariant violations: %v", errs)
	}
}

func TestScheduledActionMarksEntryDone(t *testing.T) {
	st := store.NewMemory()
	e, ws := newTestEngine(t, Config{DecayRates: map[string]float64{}}, Deps{
		Store: st,
		DefaultSchedules: map[string][]world.ScheduleEntry{
			"alice": {{Time: "08:00", Activity: "rest", Location: ""}},
		},
	})
	alice := ws.Characters["alice"]
	// rest requires a public facility; add one under alice's feet.
	town := e.maps["town"]
	town.Obstacles = append(town.Obstacles, &world.Obstacle{
		ID: "bench", Type: world.ObstacleZone,
		X: 0, Y: 0, Width: 64, Height: 64,
		Facility: &world.Facility{Tags: []world.FacilityTag{world.TagPublic}},
	})

	e.runTick()

	if alice.CurrentAction == nil || alice.CurrentAction.ID != "rest" {
		t.Fatalf("scheduled rest did not start: %+v", alice.CurrentAction)
	}
	sched, err := st.LoadSchedule("alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !sched.Entries[0].Done {
		t.Fatal("fulfilled schedule entry must be marked done")
	}
}

func TestDayRollover(t *testing.T) {
	st := store.NewMemory()
	_ = st.AddMidTermMemory(world.MidTermMemory{
		ID: "m1", CharacterID: "alice", Content: "stale", ExpiresDay: 0,
	})
	e, ws := newTestEngine(t, Config{}, Deps{
		Store: st,
		DefaultSchedules: map[string][]world.ScheduleEntry{
			"alice": {{Time: "09:00", Activity: "rest"}},
		},
	})
	ws.Time = world.NewWorldTime(0, 23, 59)

	e.runTick()

	if ws.Time.Day != 1 {
		t.Fatalf("day = %d, want 1", ws.Time.Day)
	}
	sched := e.schedules["alice"]
	if sched.Day != 1 || len(sched.Entries) != 1 || sched.Entries[0].Done {
		t.Fatalf("day-1 schedule not reseeded: %+v", sched)
	}
	if mems, _ := st.LoadActiveMidTermMemories("alice", 0); len(mems) != 0 {
		t.Fatalf("expired memories must be purged at rollover, got %+v", mems)
	}
}

// --- async decisions and failure handling ---

func TestLLMDecisionApplied(t *testing.T) {
	decider := deciderFunc(func(context.Context, *decide.Context) (*decide.Decision, error) {
		return &decide.Decision{Type: decide.DecisionMove, TargetNodeID: "town-0-1"}, nil
	})
	e, ws := newTestEngine(t, Config{DeciderMode: DeciderLLM, DecayRates: map[string]float64{}},
		Deps{Decider: decider})
	alice := ws.Characters["alice"]

	e.runTick()
	if !e.inflight["alice"] {
		t.Fatal("decision task must be in flight")
	}
	if alice.DisplayEmoji == "" {
		t.Fatal("thinking indicator must be set while deciding")
	}

	waitResults(t, e, 1)
	e.runTick()

	if alice.DisplayEmoji != "" {
		t.Fatal("thinking indicator must clear when the result lands")
	}
	if !alice.Navigation.IsMoving && alice.CurrentNodeID != "town-0-1" {
		t.Fatalf("move decision not applied: node=%s moving=%v", alice.CurrentNodeID, alice.Navigation.IsMoving)
	}
}

func TestOneInflightTaskPerCharacter(t *testing.T) {
	block := make(chan struct{})
	decider := deciderFunc(func(ctx context.Context, _ *decide.Context) (*decide.Decision, error) {
		<-block
		return &decide.Decision{Type: decide.DecisionIdle}, nil
	})
	e, _ := newTestEngine(t, Config{DeciderMode: DeciderLLM}, Deps{Decider: decider})

	e.runTick()
	e.runTick()
	e.runTick()

	if len(e.results) != 0 {
		t.Fatal("the blocked task must not have produced results yet")
	}
	close(block)
	waitResults(t, e, 1)
	if len(e.results) != 1 {
		t.Fatalf("exactly one task may be in flight per character, got %d results", len(e.results))
	}
	e.runTick()
}

func TestCriticalErrorPausesAndNotifies(t *testing.T) {
	received := make(chan []byte, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	decider := deciderFunc(func(context.Context, *decide.Context) (*decide.Decision, error) {
		return nil, errors.New("401 unauthorized")
	})
	e, ws := newTestEngine(t, Config{
		DeciderMode: DeciderLLM,
		PausePolicy: llm.PausePolicy{PauseOnCriticalError: true, MaxConsecutiveFailures: 3},
	}, Deps{
		Decider: decider,
		Webhook: llm.NewWebhookNotifier(hook.URL, time.Second, discardLog()),
	})

	e.runTick()
	waitResults(t, e, 1)
	tickBefore := ws.Tick
	e.runTick()

	if !e.IsPaused() {
		t.Fatal("a critical error must pause the simulation")
	}
	if ws.Tick != tickBefore {
		t.Fatal("the pausing tick must not advance the world")
	}
	if e.ConsecutiveFailures() != 1 {
		t.Fatalf("consecutive failures = %d, want 1", e.ConsecutiveFailures())
	}

	select {
	case body := <-received:
		var payload struct {
			Type  string `json:"type"`
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
			Simulation struct {
				WillPause bool `json:"willPause"`
			} `json:"simulation"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Type != "llm_error" || payload.Error.Code != string(llm.CodeAPIError) || !payload.Simulation.WillPause {
			t.Fatalf("webhook payload wrong: %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not notified")
	}
}

func TestNonCriticalErrorFallsBackToRules(t *testing.T) {
	decider := deciderFunc(func(context.Context, *decide.Context) (*decide.Decision, error) {
		return nil, errors.New("request timed out")
	})
	e, ws := newTestEngine(t, Config{
		DeciderMode: DeciderLLM,
		DecayRates:  map[string]float64{},
	}, Deps{Decider: decider})
	alice := ws.Characters["alice"]
	alice.Stats.Set(world.StatBladder, 10)

	e.runTick()
	waitResults(t, e, 1)
	e.runTick()

	if e.IsPaused() {
		t.Fatal("a timeout must not pause by default")
	}
	// The rule fallback routes alice to the toilet while the LLM path backs
	// off exponentially.
	if !alice.Navigation.IsMoving && alice.CurrentAction == nil {
		t.Fatal("fallback decision must keep the character moving")
	}
	until, ok := e.cooldownUntil["alice"]
	if !ok {
		t.Fatal("backoff cooldown missing")
	}
	if got := until.Sub(ws.Time); got <= 0 {
		t.Fatalf("cooldown must lie in the future, got %d minutes", got)
	}
}

func TestBackoffGrowsWithFailStreak(t *testing.T) {
	e, ws := newTestEngine(t, Config{
		Backoff: llm.Backoff{BaseMinutes: 5, ExponentCap: 5},
	}, Deps{})
	alice := ws.Characters["alice"]

	e.handleLLMErrorLocked(alice, errors.New("request timed out"))
	first := e.cooldownUntil["alice"].Sub(ws.Time)

	e.handleLLMErrorLocked(alice, errors.New("request timed out"))
	second := e.cooldownUntil["alice"].Sub(ws.Time)

	if first != 10 || second != 20 {
		t.Fatalf("backoff = %d,%d minutes, want 10,20", first, second)
	}
}

func TestStaleDecisionDiscarded(t *testing.T) {
	e, ws := newTestEngine(t, Config{}, Deps{})
	alice := ws.Characters["alice"]
	alice.CurrentAction = &world.Action{
		ID:            "rest",
		StartTime:     ws.Time,
		TargetEndTime: ws.Time.Add(60),
	}

	e.results <- asyncResult{
		characterID: "alice",
		kind:        taskDecision,
		decision:    &decide.Decision{Type: decide.DecisionMove, TargetNodeID: "town-0-1"},
	}
	e.runTick()

	if alice.Navigation.IsMoving {
		t.Fatal("a decision arriving while the character is busy must be dropped")
	}
	if alice.CurrentAction == nil {
		t.Fatal("the running action must be untouched")
	}
}

// --- conversations ---

func TestConversationLifecycle(t *testing.T) {
	gw := &gatewayStub{responses: []any{
		convo.TurnResult{Utterance: "Hello, baker!", Speaker: "character"},
		convo.TurnResult{Utterance: "Good day. Bye now.", Speaker: "npc", EndConversation: true},
		convo.SummaryResult{Summary: "A quick greeting at the bakery."},
	}}
	st := store.NewMemory()
	e, ws := newTestEngine(t, Config{DecayRates: map[string]float64{}}, Deps{
		Store: st,
		Convo: convo.New(gw, convo.Config{TurnIntervalMinutes: 1}, discardLog()),
	})
	alice := ws.Characters["alice"]
	ws.NPCs["baker"] = &world.NPC{
		ID: "baker", Name: "The Baker",
		MapID: "town", CurrentNodeID: "town-0-1",
		Position: world.Position{X: 48, Y: 16},
		Mood:     "neutral",
	}

	e.startConversationLocked(alice, "baker", &world.ConversationGoal{Goal: "buy bread", SuccessCriteria: "bread bought"}, "hungry for bread")

	if alice.ConversationID == "" || alice.CurrentAction == nil || alice.CurrentAction.ID != "talk" {
		t.Fatalf("conversation did not start: %+v", alice)
	}
	if !ws.NPCs["baker"].InConversation {
		t.Fatal("npc must be marked busy")
	}
	if errs := CheckInvariants(ws, e.maps); len(errs) != 0 {
		t.Fatalf("invariant violations after start: %v", errs)
	}

	// Turn one.
	e.runTick()
	waitResults(t, e, 1)
	e.runTick()

	s, ok := ws.Session(alice.ConversationID)
	if !ok {
		t.Fatal("session missing after first turn")
	}
	if len(s.Messages) != 1 || s.Messages[0].Utterance != "Hello, baker!" {
		t.Fatalf("first turn not applied: %+v", s.Messages)
	}

	// Turn two ends the conversation; the drain on the following tick closes
	// the session.
	waitResults(t, e, 1)
	e.runTick()

	if alice.ConversationID != "" {
		t.Fatal("character must be released when the conversation closes")
	}
	if ws.NPCs["baker"].InConversation {
		t.Fatal("npc must be released")
	}
	if _, ok := ws.Session(s.ID); ok {
		t.Fatal("closed session must be removed from the world")
	}

	hist, _ := st.LoadActionHistoryForDay(0)
	found := false
	for _, h := range hist {
		if h.ActionID == "talk" && h.Target == "The Baker" {
			found = true
		}
	}
	if !found {
		t.Fatalf("talk history entry missing: %+v", hist)
	}

	mems, _ := st.LoadActiveMidTermMemories("alice", ws.Time.Day)
	if len(mems) != 1 || mems[0].Content != "A quick greeting at the bakery." {
		t.Fatalf("summary must become a mid-term memory: %+v", mems)
	}
	if mems[0].SourceNPCID != "baker" || mems[0].ExpiresDay != ws.Time.Day+3 {
		t.Fatalf("memory metadata wrong: %+v", mems[0])
	}

	if errs := CheckInvariants(ws, e.maps); len(errs) != 0 {
		t.Fatalf("invariant violations after close: %v", errs)
	}
}

func TestConversationRejectedWhenNPCBusy(t *testing.T) {
	e, ws := newTestEngine(t, Config{}, Deps{})
	alice := ws.Characters["alice"]
	ws.NPCs["baker"] = &world.NPC{
		ID: "baker", Name: "The Baker",
		MapID: "town", CurrentNodeID: "town-0-1",
		InConversation: true,
	}

	e.beginTalkLocked(alice, &decide.Decision{Type: decide.DecisionAction, ActionID: "talk", TargetNPCID: "baker"})

	if alice.ConversationID != "" {
		t.Fatal("a busy NPC must reject the talk")
	}
	if _, ok := e.cooldownUntil["alice"]; !ok {
		t.Fatal("the rejected character backs off")
	}
}

// --- mini episodes ---

func TestMiniEpisodeAttachesToHistory(t *testing.T) {
	gw := &gatewayStub{responses: []any{
		map[string]any{"episode": "A pigeon stole a crumb.", "statDeltas": map[string]float64{world.StatMood: 3}},
	}}
	st := store.NewMemory()
	e, ws := newTestEngine(t, Config{
		DecayRates:             map[string]float64{},
		MiniEpisodeProbability: 1,
	}, Deps{Store: st, Gateway: gw})
	alice := ws.Characters["alice"]
	alice.Stats.Set(world.StatMood, 50)

	alice.CurrentAction = &world.Action{
		ID:            "rest",
		StartTime:     ws.Time,
		TargetEndTime: ws.Time,
	}
	e.runTick()

	waitResults(t, e, 1)
	e.runTick()

	hist, _ := st.LoadActionHistoryForDay(0)
	if len(hist) != 1 || hist[0].Episode != "A pigeon stole a crumb." {
		t.Fatalf("episode not attached: %+v", hist)
	}
	if alice.Stats.Mood != 53 {
		t.Fatalf("mood = %v, want 53 after the +3 delta", alice.Stats.Mood)
	}
}

// --- subscriptions ---

func TestSubscribeDeliversSnapshotImmediately(t *testing.T) {
	e, _ := newTestEngine(t, Config{}, Deps{})

	var got []*world.WorldState
	unsub := e.Subscribe(func(s *world.WorldState) { got = append(got, s) })

	if len(got) != 1 {
		t.Fatalf("subscription must deliver the current state at once, got %d", len(got))
	}

	e.runTick()
	if len(got) != 2 {
		t.Fatalf("each tick delivers a snapshot, got %d", len(got))
	}

	// Snapshots are copies: mutating one never touches the engine's state.
	got[1].Characters["alice"].Money = -1
	if e.Snapshot().Characters["alice"].Money == -1 {
		t.Fatal("published snapshots must be deep copies")
	}

	unsub()
	unsub() // idempotent
	e.runTick()
	if len(got) != 2 {
		t.Fatal("unsubscribed observers must not be called")
	}
	if e.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", e.SubscriberCount())
	}
}
