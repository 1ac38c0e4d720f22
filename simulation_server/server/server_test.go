package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avasek/townsim/simulation_server/action"
	"github.com/avasek/townsim/simulation_server/convo"
	"github.com/avasek/townsim/simulation_server/decide"
	"github.com/avasek/townsim/simulation_server/engine"
	"github.com/avasek/townsim/simulation_server/store"
	"github.com/avasek/townsim/simulation_server/world"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	maps := map[string]*world.Map{
		"town": {
			ID:          "town",
			Name:        "Town",
			SpawnNodeID: "town-0-0",
			Nodes: map[string]*world.PathNode{
				"town-0-0": {ID: "town-0-0", X: 16, Y: 16, Type: world.NodeTypeSpawn, ConnectedTo: []string{"town-0-1"}},
				"town-0-1": {ID: "town-0-1", X: 48, Y: 16, Type: world.NodeTypeWaypoint, ConnectedTo: []string{"town-0-0"}},
			},
		},
	}

	ws := world.NewWorldState()
	ws.CurrentMapID = "town"
	ws.Time = world.NewWorldTime(0, 8, 0)
	ws.Characters["alice"] = &world.Character{
		ID:            "alice",
		Name:          "Alice",
		Money:         100,
		Stats:         world.Stats{Satiety: 80, Energy: 80, Hygiene: 80, Mood: 80, Bladder: 80},
		CurrentMapID:  "town",
		CurrentNodeID: "town-0-0",
		Position:      world.Position{X: 16, Y: 16},
		Direction:     "down",
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.Config{TickRate: time.Hour}, engine.Deps{
		Log:          log,
		Executor:     action.NewExecutor(action.DefaultCatalog()),
		RuleFallback: decide.NewRuleBased(decide.DefaultThresholds()),
		Convo:        convo.New(nil, convo.Config{}, nil),
		Store:        store.NewMemory(),
	})
	eng.Initialize(maps, ws)

	t.Cleanup(eng.Stop)
	return New(eng, log)
}

func doJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return rec.Code, out
}

func TestGetState(t *testing.T) {
	s := testServer(t)

	code, body := doJSON(t, s, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, code)

	state, ok := body["state"].(map[string]any)
	require.True(t, ok, "missing state object: %v", body)
	assert.Equal(t, "town", state["currentMapId"])
	chars, ok := state["characters"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, chars, "alice")

	meta, ok := body["meta"].(map[string]any)
	require.True(t, ok, "missing meta object: %v", body)
	assert.Equal(t, float64(time.Hour.Milliseconds()), meta["tickRate"])
	assert.Equal(t, false, meta["isRunning"])
	assert.Equal(t, false, meta["isPaused"])
}

func TestControlPauseUnpauseToggle(t *testing.T) {
	s := testServer(t)

	code, body := doJSON(t, s, http.MethodPost, "/api/control", `{"action":"pause"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isPaused"])

	code, body = doJSON(t, s, http.MethodPost, "/api/control", `{"action":"unpause"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["isPaused"])

	code, body = doJSON(t, s, http.MethodPost, "/api/control", `{"action":"toggle"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isPaused"])
}

func TestControlStartStop(t *testing.T) {
	s := testServer(t)

	code, body := doJSON(t, s, http.MethodPost, "/api/control", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["isRunning"])

	code, body = doJSON(t, s, http.MethodPost, "/api/control", `{"action":"stop"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["isRunning"])

	// A stopped engine refuses to restart.
	code, body = doJSON(t, s, http.MethodPost, "/api/control", `{"action":"start"}`)
	assert.Equal(t, http.StatusConflict, code, "body: %v", body)
}

func TestControlRejectsBadRequests(t *testing.T) {
	s := testServer(t)

	for name, body := range map[string]string{
		"unknown action": `{"action":"levitate"}`,
		"missing action": `{}`,
		"malformed body": `not json`,
	} {
		code, _ := doJSON(t, s, http.MethodPost, "/api/control", body)
		assert.Equal(t, http.StatusBadRequest, code, name)
	}
}

// closeNotifyRecorder adds the http.CloseNotifier implementation that
// gin's Context.Stream requires but httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func TestStreamDeliversInitialState(t *testing.T) {
	s := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool)}

	done := make(chan struct{})
	go func() {
		s.Router().ServeHTTP(rec, req)
		close(done)
	}()

	// The first event is the snapshot delivered on subscribe; give the
	// handler a moment to flush it, then hang up.
	time.Sleep(100 * time.Millisecond)
	cancel()
	close(rec.closed)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not exit on disconnect")
	}

	body := rec.Body.String()
	assert.Contains(t, body, "event:message")
	assert.Contains(t, body, `"type":"state"`)
	assert.Contains(t, body, `"currentMapId":"town"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
