package store

import (
	"errors"
	"testing"

	"github.com/avasek/townsim/simulation_server/world"
)

func testWorldState() *world.WorldState {
	ws := world.NewWorldState()
	ws.CurrentMapID = "town"
	ws.Time = world.NewWorldTime(1, 9, 30)
	ws.Characters["alice"] = &world.Character{ID: "alice", Name: "Alice", CurrentMapID: "town", CurrentNodeID: "town-0-0"}
	ws.NPCs["baker"] = &world.NPC{ID: "baker", Name: "The Baker", MapID: "town", CurrentNodeID: "town-1-1"}
	return ws
}

func TestMemoryStateRoundTrip(t *testing.T) {
	m := NewMemory()

	if _, err := m.LoadState(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store must return ErrNotFound, got %v", err)
	}

	ws := testWorldState()
	if err := m.SaveState(ws); err != nil {
		t.Fatal(err)
	}

	// Mutating the saved original must not leak into the store.
	ws.Characters["alice"].Name = "Mallory"

	got, err := m.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if got.Characters["alice"].Name != "Alice" {
		t.Fatal("store must deep-clone on save")
	}

	// Mutating a loaded copy must not leak either.
	got.Characters["alice"].Money = 999
	again, _ := m.LoadState()
	if again.Characters["alice"].Money == 999 {
		t.Fatal("store must deep-clone on load")
	}
}

func TestMemoryCharacters(t *testing.T) {
	m := NewMemory()

	if _, err := m.LoadCharacter("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, id := range []string{"bob", "alice"} {
		if err := m.SaveCharacter(&world.Character{ID: id, Name: id}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := m.LoadAllCharacters()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "alice" || all[1].ID != "bob" {
		t.Fatalf("expected id-sorted characters, got %+v", all)
	}

	if err := m.DeleteCharacter("bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadCharacter("bob"); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted character must be gone")
	}
}

func TestMemoryTimeAndMap(t *testing.T) {
	m := NewMemory()

	if _, err := m.LoadTime(); !errors.Is(err, ErrNotFound) {
		t.Fatal("unset time must be ErrNotFound")
	}
	want := world.NewWorldTime(3, 14, 5)
	_ = m.SaveTime(want)
	got, err := m.LoadTime()
	if err != nil || !got.Equal(want) {
		t.Fatalf("LoadTime = %v, %v", got, err)
	}

	if _, err := m.LoadCurrentMapID(); !errors.Is(err, ErrNotFound) {
		t.Fatal("unset map must be ErrNotFound")
	}
	_ = m.SaveCurrentMapID("town")
	if id, _ := m.LoadCurrentMapID(); id != "town" {
		t.Fatalf("LoadCurrentMapID = %q", id)
	}
}

func TestMemoryScheduleUpsert(t *testing.T) {
	m := NewMemory()

	s := &world.Schedule{CharacterID: "alice", Day: 0, Entries: []world.ScheduleEntry{
		{Time: "08:00", Activity: "eat"},
	}}
	_ = m.SaveSchedule(s)

	s.Entries[0].Done = true
	_ = m.SaveSchedule(s) // same (character, day): replaces

	got, err := m.LoadSchedule("alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 1 || !got.Entries[0].Done {
		t.Fatalf("upsert did not replace: %+v", got)
	}

	_ = m.SaveSchedule(&world.Schedule{CharacterID: "alice", Day: 2})
	_ = m.SaveSchedule(&world.Schedule{CharacterID: "alice", Day: 1})
	_ = m.SaveSchedule(&world.Schedule{CharacterID: "bob", Day: 0})

	all, _ := m.LoadSchedulesForCharacter("alice")
	if len(all) != 3 || all[0].Day != 0 || all[2].Day != 2 {
		t.Fatalf("expected alice's schedules day-sorted, got %+v", all)
	}

	_ = m.DeleteAllSchedulesForCharacter("alice")
	if all, _ := m.LoadSchedulesForCharacter("alice"); len(all) != 0 {
		t.Fatal("delete-all left schedules behind")
	}
	if _, err := m.LoadSchedule("bob", 0); err != nil {
		t.Fatal("other characters' schedules must survive")
	}
}

func TestMemoryActionHistoryEpisode(t *testing.T) {
	m := NewMemory()

	_ = m.AddActionHistory(world.ActionHistoryEntry{CharacterID: "alice", Day: 0, Time: "08:00", ActionID: "eat"})
	_ = m.AddActionHistory(world.ActionHistoryEntry{CharacterID: "alice", Day: 0, Time: "08:00", ActionID: "eat"})
	_ = m.AddActionHistory(world.ActionHistoryEntry{CharacterID: "alice", Day: 1, Time: "08:00", ActionID: "eat"})

	if err := m.UpdateActionHistoryEpisode("alice", 0, "08:00", "burnt the toast"); err != nil {
		t.Fatal(err)
	}

	day0, _ := m.LoadActionHistoryForDay(0)
	if len(day0) != 2 {
		t.Fatalf("expected 2 day-0 entries, got %d", len(day0))
	}
	// The latest matching row takes the episode.
	if day0[0].Episode != "" || day0[1].Episode != "burnt the toast" {
		t.Fatalf("episode attached to the wrong row: %+v", day0)
	}

	if err := m.UpdateActionHistoryEpisode("alice", 5, "08:00", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing row, got %v", err)
	}
}

func TestMemoryMidTermMemories(t *testing.T) {
	m := NewMemory()

	_ = m.AddMidTermMemory(world.MidTermMemory{ID: "m1", CharacterID: "alice", Content: "old", CreatedDay: 0, ExpiresDay: 2})
	_ = m.AddMidTermMemory(world.MidTermMemory{ID: "m2", CharacterID: "alice", Content: "fresh", CreatedDay: 3, ExpiresDay: 6})
	_ = m.AddMidTermMemory(world.MidTermMemory{ID: "m3", CharacterID: "bob", Content: "other", CreatedDay: 3, ExpiresDay: 6})

	active, _ := m.LoadActiveMidTermMemories("alice", 3)
	if len(active) != 1 || active[0].ID != "m2" {
		t.Fatalf("expected only the unexpired memory, got %+v", active)
	}

	_ = m.DeleteExpiredMidTermMemories(3)
	if active, _ := m.LoadActiveMidTermMemories("alice", 0); len(active) != 1 {
		t.Fatalf("expired memories must be purged, got %+v", active)
	}
}

func TestMemoryHasDataAndClear(t *testing.T) {
	m := NewMemory()

	if has, _ := m.HasData(); has {
		t.Fatal("fresh store must be empty")
	}

	_ = m.SaveState(testWorldState())
	if has, _ := m.HasData(); !has {
		t.Fatal("store with a state must report data")
	}

	_ = m.Clear()
	if has, _ := m.HasData(); has {
		t.Fatal("Clear must empty the store")
	}
	if _, err := m.LoadState(); !errors.Is(err, ErrNotFound) {
		t.Fatal("Clear must drop the state")
	}
}
