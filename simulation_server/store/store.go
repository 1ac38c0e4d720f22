// Package store is the persistence boundary of the engine. The engine owns
// no files; it talks to a StateStore. The in-memory implementation is the
// behavioural reference: deep-clone on save and load, safe for reads
// concurrent with tick-loop writes.
package store

import (
	"errors"

	"github.com/avasek/townsim/simulation_server/world"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// StateStore persists world and per-character state across restarts.
type StateStore interface {
	SaveState(ws *world.WorldState) error
	LoadState() (*world.WorldState, error)

	SaveCharacter(c *world.Character) error
	LoadCharacter(id string) (*world.Character, error)
	LoadAllCharacters() ([]*world.Character, error)
	DeleteCharacter(id string) error

	SaveTime(t world.WorldTime) error
	LoadTime() (world.WorldTime, error)

	SaveCurrentMapID(id string) error
	LoadCurrentMapID() (string, error)

	SaveSchedule(s *world.Schedule) error
	LoadSchedule(characterID string, day uint32) (*world.Schedule, error)
	LoadSchedulesForCharacter(characterID string) ([]*world.Schedule, error)
	DeleteSchedule(characterID string, day uint32) error
	DeleteAllSchedulesForCharacter(characterID string) error

	AddActionHistory(e world.ActionHistoryEntry) error
	LoadActionHistoryForDay(day uint32) ([]world.ActionHistoryEntry, error)
	UpdateActionHistoryEpisode(characterID string, day uint32, time, episode string) error

	AddMidTermMemory(m world.MidTermMemory) error
	LoadActiveMidTermMemories(characterID string, currentDay uint32) ([]world.MidTermMemory, error)
	DeleteExpiredMidTermMemories(currentDay uint32) error

	HasData() (bool, error)
	Clear() error
	Close() error
}
