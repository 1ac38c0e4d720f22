package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avasek/townsim/simulation_server/world"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS characters (
	id   TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schedules (
	character_id TEXT NOT NULL,
	day          INTEGER NOT NULL,
	entries      TEXT NOT NULL,
	PRIMARY KEY (character_id, day)
);
CREATE TABLE IF NOT EXISTS action_history (
	rowid_seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	character_id     TEXT NOT NULL,
	day              INTEGER NOT NULL,
	time             TEXT NOT NULL,
	action_id        TEXT NOT NULL,
	target           TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	reason           TEXT NOT NULL DEFAULT '',
	episode          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_action_history_day ON action_history (day);
CREATE TABLE IF NOT EXISTS mid_term_memories (
	id            TEXT PRIMARY KEY,
	character_id  TEXT NOT NULL,
	content       TEXT NOT NULL,
	importance    TEXT NOT NULL,
	created_day   INTEGER NOT NULL,
	expires_day   INTEGER NOT NULL,
	source_npc_id TEXT NOT NULL DEFAULT ''
);
`

// SQLite is a StateStore backed by a single sqlite database file. World
// state, characters, and schedules are stored as JSON documents; action
// history and mid-term memories as rows.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite database %s: %w", path, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not initialise sqlite schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) setKV(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(data))
	return err
}

func (s *SQLite) getKV(key string, out any) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

func (s *SQLite) SaveState(ws *world.WorldState) error {
	return s.setKV("state", ws)
}

func (s *SQLite) LoadState() (*world.WorldState, error) {
	ws := world.NewWorldState()
	if err := s.getKV("state", ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *SQLite) SaveCharacter(c *world.Character) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("could not marshal character %s: %w", c.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO characters (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		c.ID, string(data))
	return err
}

func (s *SQLite) LoadCharacter(id string) (*world.Character, error) {
	var raw string
	err := s.db.QueryRow(`SELECT data FROM characters WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c world.Character
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLite) LoadAllCharacters() ([]*world.Character, error) {
	rows, err := s.db.Query(`SELECT data FROM characters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*world.Character
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c world.Character
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteCharacter(id string) error {
	_, err := s.db.Exec(`DELETE FROM characters WHERE id = ?`, id)
	return err
}

func (s *SQLite) SaveTime(t world.WorldTime) error {
	return s.setKV("time", t)
}

func (s *SQLite) LoadTime() (world.WorldTime, error) {
	var t world.WorldTime
	if err := s.getKV("time", &t); err != nil {
		return world.WorldTime{}, err
	}
	return t, nil
}

func (s *SQLite) SaveCurrentMapID(id string) error {
	return s.setKV("current_map_id", id)
}

func (s *SQLite) LoadCurrentMapID() (string, error) {
	var id string
	if err := s.getKV("current_map_id", &id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) SaveSchedule(sched *world.Schedule) error {
	entries, err := json.Marshal(sched.Entries)
	if err != nil {
		return fmt.Errorf("could not marshal schedule entries: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO schedules (character_id, day, entries) VALUES (?, ?, ?)
		 ON CONFLICT(character_id, day) DO UPDATE SET entries = excluded.entries`,
		sched.CharacterID, sched.Day, string(entries))
	return err
}

func (s *SQLite) LoadSchedule(characterID string, day uint32) (*world.Schedule, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT entries FROM schedules WHERE character_id = ? AND day = ?`,
		characterID, day).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sched := &world.Schedule{CharacterID: characterID, Day: day}
	if err := json.Unmarshal([]byte(raw), &sched.Entries); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *SQLite) LoadSchedulesForCharacter(characterID string) ([]*world.Schedule, error) {
	rows, err := s.db.Query(
		`SELECT day, entries FROM schedules WHERE character_id = ? ORDER BY day`,
		characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*world.Schedule
	for rows.Next() {
		sched := &world.Schedule{CharacterID: characterID}
		var raw string
		if err := rows.Scan(&sched.Day, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &sched.Entries); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSchedule(characterID string, day uint32) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE character_id = ? AND day = ?`, characterID, day)
	return err
}

func (s *SQLite) DeleteAllSchedulesForCharacter(characterID string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE character_id = ?`, characterID)
	return err
}

func (s *SQLite) AddActionHistory(e world.ActionHistoryEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO action_history (character_id, day, time, action_id, target, duration_minutes, reason, episode)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CharacterID, e.Day, e.Time, e.ActionID, e.Target, e.DurationMinutes, e.Reason, e.Episode)
	return err
}

func (s *SQLite) LoadActionHistoryForDay(day uint32) ([]world.ActionHistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT character_id, day, time, action_id, target, duration_minutes, reason, episode
		 FROM action_history WHERE day = ? ORDER BY rowid_seq`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []world.ActionHistoryEntry
	for rows.Next() {
		var e world.ActionHistoryEntry
		if err := rows.Scan(&e.CharacterID, &e.Day, &e.Time, &e.ActionID, &e.Target, &e.DurationMinutes, &e.Reason, &e.Episode); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateActionHistoryEpisode updates the latest matching row.
func (s *SQLite) UpdateActionHistoryEpisode(characterID string, day uint32, time, episode string) error {
	res, err := s.db.Exec(
		`UPDATE action_history SET episode = ?
		 WHERE rowid_seq = (
			SELECT rowid_seq FROM action_history
			WHERE character_id = ? AND day = ? AND time = ?
			ORDER BY rowid_seq DESC LIMIT 1
		 )`,
		episode, characterID, day, time)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) AddMidTermMemory(m world.MidTermMemory) error {
	_, err := s.db.Exec(
		`INSERT INTO mid_term_memories (id, character_id, content, importance, created_day, expires_day, source_npc_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CharacterID, m.Content, string(m.Importance), m.CreatedDay, m.ExpiresDay, m.SourceNPCID)
	return err
}

func (s *SQLite) LoadActiveMidTermMemories(characterID string, currentDay uint32) ([]world.MidTermMemory, error) {
	rows, err := s.db.Query(
		`SELECT id, character_id, content, importance, created_day, expires_day, source_npc_id
		 FROM mid_term_memories WHERE character_id = ? AND expires_day >= ?`,
		characterID, currentDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []world.MidTermMemory
	for rows.Next() {
		var m world.MidTermMemory
		var imp string
		if err := rows.Scan(&m.ID, &m.CharacterID, &m.Content, &imp, &m.CreatedDay, &m.ExpiresDay, &m.SourceNPCID); err != nil {
			return nil, err
		}
		m.Importance = world.MemoryImportance(imp)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteExpiredMidTermMemories(currentDay uint32) error {
	_, err := s.db.Exec(`DELETE FROM mid_term_memories WHERE expires_day < ?`, currentDay)
	return err
}

func (s *SQLite) HasData() (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM characters`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Clear() error {
	for _, table := range []string{"kv", "characters", "schedules", "action_history", "mid_term_memories"} {
		if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
