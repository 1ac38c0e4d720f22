// Package loader reads the JSON configuration trio — maps, characters, world
// config — builds the immutable runtime structures from them, and enforces
// their invariants. Any violation aborts initialisation.
package loader

import "fmt"

// MapLoadError reports malformed map JSON or a violated map invariant.
type MapLoadError struct {
	MapID string
	Err   error
}

func (e *MapLoadError) Error() string {
	if e.MapID == "" {
		return fmt.Sprintf("map load: %v", e.Err)
	}
	return fmt.Sprintf("map %s: %v", e.MapID, e.Err)
}

func (e *MapLoadError) Unwrap() error { return e.Err }

func mapErr(mapID, format string, args ...any) error {
	return &MapLoadError{MapID: mapID, Err: fmt.Errorf(format, args...)}
}

// CharacterLoadError reports malformed character JSON or an unresolved spawn
// location.
type CharacterLoadError struct {
	CharacterID string
	Err         error
}

func (e *CharacterLoadError) Error() string {
	if e.CharacterID == "" {
		return fmt.Sprintf("character load: %v", e.Err)
	}
	return fmt.Sprintf("character %s: %v", e.CharacterID, e.Err)
}

func (e *CharacterLoadError) Unwrap() error { return e.Err }

func charErr(id, format string, args ...any) error {
	return &CharacterLoadError{CharacterID: id, Err: fmt.Errorf(format, args...)}
}

// ConfigLoadError reports a missing or malformed world configuration.
type ConfigLoadError struct {
	Err error
}

func (e *ConfigLoadError) Error() string { return fmt.Sprintf("config load: %v", e.Err) }

func (e *ConfigLoadError) Unwrap() error { return e.Err }
