package world

import (
	"fmt"
	"strconv"
	"strings"
)

// WorldTime is simulation time, counted in whole minutes since day 0.
// Minutes carry into hours, hours into days; it never goes backwards.
type WorldTime struct {
	Day    uint32 `json:"day"`
	Hour   int    `json:"hour"`
	Minute int    `json:"minute"`
}

func NewWorldTime(day uint32, hour, minute int) WorldTime {
	return WorldTime{Day: day, Hour: hour, Minute: minute}
}

// TotalMinutes is the number of minutes since 00:00 of day 0.
func (t WorldTime) TotalMinutes() int {
	return int(t.Day)*24*60 + t.Hour*60 + t.Minute
}

// Add returns the time advanced by the given number of minutes.
func (t WorldTime) Add(minutes int) WorldTime {
	total := t.TotalMinutes() + minutes
	if total < 0 {
		total = 0
	}
	return WorldTime{
		Day:    uint32(total / (24 * 60)),
		Hour:   (total / 60) % 24,
		Minute: total % 60,
	}
}

// Sub returns t minus o in minutes.
func (t WorldTime) Sub(o WorldTime) int {
	return t.TotalMinutes() - o.TotalMinutes()
}

func (t WorldTime) Before(o WorldTime) bool {
	return t.TotalMinutes() < o.TotalMinutes()
}

func (t WorldTime) After(o WorldTime) bool {
	return t.TotalMinutes() > o.TotalMinutes()
}

func (t WorldTime) Equal(o WorldTime) bool {
	return t.TotalMinutes() == o.TotalMinutes()
}

// Clock formats the time of day as "HH:MM".
func (t WorldTime) Clock() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t WorldTime) String() string {
	return fmt.Sprintf("day %d %s", t.Day, t.Clock())
}

// ParseClock parses a "HH:MM" string into an hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock string %q", s)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock string %q out of range", s)
	}

	return hour, minute, nil
}
