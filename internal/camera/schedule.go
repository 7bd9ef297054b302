// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"fmt"
	"strings"
	"time"
)

// Schedule is the detection window used by DetectionScheduled. Start and End
// are "HH:MM" local times; End before Start spans midnight. Empty Days means
// every day.
type Schedule struct {
	Days  []string `yaml:"days" json:"days"`
	Start string   `yaml:"start" json:"start"`
	End   string   `yaml:"end" json:"end"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Validate checks day names and clock formats.
func (s Schedule) Validate() error {
	for _, d := range s.Days {
		if _, ok := weekdays[strings.ToLower(d)]; !ok {
			return fmt.Errorf("schedule: unknown day %q", d)
		}
	}
	if _, err := parseClock(s.Start); err != nil {
		return fmt.Errorf("schedule start: %w", err)
	}
	if _, err := parseClock(s.End); err != nil {
		return fmt.Errorf("schedule end: %w", err)
	}
	return nil
}

// Active reports whether t falls inside the window. An invalid schedule is
// never active.
func (s Schedule) Active(t time.Time) bool {
	start, err := parseClock(s.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(s.End)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()

	day := t.Weekday()
	inWindow := false
	switch {
	case start == end:
		inWindow = true
	case start < end:
		inWindow = minute >= start && minute < end
	default:
		// spans midnight; the early-morning part belongs to the previous day
		if minute >= start {
			inWindow = true
		} else if minute < end {
			inWindow = true
			day = (day + 6) % 7
		}
	}
	return inWindow && s.hasDay(day)
}

func (s Schedule) hasDay(d time.Weekday) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, name := range s.Days {
		if wd, ok := weekdays[strings.ToLower(name)]; ok && wd == d {
			return true
		}
	}
	return false
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DetectionActive reports whether motion detection should run at t.
func (c Config) DetectionActive(t time.Time) bool {
	if c.RecordingMode == RecordingOff {
		return false
	}
	switch c.DetectionMode {
	case DetectionOff:
		return false
	case DetectionScheduled:
		return c.Schedule.Active(t)
	default:
		return true
	}
}
