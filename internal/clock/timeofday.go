// Package clock provides clock-face time helpers used by the posting
// engine: HH:MM parsing, wraparound distance between two times of day,
// and sleep-window membership tests.
//
// Everything here is pure; callers pass time.Time values in, nothing
// reads the wall clock.
package clock

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a clock-face time with minute resolution, stored as
// minutes since midnight (0 .. 1439).
type TimeOfDay int

// ParseHHMM parses a strict "HH:MM" string (zero-padded, 24-hour).
func ParseHHMM(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// FromTime truncates t to its clock-face minute.
func FromTime(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// String renders the canonical zero-padded form, e.g. "08:05".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseHHMM(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Distance returns the shortest separation between two times of day on a
// 24-hour dial. 23:55 and 00:05 are 10 minutes apart, never ~24 hours.
func Distance(a, b TimeOfDay) time.Duration {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	if d > minutesPerDay/2 {
		d = minutesPerDay - d
	}
	return time.Duration(d) * time.Minute
}

// Relation classifies where ref sits relative to target on the dial,
// taking the shorter way around: "before" means ref precedes target,
// "after" means ref follows it. Equal times report "within".
func Relation(ref, target TimeOfDay) string {
	if ref == target {
		return "within"
	}
	forward := (int(target) - int(ref) + minutesPerDay) % minutesPerDay
	if forward <= minutesPerDay/2 {
		return "before"
	}
	return "after"
}

// Window is a half-open clock interval [Start, End) that may wrap
// midnight (e.g. 23:00–07:00).
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// ParseWindow parses "HH:MM" start/end strings into a Window.
// A zero-length window (start == end) is rejected as ambiguous.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseHHMM(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := ParseHHMM(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	if s == e {
		return Window{}, fmt.Errorf("window %s-%s is empty or ambiguous", start, end)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether t falls inside the window. Start is
// inclusive, End exclusive; midnight wrap is handled.
func (w Window) Contains(t TimeOfDay) bool {
	if w.Start < w.End {
		return t >= w.Start && t < w.End
	}
	// wraps midnight
	return t >= w.Start || t < w.End
}
