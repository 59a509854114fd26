// Package narrative keeps a short rolling memory of recently posted
// moments so captions and plans can refer back to them instead of
// reading like disconnected one-offs.
package narrative

import (
	"fmt"
	"strings"
	"time"

	"snapbot/internal/clock"
)

// NoHistory is returned by Summary when nothing has been posted yet.
// It is a real sentence (not "") so downstream prompts can branch on it
// without empty-string checks.
const NoHistory = "no posts yet today"

// Event is one successfully dispatched moment. Failed dispatches are
// never recorded here.
type Event struct {
	At         time.Time       `json:"at"`
	Slot       clock.TimeOfDay `json:"slot"`
	Scene      string          `json:"scene"`
	Caption    string          `json:"caption,omitempty"`
	Supplement bool            `json:"supplement,omitempty"`
}

// Tracker is a fixed-capacity FIFO window over recent events.
// It is not safe for concurrent use; the trigger engine owns it and
// mutates it only from its single tick loop.
type Tracker struct {
	cap    int
	events []Event
}

const defaultCapacity = 8

// NewTracker restores a tracker from a persisted window. Seeds longer
// than the capacity keep only the most recent entries.
func NewTracker(capacity int, seed []Event) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	t := &Tracker{cap: capacity}
	for _, ev := range seed {
		t.Record(ev)
	}
	return t
}

// Record appends an event, evicting the oldest once the cap is hit.
func (t *Tracker) Record(ev Event) {
	t.events = append(t.events, ev)
	if len(t.events) > t.cap {
		t.events = t.events[len(t.events)-t.cap:]
	}
}

// Events returns a copy of the current window, oldest first.
func (t *Tracker) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len reports the number of retained events.
func (t *Tracker) Len() int { return len(t.events) }

// Summary renders the window as short context for the plan and caption
// synthesizers. Only the most recent few events are spelled out.
func (t *Tracker) Summary() string {
	if len(t.events) == 0 {
		return NoHistory
	}
	const renderLast = 3
	var b strings.Builder
	fmt.Fprintf(&b, "%d post(s) so far today:", len(t.events))
	start := len(t.events) - renderLast
	if start < 0 {
		start = 0
	}
	for _, ev := range t.events[start:] {
		b.WriteString("\n- [")
		b.WriteString(ev.Slot.String())
		b.WriteString("] ")
		b.WriteString(ev.Scene)
		if ev.Supplement {
			b.WriteString(" (in-between)")
		}
	}
	return b.String()
}
