package schedule

import (
	"context"
	"sort"
	"time"

	"snapbot/internal/clock"
	"snapbot/internal/narrative"
)

// GenerationStatus records how a day's plan came to be.
type GenerationStatus string

const (
	GenerationOK       GenerationStatus = "ok"
	GenerationFallback GenerationStatus = "fallback"
)

// Variation is an alternative rendering of an entry's scene for the
// same slot: same place and outfit, different pose/action/expression.
// Each variation is independently consumable.
type Variation struct {
	Description string `json:"description"`
	Pose        string `json:"pose,omitempty"`
	Action      string `json:"action,omitempty"`
	Expression  string `json:"expression,omitempty"`
	Mood        string `json:"mood,omitempty"`

	Used   bool       `json:"used,omitempty"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// Entry is one planned moment for a specific slot within a day.
type Entry struct {
	TimeOfDay  clock.TimeOfDay `json:"time_of_day"`
	Scene      string          `json:"scene"`
	Mood       string          `json:"mood,omitempty"`
	Variations []Variation     `json:"variations,omitempty"`

	Consumed   bool       `json:"consumed,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// NextVariation returns the index and scene text of the first unused
// variation, or (-1, base scene) when none remain.
func (e *Entry) NextVariation() (int, string) {
	for i := range e.Variations {
		if !e.Variations[i].Used {
			return i, e.Variations[i].Description
		}
	}
	return -1, e.Scene
}

// FailurePackage captures everything needed to diagnose a plan
// synthesis failure that forced a fallback plan.
type FailurePackage struct {
	Reason      string    `json:"reason"`
	Prompt      string    `json:"prompt,omitempty"`
	RawResponse string    `json:"raw_response,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// DailySchedule is one day's plan. It is owned exclusively by the
// Store; callers get value copies and mutate through Store methods.
type DailySchedule struct {
	Date             string           `json:"date"` // YYYY-MM-DD
	PersonaSignature string           `json:"persona_signature"`
	Entries          []Entry          `json:"entries"`
	Status           GenerationStatus `json:"status"`
	FallbackReason   string           `json:"fallback_reason,omitempty"`
	FailurePackage   *FailurePackage  `json:"failure_package,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`

	// Superseded marks a plan archived after a mid-day regeneration
	// (persona change). Superseded plans are kept for context, never
	// triggered again.
	Superseded bool `json:"superseded,omitempty"`
}

// SortEntries orders entries by time of day. Plans always persist
// sorted; this keeps externally built plans honest.
func (d *DailySchedule) SortEntries() {
	sort.Slice(d.Entries, func(i, j int) bool {
		return d.Entries[i].TimeOfDay < d.Entries[j].TimeOfDay
	})
}

// Clone returns a deep copy safe to hand out as a read view.
func (d *DailySchedule) Clone() *DailySchedule {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Entries = make([]Entry, len(d.Entries))
	copy(cp.Entries, d.Entries)
	for i := range cp.Entries {
		vars := make([]Variation, len(d.Entries[i].Variations))
		copy(vars, d.Entries[i].Variations)
		cp.Entries[i].Variations = vars
	}
	if d.FailurePackage != nil {
		fp := *d.FailurePackage
		cp.FailurePackage = &fp
	}
	return &cp
}

// Summary renders one line per entry, used as recent-days context so a
// new plan can avoid repeating itself.
func (d *DailySchedule) Summary() string {
	s := d.Date + ":"
	for i := range d.Entries {
		s += " [" + d.Entries[i].TimeOfDay.String() + "] " + d.Entries[i].Scene + ";"
	}
	return s
}

// PlanRequest is the context handed to the plan synthesizer.
type PlanRequest struct {
	Date             string
	Slots            []clock.TimeOfDay
	PersonaSignature string
	Persona          string
	NarrativeSummary string
	RecentDays       []string
	Weather          string
	Holiday          bool
}

// Planner produces a day's plan for the requested slots. It never
// fails: synthesis errors are recovered internally via a fallback plan
// (status + failure package say which path was taken).
type Planner interface {
	Synthesize(ctx context.Context, req PlanRequest) *DailySchedule
}

// State is the single durable aggregate: current and retained days,
// archived superseded plans, the narrative window and the
// interval-supplement clock. Unknown fields in a persisted state are
// ignored on load; missing optional fields take zero-value defaults.
type State struct {
	Version       int                       `json:"version"`
	Days          map[string]*DailySchedule `json:"days"`
	Archived      []*DailySchedule          `json:"archived,omitempty"`
	Narrative     []narrative.Event         `json:"narrative,omitempty"`
	IntervalClock time.Time                 `json:"interval_clock,omitzero"`
}

const stateVersion = 1

func newState() *State {
	return &State{Version: stateVersion, Days: map[string]*DailySchedule{}}
}
