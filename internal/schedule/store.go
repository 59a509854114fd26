package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"snapbot/internal/clock"
	"snapbot/internal/narrative"
	"snapbot/pkg/logx"
)

// ErrStorage wraps persistence failures. A mutation that returns it has
// NOT been durably committed; the previous on-disk state is intact.
var ErrStorage = errors.New("storage failure")

// ErrNoPlan is returned when a mutation references a day with no plan.
var ErrNoPlan = errors.New("no plan for date")

// DateKey formats a wall-clock instant as the calendar key plans are
// filed under.
func DateKey(t time.Time) string { return t.Format("2006-01-02") }

// Hints is ambient context forwarded into plan synthesis requests.
type Hints struct {
	Persona string
	Weather string
	Holiday bool
}

// Store owns the persistent state aggregate. Every mutating method
// performs a durable write before reporting success; writes are
// write-new-then-rename so a crash mid-write never corrupts the last
// committed state.
type Store struct {
	mu sync.Mutex

	path         string
	retention    int
	narrativeCap int
	planner      Planner
	log          logx.Logger

	st *State
}

const defaultRetentionDays = 7

// Open loads the state file at path (starting fresh when absent) and
// returns a ready store. A corrupt state file is logged and replaced by
// an empty state rather than refusing to start.
func Open(path string, retentionDays, narrativeCap int, planner Planner, log logx.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("schedule: state path is required")
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s := &Store{
		path:         path,
		retention:    retentionDays,
		narrativeCap: narrativeCap,
		planner:      planner,
		log:          log,
		st:           newState(),
	}
	if err := s.loadLocked(); err != nil {
		s.log.Warn("state file unreadable, starting fresh", logx.String("path", path), logx.Err(err))
		s.st = newState()
	}
	return s, nil
}

func (s *Store) loadLocked() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	// Plain decode: unknown fields from newer versions are ignored,
	// missing optional fields take zero defaults.
	st := newState()
	if err := json.Unmarshal(b, st); err != nil {
		return err
	}
	if st.Days == nil {
		st.Days = map[string]*DailySchedule{}
	}
	s.st = st
	return nil
}

// persistLocked writes the whole aggregate atomically. On failure the
// in-memory state is reloaded from disk so it cannot drift ahead of
// what was actually committed.
func (s *Store) persistLocked() error {
	b, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		s.rollbackLocked()
		return fmt.Errorf("%w: marshal: %v", ErrStorage, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.rollbackLocked()
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.rollbackLocked()
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *Store) rollbackLocked() {
	if err := s.loadLocked(); err != nil {
		s.log.Error("state rollback reload failed", logx.Err(err))
	}
}

// GetOrCreate returns today's plan when one exists with a matching
// persona signature. Otherwise it synthesizes a fresh plan for the
// given slots, archives any superseded plan for the same day, rotates
// retention and persists. The returned plan is a read view; mutate only
// through Store methods.
func (s *Store) GetOrCreate(ctx context.Context, date, personaSignature string, slots []clock.TimeOfDay, hints Hints) (*DailySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotateLocked(date)

	if cur, ok := s.st.Days[date]; ok && !cur.Superseded {
		if cur.PersonaSignature == personaSignature {
			return cur.Clone(), nil
		}
		s.log.Info("persona changed, superseding today's plan",
			logx.String("date", date),
			logx.String("old_signature", cur.PersonaSignature),
			logx.String("new_signature", personaSignature))
		cur.Superseded = true
		s.st.Archived = append(s.st.Archived, cur)
		delete(s.st.Days, date)
	}

	req := PlanRequest{
		Date:             date,
		Slots:            sortedSlots(slots),
		PersonaSignature: personaSignature,
		Persona:          hints.Persona,
		NarrativeSummary: narrative.NewTracker(s.narrativeCap, s.st.Narrative).Summary(),
		RecentDays:       s.recentSummariesLocked(date),
		Weather:          hints.Weather,
		Holiday:          hints.Holiday,
	}

	plan := s.planner.Synthesize(ctx, req)
	plan.Date = date
	plan.PersonaSignature = personaSignature
	plan.SortEntries()
	dedupeEntries(plan)

	s.st.Days[date] = plan
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	s.log.Info("daily plan ready",
		logx.String("date", date),
		logx.Int("entries", len(plan.Entries)),
		logx.String("status", string(plan.Status)))
	return plan.Clone(), nil
}

// Day returns a read view of a retained day's plan.
func (s *Store) Day(date string) (*DailySchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.Days[date]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// MarkConsumed marks the entry at time tod consumed, and its variation
// at variationIdx used when the index is valid. Marking an
// already-consumed entry is a no-op, not an error.
func (s *Store) MarkConsumed(date string, tod clock.TimeOfDay, variationIdx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(date, tod)
	if err != nil {
		return err
	}
	now := time.Now()
	dirty := false
	if !e.Consumed {
		e.Consumed = true
		e.ConsumedAt = &now
		dirty = true
	}
	if variationIdx >= 0 && variationIdx < len(e.Variations) && !e.Variations[variationIdx].Used {
		e.Variations[variationIdx].Used = true
		e.Variations[variationIdx].UsedAt = &now
		dirty = true
	}
	if !dirty {
		return nil
	}
	return s.persistLocked()
}

// MarkVariationUsed persists a variation consumption without consuming
// the whole entry (interval supplements borrow variations this way).
func (s *Store) MarkVariationUsed(date string, tod clock.TimeOfDay, variationIdx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(date, tod)
	if err != nil {
		return err
	}
	if variationIdx < 0 || variationIdx >= len(e.Variations) || e.Variations[variationIdx].Used {
		return nil
	}
	now := time.Now()
	e.Variations[variationIdx].Used = true
	e.Variations[variationIdx].UsedAt = &now
	return s.persistLocked()
}

// ClosestUnconsumed returns the unconsumed entry nearest the reference
// time within maxDistance, measured on a 24-hour dial with wraparound.
// Ties break toward the earlier time of day.
func (s *Store) ClosestUnconsumed(date string, ref clock.TimeOfDay, maxDistance time.Duration) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.st.Days[date]
	if !ok {
		return Entry{}, false
	}
	best := -1
	var bestDist time.Duration
	for i := range d.Entries {
		if d.Entries[i].Consumed {
			continue
		}
		dist := clock.Distance(ref, d.Entries[i].TimeOfDay)
		if dist > maxDistance {
			continue
		}
		if best == -1 || dist < bestDist ||
			(dist == bestDist && d.Entries[i].TimeOfDay < d.Entries[best].TimeOfDay) {
			best = i
			bestDist = dist
		}
	}
	if best == -1 {
		return Entry{}, false
	}
	cp := d.Entries[best]
	cp.Variations = append([]Variation(nil), cp.Variations...)
	return cp, true
}

// ClosestAny is ClosestUnconsumed without the consumed filter or
// distance bound; interval supplements use it purely for narrative
// flavor. The second return is the time relation of ref to the entry.
func (s *Store) ClosestAny(date string, ref clock.TimeOfDay) (Entry, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.st.Days[date]
	if !ok || len(d.Entries) == 0 {
		return Entry{}, "", false
	}
	best := 0
	bestDist := clock.Distance(ref, d.Entries[0].TimeOfDay)
	for i := 1; i < len(d.Entries); i++ {
		dist := clock.Distance(ref, d.Entries[i].TimeOfDay)
		if dist < bestDist || (dist == bestDist && d.Entries[i].TimeOfDay < d.Entries[best].TimeOfDay) {
			best = i
			bestDist = dist
		}
	}
	cp := d.Entries[best]
	cp.Variations = append([]Variation(nil), cp.Variations...)
	return cp, clock.Relation(ref, cp.TimeOfDay), true
}

// NarrativeEvents returns the persisted narrative window.
func (s *Store) NarrativeEvents() []narrative.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]narrative.Event, len(s.st.Narrative))
	copy(out, s.st.Narrative)
	return out
}

// CommitDispatch records a successful fixed-slot dispatch in one
// durable write: entry consumed, variation used, narrative appended.
func (s *Store) CommitDispatch(date string, tod clock.TimeOfDay, variationIdx int, ev narrative.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(date, tod)
	if err != nil {
		return err
	}
	now := time.Now()
	if !e.Consumed {
		e.Consumed = true
		e.ConsumedAt = &now
	}
	if variationIdx >= 0 && variationIdx < len(e.Variations) {
		e.Variations[variationIdx].Used = true
		e.Variations[variationIdx].UsedAt = &now
	}
	s.appendNarrativeLocked(ev)
	return s.persistLocked()
}

// CommitSupplement records a successful interval-supplement dispatch:
// narrative appended and the supplement clock advanced. No entry is
// consumed.
func (s *Store) CommitSupplement(ev narrative.Event, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendNarrativeLocked(ev)
	s.st.IntervalClock = at
	return s.persistLocked()
}

// IntervalClock reports the last supplement attempt time (zero when
// never attempted).
func (s *Store) IntervalClock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IntervalClock
}

// TouchIntervalClock persists a new supplement-clock value without
// recording an event (used for first-run staggering and failed draws).
func (s *Store) TouchIntervalClock(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.IntervalClock = at
	return s.persistLocked()
}

func (s *Store) appendNarrativeLocked(ev narrative.Event) {
	t := narrative.NewTracker(s.narrativeCap, s.st.Narrative)
	t.Record(ev)
	s.st.Narrative = t.Events()
}

func (s *Store) entryLocked(date string, tod clock.TimeOfDay) (*Entry, error) {
	d, ok := s.st.Days[date]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPlan, date)
	}
	for i := range d.Entries {
		if d.Entries[i].TimeOfDay == tod {
			return &d.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no entry at %s", ErrNoPlan, date, tod)
}

// rotateLocked drops retained days (and their archived plans) older
// than the retention window, keyed off the current date.
func (s *Store) rotateLocked(today string) {
	base, err := time.Parse("2006-01-02", today)
	if err != nil {
		return
	}
	cutoff := DateKey(base.AddDate(0, 0, -s.retention))
	for date := range s.st.Days {
		if date < cutoff {
			delete(s.st.Days, date)
		}
	}
	kept := s.st.Archived[:0]
	for _, d := range s.st.Archived {
		if d.Date >= cutoff {
			kept = append(kept, d)
		}
	}
	s.st.Archived = kept
}

func (s *Store) recentSummariesLocked(today string) []string {
	dates := make([]string, 0, len(s.st.Days))
	for date := range s.st.Days {
		if date != today {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	out := make([]string, 0, len(dates))
	for _, date := range dates {
		out = append(out, s.st.Days[date].Summary())
	}
	return out
}

func sortedSlots(slots []clock.TimeOfDay) []clock.TimeOfDay {
	out := append([]clock.TimeOfDay(nil), slots...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupeEntries(d *DailySchedule) {
	seen := map[clock.TimeOfDay]bool{}
	kept := d.Entries[:0]
	for _, e := range d.Entries {
		if seen[e.TimeOfDay] {
			continue
		}
		seen[e.TimeOfDay] = true
		kept = append(kept, e)
	}
	d.Entries = kept
}
