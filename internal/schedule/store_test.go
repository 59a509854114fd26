package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"snapbot/internal/clock"
	"snapbot/internal/narrative"
	"snapbot/pkg/logx"
)

type stubPlanner struct {
	calls int
}

func (p *stubPlanner) Synthesize(_ context.Context, req PlanRequest) *DailySchedule {
	p.calls++
	d := &DailySchedule{
		Date:             req.Date,
		PersonaSignature: req.PersonaSignature,
		Status:           GenerationOK,
		GeneratedAt:      time.Now(),
	}
	for _, slot := range req.Slots {
		d.Entries = append(d.Entries, Entry{
			TimeOfDay: slot,
			Scene:     "at slot " + slot.String(),
			Mood:      "calm",
			Variations: []Variation{
				{Description: "first look"},
				{Description: "second look"},
			},
		})
	}
	return d
}

func tod(t *testing.T, s string) clock.TimeOfDay {
	t.Helper()
	v, err := clock.ParseHHMM(s)
	if err != nil {
		t.Fatalf("ParseHHMM(%q): %v", s, err)
	}
	return v
}

func openTestStore(t *testing.T) (*Store, *stubPlanner, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	p := &stubPlanner{}
	s, err := Open(path, 7, 8, p, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, p, path
}

func TestGetOrCreateReusesMatchingPlan(t *testing.T) {
	t.Parallel()
	s, p, _ := openTestStore(t)
	ctx := context.Background()
	slots := []clock.TimeOfDay{tod(t, "09:00"), tod(t, "21:00")}

	first, err := s.GetOrCreate(ctx, "2026-08-29", "sig-a", slots, Hints{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := s.GetOrCreate(ctx, "2026-08-29", "sig-a", slots, Hints{})
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("planner called %d times, want 1", p.calls)
	}
	if len(first.Entries) != 2 || len(second.Entries) != 2 {
		t.Fatalf("entries = %d, %d; want 2, 2", len(first.Entries), len(second.Entries))
	}
}

func TestGetOrCreateSupersedesOnPersonaChange(t *testing.T) {
	t.Parallel()
	s, p, _ := openTestStore(t)
	ctx := context.Background()
	slots := []clock.TimeOfDay{tod(t, "09:00")}

	if _, err := s.GetOrCreate(ctx, "2026-08-29", "sig-a", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	plan, err := s.GetOrCreate(ctx, "2026-08-29", "sig-b", slots, Hints{})
	if err != nil {
		t.Fatalf("GetOrCreate after persona change: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("planner called %d times, want 2", p.calls)
	}
	if plan.PersonaSignature != "sig-b" {
		t.Fatalf("signature = %q, want sig-b", plan.PersonaSignature)
	}
}

func TestClosestUnconsumedWrapsMidnight(t *testing.T) {
	t.Parallel()
	s, _, _ := openTestStore(t)
	ctx := context.Background()
	slots := []clock.TimeOfDay{tod(t, "07:30"), tod(t, "21:00")}
	if _, err := s.GetOrCreate(ctx, "2026-08-29", "sig", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	e, ok := s.ClosestUnconsumed("2026-08-29", tod(t, "23:50"), 3*time.Hour)
	if !ok {
		t.Fatal("expected a match within 3h")
	}
	if e.TimeOfDay != tod(t, "21:00") {
		t.Fatalf("closest = %s, want 21:00", e.TimeOfDay)
	}

	// 07:30 is 7h40m away on the dial, outside the bound.
	if err := s.MarkConsumed("2026-08-29", tod(t, "21:00"), 0); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	if _, ok := s.ClosestUnconsumed("2026-08-29", tod(t, "23:50"), 3*time.Hour); ok {
		t.Fatal("expected no match after consuming 21:00")
	}
}

func TestMarkConsumedIdempotent(t *testing.T) {
	t.Parallel()
	s, _, _ := openTestStore(t)
	ctx := context.Background()
	slots := []clock.TimeOfDay{tod(t, "09:00")}
	if _, err := s.GetOrCreate(ctx, "2026-08-29", "sig", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if err := s.MarkConsumed("2026-08-29", tod(t, "09:00"), 0); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	day, _ := s.Day("2026-08-29")
	firstAt := day.Entries[0].ConsumedAt

	if err := s.MarkConsumed("2026-08-29", tod(t, "09:00"), 0); err != nil {
		t.Fatalf("MarkConsumed twice: %v", err)
	}
	day, _ = s.Day("2026-08-29")
	if !day.Entries[0].Consumed {
		t.Fatal("entry not consumed")
	}
	if !day.Entries[0].ConsumedAt.Equal(*firstAt) {
		t.Fatal("second mark changed the consumption timestamp")
	}
	if !day.Entries[0].Variations[0].Used {
		t.Fatal("variation not marked used")
	}
}

func TestMarkConsumedUnknownEntry(t *testing.T) {
	t.Parallel()
	s, _, _ := openTestStore(t)
	err := s.MarkConsumed("2026-08-29", tod(t, "09:00"), 0)
	if !errors.Is(err, ErrNoPlan) {
		t.Fatalf("err = %v, want ErrNoPlan", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	p := &stubPlanner{}
	s, err := Open(path, 7, 8, p, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	slots := []clock.TimeOfDay{tod(t, "09:00"), tod(t, "21:00")}
	if _, err := s.GetOrCreate(ctx, "2026-08-29", "sig", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.MarkConsumed("2026-08-29", tod(t, "09:00"), 1); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	if err := s.CommitSupplement(narrative.Event{At: time.Now(), Scene: "walk"}, time.Now()); err != nil {
		t.Fatalf("CommitSupplement: %v", err)
	}

	reopened, err := Open(path, 7, 8, p, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	day, ok := reopened.Day("2026-08-29")
	if !ok {
		t.Fatal("day lost across restart")
	}
	if !day.Entries[0].Consumed || !day.Entries[0].Variations[1].Used {
		t.Fatal("consumption state lost across restart")
	}
	if day.Entries[1].Consumed {
		t.Fatal("unconsumed entry marked consumed after restart")
	}
	if got := len(reopened.NarrativeEvents()); got != 1 {
		t.Fatalf("narrative events = %d, want 1", got)
	}
	if reopened.IntervalClock().IsZero() {
		t.Fatal("interval clock lost across restart")
	}
}

func TestPersistFailureRollsBackMemory(t *testing.T) {
	t.Parallel()
	s, _, path := openTestStore(t)
	ctx := context.Background()
	slot := tod(t, "08:00")

	if _, err := s.GetOrCreate(ctx, "2026-08-29", "sig-a", []clock.TimeOfDay{slot}, Hints{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Squat on the temp path so the atomic write cannot complete.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	err := s.MarkConsumed("2026-08-29", slot, -1)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("MarkConsumed err = %v, want ErrStorage", err)
	}

	// Memory must match disk: the entry is still unconsumed.
	if err := os.Remove(path + ".tmp"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	e, ok := s.ClosestUnconsumed("2026-08-29", slot, time.Hour)
	if !ok {
		t.Fatal("entry consumed in memory despite failed persist")
	}
	if e.Consumed {
		t.Fatal("rolled-back entry still marked consumed")
	}
}

func TestCorruptStateFileStartsFresh(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version": 1, "days": {tru`), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	// A torn temp file from a crashed write must also be ignored.
	if err := os.WriteFile(path+".tmp", []byte(`{"ver`), 0o600); err != nil {
		t.Fatalf("seed torn tmp: %v", err)
	}
	s, err := Open(path, 7, 8, &stubPlanner{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.Day("2026-08-29"); ok {
		t.Fatal("corrupt state produced a day")
	}
	if _, err := s.GetOrCreate(context.Background(), "2026-08-29", "sig", []clock.TimeOfDay{tod(t, "09:00")}, Hints{}); err != nil {
		t.Fatalf("GetOrCreate on fresh state: %v", err)
	}
}

func TestRetentionPurgesOldDays(t *testing.T) {
	t.Parallel()
	s, _, _ := openTestStore(t)
	ctx := context.Background()
	slots := []clock.TimeOfDay{tod(t, "09:00")}

	if _, err := s.GetOrCreate(ctx, "2026-08-10", "sig", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate old day: %v", err)
	}
	if _, err := s.GetOrCreate(ctx, "2026-08-27", "sig", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate recent day: %v", err)
	}
	if _, err := s.GetOrCreate(ctx, "2026-08-29", "sig", slots, Hints{}); err != nil {
		t.Fatalf("GetOrCreate today: %v", err)
	}

	if _, ok := s.Day("2026-08-10"); ok {
		t.Fatal("day beyond retention window survived")
	}
	if _, ok := s.Day("2026-08-27"); !ok {
		t.Fatal("day inside retention window purged")
	}
}

func TestNarrativeWindowBounded(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, 7, 3, &stubPlanner{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		ev := narrative.Event{At: time.Now(), Scene: "scene", Supplement: true}
		if err := s.CommitSupplement(ev, time.Now()); err != nil {
			t.Fatalf("CommitSupplement: %v", err)
		}
	}
	if got := len(s.NarrativeEvents()); got != 3 {
		t.Fatalf("narrative window = %d, want 3", got)
	}
}
