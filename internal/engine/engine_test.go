package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"snapbot/internal/audience"
	"snapbot/internal/clock"
	"snapbot/internal/dispatch"
	"snapbot/internal/planner"
	"snapbot/internal/schedule"
	"snapbot/internal/transport"
	"snapbot/pkg/logx"
)

type countingProducer struct {
	calls int
}

func (p *countingProducer) Produce(context.Context, dispatch.Request) (*dispatch.Artifact, error) {
	p.calls++
	return &dispatch.Artifact{Photo: transport.Photo{URL: "https://img.example/x.jpg"}, Caption: "cap"}, nil
}

type recordingAdapter struct {
	sendErr error
	sent    []dispatch.Request
	photos  int
}

func (a *recordingAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *recordingAdapter) Stop(context.Context) error                           { return nil }

func (a *recordingAdapter) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (a *recordingAdapter) SendPhoto(_ context.Context, to transport.ChatTarget, _ transport.Photo, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if a.sendErr != nil {
		return transport.MessageRef{}, a.sendErr
	}
	a.photos++
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func at(t *testing.T, hm string) time.Time {
	t.Helper()
	tod, err := clock.ParseHHMM(hm)
	if err != nil {
		t.Fatalf("ParseHHMM(%q): %v", hm, err)
	}
	return time.Date(2026, 8, 29, int(tod)/60, int(tod)%60, 0, 0, time.UTC)
}

func slots(t *testing.T, hms ...string) []clock.TimeOfDay {
	t.Helper()
	out := make([]clock.TimeOfDay, 0, len(hms))
	for _, hm := range hms {
		tod, err := clock.ParseHHMM(hm)
		if err != nil {
			t.Fatalf("ParseHHMM(%q): %v", hm, err)
		}
		out = append(out, tod)
	}
	return out
}

type harness struct {
	eng      *Engine
	store    *schedule.Store
	producer *countingProducer
	adapter  *recordingAdapter
	path     string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return reopenHarness(t, path, cfg)
}

// reopenHarness builds a fresh engine over an existing state file,
// simulating a process restart.
func reopenHarness(t *testing.T, path string, cfg Config) *harness {
	t.Helper()
	// No synthesizer configured: every plan comes from the fallback bank.
	store, err := schedule.Open(path, 7, 8, planner.New(nil, "", logx.Nop()), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	producer := &countingProducer{}
	adapter := &recordingAdapter{}
	coord := dispatch.New(dispatch.Config{RatePerSec: 1000}, producer, nil, adapter, logx.Nop())
	eng, err := New(cfg, store, coord, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.rand = func() float64 { return 0.5 }
	return &harness{eng: eng, store: store, producer: producer, adapter: adapter, path: path}
}

func baseConfig(t *testing.T) Config {
	return Config{
		Enabled:         true,
		Slots:           slots(t, "08:00", "12:00", "18:00", "21:00"),
		AudienceMode:    audience.ModeWhitelist,
		AudienceMembers: []int64{1},
		Chats:           []transport.ChatTarget{{ChatID: 1}},
		Persona:         "cheerful college student",
	}
}

func TestFixedSlotFiresOnceWithinTolerance(t *testing.T) {
	t.Parallel()
	h := newHarness(t, baseConfig(t))
	ctx := context.Background()

	h.eng.Tick(ctx, at(t, "08:01"))
	if h.producer.calls != 1 || h.adapter.photos != 1 {
		t.Fatalf("calls=%d photos=%d, want 1/1", h.producer.calls, h.adapter.photos)
	}
	day, _ := h.store.Day("2026-08-29")
	if len(day.Entries) != 4 {
		t.Fatalf("entries = %d, want 4 fallback entries", len(day.Entries))
	}
	if !day.Entries[0].Consumed {
		t.Fatal("08:00 entry not consumed after delivery")
	}

	h.eng.Tick(ctx, at(t, "08:02"))
	if h.producer.calls != 1 {
		t.Fatalf("second tick re-fired the slot: calls=%d", h.producer.calls)
	}
}

func TestRestartDoesNotRepost(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.eng.Tick(ctx, at(t, "08:01"))
	if h.producer.calls != 1 {
		t.Fatalf("calls = %d, want 1", h.producer.calls)
	}

	h2 := reopenHarness(t, h.path, cfg)
	h2.eng.Tick(ctx, at(t, "08:01"))
	if h2.producer.calls != 0 {
		t.Fatalf("restarted engine reposted: calls=%d", h2.producer.calls)
	}
}

func TestOutsideToleranceDoesNotFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t, baseConfig(t))
	h.eng.Tick(context.Background(), at(t, "08:05"))
	if h.producer.calls != 0 {
		t.Fatalf("fired outside tolerance: calls=%d", h.producer.calls)
	}
}

func TestDisabledEngineSkips(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Enabled = false
	h := newHarness(t, cfg)
	h.eng.Tick(context.Background(), at(t, "08:01"))
	if h.producer.calls != 0 {
		t.Fatal("disabled engine dispatched")
	}
	if _, ok := h.store.Day("2026-08-29"); ok {
		t.Fatal("disabled engine generated a plan")
	}
}

func TestSleepWindowSuppresses(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Slots = slots(t, "06:00", "12:00")
	cfg.SleepEnabled = true
	w, err := clock.ParseWindow("23:00", "07:00")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	cfg.Sleep = w
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.eng.Tick(ctx, at(t, "06:01"))
	if h.producer.calls != 0 {
		t.Fatal("fired inside sleep window")
	}
	h.eng.Tick(ctx, at(t, "12:01"))
	if h.producer.calls != 1 {
		t.Fatalf("did not fire outside sleep window: calls=%d", h.producer.calls)
	}
}

func TestEmptyAudienceConsumesSlot(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.AudienceMembers = nil // whitelist with no members
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.eng.Tick(ctx, at(t, "08:01"))
	if h.producer.calls != 0 {
		t.Fatal("produced despite empty audience")
	}
	day, _ := h.store.Day("2026-08-29")
	if !day.Entries[0].Consumed {
		t.Fatal("slot not consumed despite its time passing")
	}
}

func TestFailedDispatchRetriesThenExpires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, baseConfig(t))
	h.adapter.sendErr = errors.New("send refused")
	ctx := context.Background()

	h.eng.Tick(ctx, at(t, "08:00"))
	day, _ := h.store.Day("2026-08-29")
	if day.Entries[0].Consumed {
		t.Fatal("failed dispatch consumed the slot")
	}

	// Still within tolerance: retried from scratch.
	h.eng.Tick(ctx, at(t, "08:01"))
	if h.producer.calls != 2 {
		t.Fatalf("producer calls = %d, want 2 retries", h.producer.calls)
	}

	// Tolerance elapsed: give up, consume, no dispatch.
	h.eng.Tick(ctx, at(t, "08:10"))
	if h.producer.calls != 2 {
		t.Fatalf("dispatched after tolerance elapsed: calls=%d", h.producer.calls)
	}
	day, _ = h.store.Day("2026-08-29")
	if !day.Entries[0].Consumed {
		t.Fatal("expired slot not consumed")
	}
}

func TestSupplementSuppressedNearSlots(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Supplement = SupplementConfig{Enabled: true, Interval: time.Hour, Probability: 1}
	h := newHarness(t, cfg)
	ctx := context.Background()

	// Prime the interval clock well in the past.
	if err := h.store.TouchIntervalClock(at(t, "05:00")); err != nil {
		t.Fatalf("TouchIntervalClock: %v", err)
	}

	// 11:45 is within 30 minutes of the 12:00 slot.
	h.eng.Tick(ctx, at(t, "11:45"))
	if h.producer.calls != 0 {
		t.Fatal("supplement fired within the slot margin")
	}

	// 10:00 is at least 30 minutes from every slot.
	h.eng.Tick(ctx, at(t, "10:00"))
	if h.producer.calls != 1 {
		t.Fatalf("supplement did not fire: calls=%d", h.producer.calls)
	}
	if got := h.store.IntervalClock(); !got.Equal(at(t, "10:00")) {
		t.Fatalf("interval clock = %v, want tick time", got)
	}
	if got := len(h.store.NarrativeEvents()); got != 1 {
		t.Fatalf("narrative events = %d, want 1", got)
	}
	if !h.store.NarrativeEvents()[0].Supplement {
		t.Fatal("narrative event not tagged as supplement")
	}
}

func TestSupplementBorrowsVariation(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Supplement = SupplementConfig{Enabled: true, Interval: time.Hour, Probability: 1}
	h := newHarness(t, cfg)
	ctx := context.Background()

	if err := h.store.TouchIntervalClock(at(t, "05:00")); err != nil {
		t.Fatalf("TouchIntervalClock: %v", err)
	}
	h.eng.Tick(ctx, at(t, "10:00"))
	if h.producer.calls != 1 {
		t.Fatalf("supplement did not fire: calls=%d", h.producer.calls)
	}

	// 10:00 ties between 08:00 and 12:00; the earlier slot wins.
	day, ok := h.store.Day("2026-08-29")
	if !ok {
		t.Fatal("no plan for the day")
	}
	e := day.Entries[0]
	if e.TimeOfDay != slots(t, "08:00")[0] {
		t.Fatalf("entries[0] at %s, want 08:00", e.TimeOfDay)
	}
	if e.Consumed {
		t.Fatal("supplement consumed the entry")
	}
	if len(e.Variations) == 0 || !e.Variations[0].Used {
		t.Fatal("nearest entry's first variation not marked used")
	}

	// The borrow survives a restart.
	h = reopenHarness(t, h.path, cfg)
	day, _ = h.store.Day("2026-08-29")
	if !day.Entries[0].Variations[0].Used {
		t.Fatal("borrowed variation lost across restart")
	}
}

func TestSupplementFirstRunStaggersClock(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Supplement = SupplementConfig{Enabled: true, Interval: time.Hour, Probability: 1}
	h := newHarness(t, cfg)

	h.eng.Tick(context.Background(), at(t, "10:00"))
	if h.producer.calls != 0 {
		t.Fatal("first run dispatched instead of staggering")
	}
	if h.store.IntervalClock().IsZero() {
		t.Fatal("interval clock not initialized on first run")
	}
}

func TestSupplementProbabilityGate(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.Supplement = SupplementConfig{Enabled: true, Interval: time.Hour, Probability: 0.3}
	h := newHarness(t, cfg)
	h.eng.rand = func() float64 { return 0.9 } // draw above probability
	if err := h.store.TouchIntervalClock(at(t, "05:00")); err != nil {
		t.Fatalf("TouchIntervalClock: %v", err)
	}

	h.eng.Tick(context.Background(), at(t, "10:00"))
	if h.producer.calls != 0 {
		t.Fatal("supplement fired despite failed probability draw")
	}
}

func TestPersonaChangeRegeneratesPlan(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	cfg.RegenerateOnPersonaChange = true
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.eng.Tick(ctx, at(t, "08:01"))
	day, _ := h.store.Day("2026-08-29")
	oldSig := day.PersonaSignature

	cfg.Persona = "tired office worker"
	if err := h.eng.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	h.eng.Tick(ctx, at(t, "09:00"))
	day, _ = h.store.Day("2026-08-29")
	if day.PersonaSignature == oldSig {
		t.Fatal("plan not regenerated after persona change")
	}
	if day.Entries[0].Consumed {
		t.Fatal("fresh plan inherited consumed state")
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no slots while enabled", func(c *Config) { c.Slots = nil }},
		{"duplicate slots", func(c *Config) { c.Slots = append(c.Slots, c.Slots[0]) }},
		{"probability above one", func(c *Config) {
			c.Supplement = SupplementConfig{Enabled: true, Interval: time.Hour, Probability: 1.5}
		}},
		{"supplement without interval", func(c *Config) {
			c.Supplement = SupplementConfig{Enabled: true, Probability: 0.3}
		}},
		{"bad audience mode", func(c *Config) { c.AudienceMode = "greylist" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(t)
			tc.mutate(&cfg)
			if _, err := New(cfg, nil, nil, logx.Nop()); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestSetterValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, baseConfig(t))
	if err := h.eng.SetSleepWindow("25:00", "07:00"); err == nil {
		t.Fatal("bad sleep window accepted")
	}
	if err := h.eng.SetAudienceMode("greylist"); err == nil {
		t.Fatal("bad audience mode accepted")
	}
	if err := h.eng.SetSleepWindow("23:00", "07:00"); err != nil {
		t.Fatalf("valid sleep window rejected: %v", err)
	}
	h.eng.AddAudienceMember(2)
	h.eng.AddAudienceMember(2)
	if got := h.eng.Snapshot().AudienceMembers; len(got) != 2 {
		t.Fatalf("members = %v, want deduplicated add", got)
	}
	h.eng.RemoveAudienceMember(1)
	if got := h.eng.Snapshot().AudienceMembers; len(got) != 1 || got[0] != 2 {
		t.Fatalf("members = %v, want [2]", got)
	}
}
