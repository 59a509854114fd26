// Package engine is the trigger loop: each tick it reconciles today's
// plan against the wall clock, fires due fixed slots within tolerance,
// evaluates the probabilistic in-between supplement path, and applies
// sleep-window suppression and audience resolution before dispatching.
package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"snapbot/internal/audience"
	"snapbot/internal/clock"
	"snapbot/internal/dispatch"
	"snapbot/internal/narrative"
	"snapbot/internal/schedule"
	"snapbot/internal/transport"
	"snapbot/pkg/logx"
)

// ConfigError reports an invalid setting; it is raised when the change
// is made, never deferred to the tick that would hit it.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("engine config: %s: %s", e.Field, e.Msg) }

type SupplementConfig struct {
	Enabled     bool
	Interval    time.Duration
	Probability float64
	// SlotMargin suppresses supplements this close to any fixed slot.
	SlotMargin time.Duration
}

type Config struct {
	Enabled bool
	Slots   []clock.TimeOfDay
	// Tolerance is the half-width of the firing window around a slot.
	Tolerance time.Duration

	SleepEnabled bool
	Sleep        clock.Window

	Supplement SupplementConfig

	AudienceMode    audience.Mode
	AudienceMembers []int64
	Chats           []transport.ChatTarget

	Persona                   string
	Weather                   string
	Holidays                  map[string]bool // date key -> holiday
	RegenerateOnPersonaChange bool
}

const (
	defaultTolerance  = 2 * time.Minute
	defaultSlotMargin = 30 * time.Minute
)

func (c *Config) normalize() {
	if c.Tolerance <= 0 {
		c.Tolerance = defaultTolerance
	}
	if c.Supplement.SlotMargin <= 0 {
		c.Supplement.SlotMargin = defaultSlotMargin
	}
	sort.Slice(c.Slots, func(i, j int) bool { return c.Slots[i] < c.Slots[j] })
}

func (c *Config) validate() error {
	if c.Enabled && len(c.Slots) == 0 {
		return &ConfigError{Field: "slots", Msg: "at least one slot required when enabled"}
	}
	seen := map[clock.TimeOfDay]bool{}
	for _, s := range c.Slots {
		if seen[s] {
			return &ConfigError{Field: "slots", Msg: "duplicate slot " + s.String()}
		}
		seen[s] = true
	}
	if p := c.Supplement.Probability; p < 0 || p > 1 {
		return &ConfigError{Field: "supplement.probability", Msg: "must be within [0, 1]"}
	}
	if c.Supplement.Enabled && c.Supplement.Interval <= 0 {
		return &ConfigError{Field: "supplement.interval", Msg: "must be positive"}
	}
	if _, err := audience.ParseMode(string(c.AudienceMode)); err != nil {
		return &ConfigError{Field: "audience.mode", Msg: err.Error()}
	}
	return nil
}

// Engine holds the tick state machine. Ticks are driven externally
// (see Service); at most one tick runs at a time and an overlapping
// tick is skipped, not queued.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	resolver *audience.Resolver

	store *schedule.Store
	coord *dispatch.Coordinator
	log   logx.Logger

	// rand is the probability source; tests replace it.
	rand func() float64

	ticking sync.Mutex

	// failedSince tracks "date@slot" keys whose dispatch failed, so the
	// retry can be cut off once the firing window has elapsed.
	failedSince map[string]time.Time
}

func New(cfg Config, store *schedule.Store, coord *dispatch.Coordinator, log logx.Logger) (*Engine, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:         cfg,
		resolver:    audience.NewResolver(cfg.AudienceMode, cfg.AudienceMembers),
		store:       store,
		coord:       coord,
		log:         log,
		rand:        rand.Float64,
		failedSince: map[string]time.Time{},
	}, nil
}

// Apply replaces the configuration. Invalid settings are rejected
// without touching the running state.
func (e *Engine) Apply(cfg Config) error {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.resolver = audience.NewResolver(cfg.AudienceMode, cfg.AudienceMembers)
	return nil
}

// Tick runs one reconciliation pass at the given instant. A tick that
// arrives while another is still running is dropped.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	if !e.ticking.TryLock() {
		e.log.Debug("tick skipped, previous still running")
		return
	}
	defer e.ticking.Unlock()

	e.mu.Lock()
	cfg := e.cfg
	resolver := e.resolver
	e.mu.Unlock()

	if !cfg.Enabled {
		return
	}
	tod := clock.FromTime(now)
	if cfg.SleepEnabled && cfg.Sleep.Contains(tod) {
		e.log.Debug("sleep window, skipping tick", logx.String("now", tod.String()))
		return
	}

	date := schedule.DateKey(now)
	sig := PersonaSignature(cfg.Persona, cfg.Slots)
	if !cfg.RegenerateOnPersonaChange {
		if cur, ok := e.store.Day(date); ok {
			sig = cur.PersonaSignature
		}
	}
	_, err := e.store.GetOrCreate(ctx, date, sig, cfg.Slots, schedule.Hints{
		Persona: cfg.Persona,
		Weather: cfg.Weather,
		Holiday: cfg.Holidays[date],
	})
	if err != nil {
		e.log.Error("plan unavailable, skipping tick", logx.Err(err))
		return
	}

	e.expireFailed(date, now, cfg.Tolerance)

	if entry, ok := e.store.ClosestUnconsumed(date, tod, cfg.Tolerance); ok {
		e.fireFixed(ctx, cfg, resolver, date, now, entry)
		return
	}

	if cfg.Supplement.Enabled && !nearAnySlot(tod, cfg.Slots, cfg.Supplement.SlotMargin) {
		e.maybeSupplement(ctx, cfg, resolver, date, now)
	}
}

// fireFixed dispatches one due entry. An empty audience still consumes
// the slot: its time has passed whether or not anyone could receive it.
func (e *Engine) fireFixed(ctx context.Context, cfg Config, resolver *audience.Resolver, date string, now time.Time, entry schedule.Entry) {
	key := date + "@" + entry.TimeOfDay.String()
	varIdx, scene := entry.NextVariation()

	targets := e.eligibleTargets(cfg, resolver)
	if len(targets) == 0 {
		e.log.Info("no eligible audience, consuming slot",
			logx.String("slot", entry.TimeOfDay.String()))
		if err := e.store.MarkConsumed(date, entry.TimeOfDay, varIdx); err != nil {
			e.log.Error("consume failed", logx.Err(err))
		}
		delete(e.failedSince, key)
		return
	}

	req := dispatch.Request{
		Date:             date,
		Slot:             entry.TimeOfDay,
		Scene:            scene,
		Mood:             entry.Mood,
		Persona:          cfg.Persona,
		Weather:          cfg.Weather,
		NarrativeSummary: e.narrativeSummary(),
	}
	if varIdx >= 0 {
		v := entry.Variations[varIdx]
		req.Pose = v.Pose
		req.Action = v.Action
		req.Expression = v.Expression
	}

	out := e.coord.Dispatch(ctx, req, targets)
	if !out.Delivered() {
		if _, seen := e.failedSince[key]; !seen {
			e.failedSince[key] = now
		}
		e.log.Warn("dispatch failed, will retry within tolerance",
			logx.String("slot", entry.TimeOfDay.String()))
		return
	}

	ev := narrative.Event{At: now, Slot: entry.TimeOfDay, Scene: scene, Caption: out.Caption}
	if err := e.store.CommitDispatch(date, entry.TimeOfDay, varIdx, ev); err != nil {
		e.log.Error("commit failed after delivery", logx.Err(err))
		return
	}
	delete(e.failedSince, key)
	e.log.Info("fixed slot posted",
		logx.String("slot", entry.TimeOfDay.String()),
		logx.Int("sent", len(out.Sent)))
}

// maybeSupplement evaluates the in-between path: interval elapsed, then
// a probability draw, then a jittered re-check of the interval.
func (e *Engine) maybeSupplement(ctx context.Context, cfg Config, resolver *audience.Resolver, date string, now time.Time) {
	last := e.store.IntervalClock()
	if last.IsZero() {
		// First run: stagger the clock so restarts do not all post at
		// the same offset.
		stagger := time.Duration(e.randFloat() * float64(cfg.Supplement.Interval))
		if err := e.store.TouchIntervalClock(now.Add(stagger - cfg.Supplement.Interval)); err != nil {
			e.log.Error("interval clock init failed", logx.Err(err))
		}
		return
	}
	elapsed := now.Sub(last)
	if elapsed < cfg.Supplement.Interval {
		return
	}
	if e.randFloat() > cfg.Supplement.Probability {
		return
	}
	jitter := time.Duration((e.randFloat()*0.4 - 0.2) * float64(cfg.Supplement.Interval))
	if elapsed < cfg.Supplement.Interval+jitter {
		return
	}

	targets := e.eligibleTargets(cfg, resolver)
	if len(targets) == 0 {
		return
	}

	tod := clock.FromTime(now)
	req := dispatch.Request{
		Date:             date,
		Slot:             tod,
		Scene:            "a quiet in-between moment",
		Persona:          cfg.Persona,
		Weather:          cfg.Weather,
		NarrativeSummary: e.narrativeSummary(),
		Supplement:       true,
	}
	// The nearest entry lends flavor and, when it still has unused
	// variations, one of those; the entry itself is never consumed.
	varIdx := -1
	var varSlot clock.TimeOfDay
	if entry, rel, ok := e.store.ClosestAny(date, tod); ok {
		req.Scene = entry.Scene
		req.Mood = entry.Mood
		req.TimeRelation = rel
		if idx, scene := entry.NextVariation(); idx >= 0 {
			varIdx = idx
			varSlot = entry.TimeOfDay
			v := entry.Variations[idx]
			req.Scene = scene
			req.Pose = v.Pose
			req.Action = v.Action
			req.Expression = v.Expression
			if v.Mood != "" {
				req.Mood = v.Mood
			}
		}
	}

	out := e.coord.Dispatch(ctx, req, targets)
	if !out.Delivered() {
		e.log.Warn("supplement dispatch failed")
		return
	}
	if varIdx >= 0 {
		if err := e.store.MarkVariationUsed(date, varSlot, varIdx); err != nil {
			e.log.Error("variation mark failed after delivery", logx.Err(err))
		}
	}
	ev := narrative.Event{At: now, Slot: tod, Scene: req.Scene, Caption: out.Caption, Supplement: true}
	if err := e.store.CommitSupplement(ev, now); err != nil {
		e.log.Error("supplement commit failed after delivery", logx.Err(err))
		return
	}
	e.log.Info("supplement posted",
		logx.String("relation", req.TimeRelation),
		logx.Int("sent", len(out.Sent)))
}

// expireFailed gives up on entries whose dispatch kept failing past the
// firing window, consuming them so they cannot pile up as stale
// attempts. Keys from other days are dropped outright.
func (e *Engine) expireFailed(date string, now time.Time, tolerance time.Duration) {
	for key, since := range e.failedSince {
		keyDate, slotStr, ok := strings.Cut(key, "@")
		if !ok {
			delete(e.failedSince, key)
			continue
		}
		if keyDate != date {
			delete(e.failedSince, key)
			continue
		}
		slot, err := clock.ParseHHMM(slotStr)
		if err != nil {
			delete(e.failedSince, key)
			continue
		}
		if clock.Distance(clock.FromTime(now), slot) <= tolerance {
			continue
		}
		e.log.Warn("giving up on slot after repeated failures",
			logx.String("slot", slotStr),
			logx.Time("first_failure", since))
		if err := e.store.MarkConsumed(date, slot, -1); err != nil {
			e.log.Error("expire consume failed", logx.Err(err))
		}
		delete(e.failedSince, key)
	}
}

func (e *Engine) eligibleTargets(cfg Config, resolver *audience.Resolver) []transport.ChatTarget {
	ids := make([]int64, 0, len(cfg.Chats))
	byID := make(map[int64]transport.ChatTarget, len(cfg.Chats))
	for _, c := range cfg.Chats {
		ids = append(ids, c.ChatID)
		byID[c.ChatID] = c
	}
	out := make([]transport.ChatTarget, 0, len(ids))
	for _, id := range resolver.Eligible(ids) {
		out = append(out, byID[id])
	}
	return out
}

func (e *Engine) narrativeSummary() string {
	return narrative.NewTracker(0, e.store.NarrativeEvents()).Summary()
}

func (e *Engine) randFloat() float64 {
	e.mu.Lock()
	f := e.rand
	e.mu.Unlock()
	return f()
}

func nearAnySlot(tod clock.TimeOfDay, slots []clock.TimeOfDay, margin time.Duration) bool {
	for _, s := range slots {
		if clock.Distance(tod, s) <= margin {
			return true
		}
	}
	return false
}
