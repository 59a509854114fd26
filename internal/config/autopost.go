package config

import (
	"fmt"
	"time"

	"snapbot/internal/clock"
)

// AutopostSettings is the validated, parsed view of AutopostConfig.
type AutopostSettings struct {
	Enabled   bool
	Slots     []clock.TimeOfDay
	Tolerance time.Duration
	TickEvery time.Duration

	SleepEnabled bool
	Sleep        clock.Window

	SupplementEnabled     bool
	SupplementInterval    time.Duration
	SupplementProbability float64
	SupplementSlotMargin  time.Duration

	AudienceMode    string
	AudienceMembers []int64

	Persona                   string
	RegenerateOnPersonaChange bool
	Weather                   string
	Holidays                  map[string]bool

	RetentionDays   int
	NarrativeWindow int
	StatePath       string
	PackagesDir     string
	RatePerSec      int
}

const (
	defaultSleepStart = "23:00"
	defaultSleepEnd   = "07:00"
)

// ParseAutopost validates the raw section and fills defaults. It is
// called from the config validator hook so a bad edit is rejected at
// reload time, not when a tick hits it.
func ParseAutopost(c AutopostConfig) (AutopostSettings, error) {
	s := AutopostSettings{
		Enabled:               c.Enabled,
		SupplementEnabled:     c.Supplement.Enabled,
		SupplementProbability: c.Supplement.Probability,
		AudienceMode:          c.Audience.Mode,
		AudienceMembers:       c.Audience.Members,
		Persona:               c.Persona,
		Weather:               c.Weather,
		RetentionDays:         c.RetentionDays,
		NarrativeWindow:       c.NarrativeWindow,
		StatePath:             c.StatePath,
		PackagesDir:           c.PackagesDir,
		RatePerSec:            c.RatePerSec,
	}

	for _, raw := range c.Slots {
		tod, err := clock.ParseHHMM(raw)
		if err != nil {
			return s, fmt.Errorf("autopost.slots: %w", err)
		}
		s.Slots = append(s.Slots, tod)
	}
	if c.Enabled && len(s.Slots) == 0 {
		return s, fmt.Errorf("autopost.slots: at least one slot required when enabled")
	}

	var err error
	if s.Tolerance, err = ParseDurationOrDefault("autopost.tolerance", c.Tolerance, 2*time.Minute); err != nil {
		return s, err
	}
	if s.TickEvery, err = ParseDurationOrDefault("autopost.tick_every", c.TickEvery, time.Minute); err != nil {
		return s, err
	}
	if s.SupplementInterval, err = ParseDurationOrDefault("autopost.supplement.interval", c.Supplement.Interval, time.Hour); err != nil {
		return s, err
	}
	if s.SupplementSlotMargin, err = ParseDurationOrDefault("autopost.supplement.slot_margin", c.Supplement.SlotMargin, 30*time.Minute); err != nil {
		return s, err
	}
	if p := c.Supplement.Probability; p < 0 || p > 1 {
		return s, fmt.Errorf("autopost.supplement.probability: must be within [0, 1]")
	}
	if s.SupplementEnabled && s.SupplementProbability == 0 {
		s.SupplementProbability = 0.3
	}

	// Sleep defaults to on, 23:00-07:00; an explicit enabled=false
	// turns it off.
	s.SleepEnabled = true
	start, end := defaultSleepStart, defaultSleepEnd
	if c.Sleep != nil {
		if c.Sleep.Enabled != nil {
			s.SleepEnabled = *c.Sleep.Enabled
		}
		if c.Sleep.Start != "" {
			start = c.Sleep.Start
		}
		if c.Sleep.End != "" {
			end = c.Sleep.End
		}
	}
	if s.SleepEnabled {
		w, err := clock.ParseWindow(start, end)
		if err != nil {
			return s, fmt.Errorf("autopost.sleep: %w", err)
		}
		s.Sleep = w
	}

	s.RegenerateOnPersonaChange = true
	if c.RegenerateOnPersonaChange != nil {
		s.RegenerateOnPersonaChange = *c.RegenerateOnPersonaChange
	}

	if len(c.Holidays) > 0 {
		s.Holidays = make(map[string]bool, len(c.Holidays))
		for _, d := range c.Holidays {
			if _, err := time.Parse("2006-01-02", d); err != nil {
				return s, fmt.Errorf("autopost.holidays: invalid date %q", d)
			}
			s.Holidays[d] = true
		}
	}

	if s.RetentionDays <= 0 {
		s.RetentionDays = 7
	}
	if s.NarrativeWindow <= 0 {
		s.NarrativeWindow = 8
	}
	if s.StatePath == "" {
		s.StatePath = "./snapbot_state/plans.json"
	}
	if s.PackagesDir == "" {
		s.PackagesDir = "./snapbot_state/fallback_packages"
	}
	if s.RatePerSec <= 0 {
		s.RatePerSec = 10
	}
	return s, nil
}
