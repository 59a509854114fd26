package engine

import (
	"snapbot/internal/audience"
	"snapbot/internal/clock"
)

// Operator-facing controls. Each setter validates immediately and
// rejects bad values with a ConfigError instead of letting a later tick
// hit them.

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Enabled
}

func (e *Engine) SetEnabled(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Enabled = on
}

func (e *Engine) SetSleepWindow(start, end string) error {
	w, err := clock.ParseWindow(start, end)
	if err != nil {
		return &ConfigError{Field: "sleep", Msg: err.Error()}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.SleepEnabled = true
	e.cfg.Sleep = w
	return nil
}

func (e *Engine) DisableSleepWindow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.SleepEnabled = false
}

func (e *Engine) SetAudienceMode(mode string) error {
	m, err := audience.ParseMode(mode)
	if err != nil {
		return &ConfigError{Field: "audience.mode", Msg: err.Error()}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.AudienceMode = m
	e.resolver = audience.NewResolver(m, e.cfg.AudienceMembers)
	return nil
}

func (e *Engine) AddAudienceMember(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.cfg.AudienceMembers {
		if m == id {
			return
		}
	}
	e.cfg.AudienceMembers = append(e.cfg.AudienceMembers, id)
	e.resolver = audience.NewResolver(e.cfg.AudienceMode, e.cfg.AudienceMembers)
}

func (e *Engine) RemoveAudienceMember(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.cfg.AudienceMembers[:0]
	for _, m := range e.cfg.AudienceMembers {
		if m != id {
			kept = append(kept, m)
		}
	}
	e.cfg.AudienceMembers = kept
	e.resolver = audience.NewResolver(e.cfg.AudienceMode, e.cfg.AudienceMembers)
}

// Snapshot returns the current configuration for status reporting.
func (e *Engine) Snapshot() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	cfg.Slots = append([]clock.TimeOfDay(nil), e.cfg.Slots...)
	cfg.AudienceMembers = append([]int64(nil), e.cfg.AudienceMembers...)
	return cfg
}
