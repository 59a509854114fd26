// Package planner turns plan requests into daily schedules. An external
// synthesizer proposes the plan; anything it returns is validated
// strictly, and every failure path lands on the built-in fallback bank
// so callers always receive a usable schedule.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"snapbot/internal/clock"
	"snapbot/internal/schedule"
	"snapbot/pkg/logx"
)

// Synthesizer proposes a day plan as raw JSON. Implementations talk to
// an external model endpoint; the adapter owns validation and never
// trusts the payload.
type Synthesizer interface {
	SynthesizePlan(ctx context.Context, req schedule.PlanRequest) ([]byte, error)
}

// Adapter implements schedule.Planner. Synthesize never fails: invalid
// or missing synthesizer output degrades to the fallback bank, with the
// offending exchange preserved as a failure package on disk.
type Adapter struct {
	syn         Synthesizer
	packagesDir string
	log         logx.Logger
}

func New(syn Synthesizer, packagesDir string, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{syn: syn, packagesDir: packagesDir, log: log}
}

// wirePlan is the shape the synthesizer must return. Unknown fields are
// rejected.
type wirePlan struct {
	Entries []wireEntry `json:"entries"`
}

type wireEntry struct {
	TimeOfDay  clock.TimeOfDay `json:"time_of_day"`
	Scene      string          `json:"scene"`
	Mood       string          `json:"mood,omitempty"`
	Variations []wireVariation `json:"variations,omitempty"`
}

type wireVariation struct {
	Description string `json:"description"`
	Pose        string `json:"pose,omitempty"`
	Action      string `json:"action,omitempty"`
	Expression  string `json:"expression,omitempty"`
	Mood        string `json:"mood,omitempty"`
}

func (a *Adapter) Synthesize(ctx context.Context, req schedule.PlanRequest) *schedule.DailySchedule {
	if a.syn == nil {
		return a.fallback(req, "no synthesizer configured", nil)
	}

	raw, err := a.syn.SynthesizePlan(ctx, req)
	if err != nil {
		terr := &TransportError{Err: err}
		a.log.Warn("plan synthesis failed", logx.String("date", req.Date), logx.Err(terr))
		return a.fallback(req, "synthesis call failed", &schedule.FailurePackage{
			Reason: "synthesis call failed",
			Error:  terr.Error(),
			At:     time.Now(),
		})
	}

	plan, err := decodePlan(raw, req)
	if err != nil {
		a.log.Warn("plan response rejected", logx.String("date", req.Date), logx.Err(err))
		return a.fallback(req, "invalid plan response", &schedule.FailurePackage{
			Reason:      "invalid plan response",
			RawResponse: clip(string(raw), 8192),
			Error:       err.Error(),
			At:          time.Now(),
		})
	}
	return plan
}

// decodePlan parses and validates a synthesizer response against the
// requested slots. The plan must carry exactly one entry per requested
// slot, no extras, and every scene must be non-empty. Every failure is
// a *ValidationError.
func decodePlan(raw []byte, req schedule.PlanRequest) (*schedule.DailySchedule, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var wp wirePlan
	if err := dec.Decode(&wp); err != nil {
		return nil, invalidf("decode: %v", err)
	}
	if len(wp.Entries) == 0 {
		return nil, invalidf("plan has no entries")
	}

	want := map[clock.TimeOfDay]bool{}
	for _, slot := range req.Slots {
		want[slot] = false
	}
	d := &schedule.DailySchedule{
		Date:             req.Date,
		PersonaSignature: req.PersonaSignature,
		Status:           schedule.GenerationOK,
		GeneratedAt:      time.Now(),
	}
	for _, we := range wp.Entries {
		seen, ok := want[we.TimeOfDay]
		if !ok {
			return nil, invalidf("entry at %s matches no requested slot", we.TimeOfDay)
		}
		if seen {
			return nil, invalidf("duplicate entry at %s", we.TimeOfDay)
		}
		want[we.TimeOfDay] = true
		if we.Scene == "" {
			return nil, invalidf("entry at %s has an empty scene", we.TimeOfDay)
		}
		e := schedule.Entry{
			TimeOfDay: we.TimeOfDay,
			Scene:     sanitize(we.Scene),
			Mood:      we.Mood,
		}
		for _, wv := range we.Variations {
			if wv.Description == "" {
				continue
			}
			e.Variations = append(e.Variations, schedule.Variation{
				Description: sanitize(wv.Description),
				Pose:        sanitize(wv.Pose),
				Action:      sanitize(wv.Action),
				Expression:  wv.Expression,
				Mood:        wv.Mood,
			})
		}
		d.Entries = append(d.Entries, e)
	}
	for slot, seen := range want {
		if !seen {
			return nil, invalidf("no entry for slot %s", slot)
		}
	}
	d.SortEntries()
	return d, nil
}

func (a *Adapter) fallback(req schedule.PlanRequest, reason string, pkg *schedule.FailurePackage) *schedule.DailySchedule {
	if pkg != nil {
		a.writePackage(req.Date, pkg)
	}
	d := FallbackPlan(req)
	d.FallbackReason = reason
	d.FailurePackage = pkg
	a.log.Info("using fallback plan",
		logx.String("date", req.Date),
		logx.String("reason", reason),
		logx.Int("entries", len(d.Entries)))
	return d
}

// writePackage preserves a failed synthesis exchange on disk for later
// inspection. Failures here are logged and swallowed; a broken disk
// must not block the fallback plan.
func (a *Adapter) writePackage(date string, pkg *schedule.FailurePackage) {
	if a.packagesDir == "" {
		return
	}
	if err := os.MkdirAll(a.packagesDir, 0o755); err != nil {
		a.log.Warn("failure package dir", logx.Err(err))
		return
	}
	b, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		a.log.Warn("failure package marshal", logx.Err(err))
		return
	}
	name := fmt.Sprintf("%s_%s.json", date, pkg.At.Format("150405"))
	if err := os.WriteFile(filepath.Join(a.packagesDir, name), b, 0o600); err != nil {
		a.log.Warn("failure package write", logx.Err(err))
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
