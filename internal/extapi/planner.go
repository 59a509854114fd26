package extapi

import (
	"context"

	"snapbot/internal/schedule"
)

// PlannerClient asks the plan endpoint for a day schedule. It returns
// the raw JSON untouched; the planner adapter owns validation.
type PlannerClient struct {
	c *client
}

func NewPlannerClient(cfg Config) (*PlannerClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &PlannerClient{c: c}, nil
}

func (p *PlannerClient) SynthesizePlan(ctx context.Context, req schedule.PlanRequest) ([]byte, error) {
	slots := make([]string, 0, len(req.Slots))
	for _, s := range req.Slots {
		slots = append(slots, s.String())
	}
	payload := struct {
		Model     string   `json:"model,omitempty"`
		Date      string   `json:"date"`
		Slots     []string `json:"slots"`
		Persona   string   `json:"persona"`
		Narrative string   `json:"narrative"`
		Recent    []string `json:"recent_days,omitempty"`
		Weather   string   `json:"weather,omitempty"`
		Holiday   bool     `json:"holiday"`
	}{
		Model:     p.c.cfg.Model,
		Date:      req.Date,
		Slots:     slots,
		Persona:   req.Persona,
		Narrative: req.NarrativeSummary,
		Recent:    req.RecentDays,
		Weather:   req.Weather,
		Holiday:   req.Holiday,
	}
	return p.c.postJSON(ctx, "/v1/plans", payload)
}
