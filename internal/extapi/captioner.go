package extapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"snapbot/internal/dispatch"
)

// CaptionerClient writes post text via the caption endpoint.
type CaptionerClient struct {
	c *client
}

func NewCaptionerClient(cfg Config) (*CaptionerClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &CaptionerClient{c: c}, nil
}

func (p *CaptionerClient) Caption(ctx context.Context, req dispatch.Request) (string, error) {
	payload := struct {
		Model        string `json:"model,omitempty"`
		Scene        string `json:"scene"`
		Mood         string `json:"mood,omitempty"`
		Persona      string `json:"persona,omitempty"`
		Narrative    string `json:"narrative,omitempty"`
		Supplement   bool   `json:"supplement"`
		TimeRelation string `json:"time_relation,omitempty"`
	}{
		Model:        p.c.cfg.Model,
		Scene:        req.Scene,
		Mood:         req.Mood,
		Persona:      req.Persona,
		Narrative:    req.NarrativeSummary,
		Supplement:   req.Supplement,
		TimeRelation: req.TimeRelation,
	}

	body, err := p.c.postJSON(ctx, "/v1/captions", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("extapi: caption decode: %w", err)
	}
	if strings.TrimSpace(resp.Caption) == "" {
		return "", fmt.Errorf("extapi: empty caption")
	}
	return strings.TrimSpace(resp.Caption), nil
}
