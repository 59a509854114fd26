package extapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"snapbot/internal/dispatch"
	"snapbot/internal/transport"
)

// ProducerClient renders a scene into a photo via the image endpoint.
type ProducerClient struct {
	c *client
}

func NewProducerClient(cfg Config) (*ProducerClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ProducerClient{c: c}, nil
}

func (p *ProducerClient) Produce(ctx context.Context, req dispatch.Request) (*dispatch.Artifact, error) {
	payload := struct {
		Model      string `json:"model,omitempty"`
		Prompt     string `json:"prompt"`
		Persona    string `json:"persona,omitempty"`
		Mood       string `json:"mood,omitempty"`
		Supplement bool   `json:"supplement"`
	}{
		Model:      p.c.cfg.Model,
		Prompt:     buildPrompt(req),
		Persona:    req.Persona,
		Mood:       req.Mood,
		Supplement: req.Supplement,
	}

	body, err := p.c.postJSON(ctx, "/v1/images", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ImageURL string `json:"image_url"`
		ImageB64 string `json:"image_b64"`
		Caption  string `json:"caption"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &dispatch.ProducerError{Kind: dispatch.KindBadRequest, Err: err}
	}

	art := &dispatch.Artifact{Caption: resp.Caption}
	switch {
	case resp.ImageURL != "":
		art.Photo = transport.Photo{URL: resp.ImageURL}
	case resp.ImageB64 != "":
		raw, err := base64.StdEncoding.DecodeString(resp.ImageB64)
		if err != nil {
			return nil, &dispatch.ProducerError{Kind: dispatch.KindBadRequest, Err: err}
		}
		art.Photo = transport.Photo{Bytes: raw}
	default:
		return nil, &dispatch.ProducerError{Kind: dispatch.KindBadRequest, Err: errNoImage}
	}
	return art, nil
}

var errNoImage = jsonError("response carries neither image_url nor image_b64")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// buildPrompt folds the scene fields into one rendering prompt.
func buildPrompt(req dispatch.Request) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{req.Scene, req.Pose, req.Action, req.Expression} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if req.Weather != "" {
		parts = append(parts, req.Weather+" weather")
	}
	return strings.Join(parts, ", ")
}
