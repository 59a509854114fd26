// Package extapi holds the JSON-over-HTTP clients for the external
// generation collaborators: plan synthesis, image production and
// caption writing. Every client classifies vendor failures so the
// dispatch layer can log and retry sensibly.
package extapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"snapbot/internal/dispatch"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

const (
	defaultTimeout = 30 * time.Second
	maxBody        = 4 << 20
)

type client struct {
	cfg  Config
	http *http.Client
}

func newClient(cfg Config) (*client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("extapi: base_url is empty")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

// postJSON sends one request and returns the raw response body.
// Non-2xx statuses become classified *dispatch.ProducerError values.
func (c *client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("extapi: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &dispatch.ProducerError{Kind: dispatch.KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &dispatch.ProducerError{Kind: dispatch.KindNetwork, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &dispatch.ProducerError{Kind: classifyStatus(resp.StatusCode), Err: statusError(resp.StatusCode, body)}
	}
	return body, nil
}

func classifyStatus(code int) dispatch.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return dispatch.KindAuth
	case code == http.StatusTooManyRequests:
		return dispatch.KindRateLimited
	case code/100 == 4:
		return dispatch.KindBadRequest
	default:
		return dispatch.KindServer
	}
}

func statusError(code int, body []byte) error {
	// Vendors usually put the useful part in a message/error field.
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Message
	if msg == "" {
		msg = e.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return fmt.Errorf("http %d: %s", code, msg)
}
