// Package dispatch produces one artifact per trigger and fans it out to
// every resolved target. Production happens exactly once no matter how
// many targets there are; per-target delivery failures never trigger a
// second production.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"snapbot/internal/clock"
	"snapbot/internal/transport"
	"snapbot/pkg/logx"
)

// ErrorKind classifies producer failures for logging and retry
// decisions upstream.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindBadRequest  ErrorKind = "bad_request"
	KindServer      ErrorKind = "server_error"
	KindNetwork     ErrorKind = "network"
)

// ProducerError wraps a failure from the artifact producer with its
// vendor-agnostic classification.
type ProducerError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProducerError) Error() string { return fmt.Sprintf("producer %s: %v", e.Kind, e.Err) }
func (e *ProducerError) Unwrap() error { return e.Err }

// Classify extracts the kind from an error chain, defaulting to
// KindNetwork for unclassified failures.
func Classify(err error) ErrorKind {
	var pe *ProducerError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetwork
}

// Request describes the scene a trigger wants posted.
type Request struct {
	Date             string
	Slot             clock.TimeOfDay
	Scene            string
	Pose             string
	Action           string
	Expression       string
	Mood             string
	Persona          string
	NarrativeSummary string
	Weather          string
	Supplement       bool
	// TimeRelation is "before", "after" or "within" relative to the
	// nearest planned slot; only set for supplements.
	TimeRelation string
}

// Artifact is a produced post ready to send.
type Artifact struct {
	Photo   transport.Photo
	Caption string
}

// Producer renders the request into a photo. Implementations classify
// their failures as *ProducerError.
type Producer interface {
	Produce(ctx context.Context, req Request) (*Artifact, error)
}

// Captioner writes the post text. It is optional; when absent or
// failing, the artifact's own caption (or the scene text) is used.
type Captioner interface {
	Caption(ctx context.Context, req Request) (string, error)
}

// Failure records one target that could not be delivered to.
type Failure struct {
	Target transport.ChatTarget
	Err    error
}

// Outcome aggregates one dispatch. Delivered reports whether at least
// one target received the post; only then should the trigger be
// considered satisfied.
type Outcome struct {
	Produced   bool
	ProduceErr error
	Caption    string
	Sent       []transport.ChatTarget
	Failed     []Failure
}

func (o Outcome) Delivered() bool { return o.Produced && len(o.Sent) > 0 }

type Config struct {
	RatePerSec int
	// OnOutcome observes every finished dispatch, successful or not.
	// Used for audit recording; errors there never affect the outcome.
	OnOutcome func(ctx context.Context, req Request, out Outcome, took time.Duration)
}

// Coordinator runs the produce-once, send-many flow.
type Coordinator struct {
	producer  Producer
	captioner Captioner
	adapter   transport.Adapter
	limiter   *rate.Limiter
	onOutcome func(ctx context.Context, req Request, out Outcome, took time.Duration)
	log       logx.Logger
}

func New(cfg Config, producer Producer, captioner Captioner, adapter transport.Adapter, log logx.Logger) *Coordinator {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		producer:  producer,
		captioner: captioner,
		adapter:   adapter,
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		onOutcome: cfg.OnOutcome,
		log:       log,
	}
}

// Dispatch produces the artifact once and sends it to every target,
// rate limited. Delivery keeps going past individual target failures.
func (c *Coordinator) Dispatch(ctx context.Context, req Request, targets []transport.ChatTarget) Outcome {
	start := time.Now()
	out := c.dispatch(ctx, req, targets)
	if c.onOutcome != nil {
		c.onOutcome(ctx, req, out, time.Since(start))
	}
	return out
}

func (c *Coordinator) dispatch(ctx context.Context, req Request, targets []transport.ChatTarget) Outcome {
	var out Outcome

	if c.producer == nil {
		out.ProduceErr = &ProducerError{Kind: KindBadRequest, Err: errors.New("no producer configured")}
		return out
	}

	art, err := c.producer.Produce(ctx, req)
	if err != nil {
		out.ProduceErr = err
		c.log.Warn("artifact production failed",
			logx.String("date", req.Date),
			logx.String("slot", req.Slot.String()),
			logx.String("kind", string(Classify(err))),
			logx.Err(err))
		return out
	}
	out.Produced = true
	out.Caption = c.caption(ctx, req, art)

	for _, target := range targets {
		if err := c.limiter.Wait(ctx); err != nil {
			out.Failed = append(out.Failed, Failure{Target: target, Err: err})
			continue
		}
		if _, err := c.adapter.SendPhoto(ctx, target, art.Photo, out.Caption, nil); err != nil {
			c.log.Warn("delivery failed",
				logx.Int64("chat", target.ChatID),
				logx.Err(err))
			out.Failed = append(out.Failed, Failure{Target: target, Err: err})
			continue
		}
		out.Sent = append(out.Sent, target)
	}

	c.log.Info("dispatch finished",
		logx.String("date", req.Date),
		logx.String("slot", req.Slot.String()),
		logx.Bool("supplement", req.Supplement),
		logx.Int("sent", len(out.Sent)),
		logx.Int("failed", len(out.Failed)))
	return out
}

func (c *Coordinator) caption(ctx context.Context, req Request, art *Artifact) string {
	if c.captioner != nil {
		text, err := c.captioner.Caption(ctx, req)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			c.log.Warn("caption synthesis failed, using scene text", logx.Err(err))
		}
	}
	if art.Caption != "" {
		return art.Caption
	}
	return req.Scene
}
