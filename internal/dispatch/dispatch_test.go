package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"snapbot/internal/transport"
	"snapbot/pkg/logx"
)

type fakeProducer struct {
	calls int
	err   error
}

func (p *fakeProducer) Produce(context.Context, Request) (*Artifact, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Artifact{Photo: transport.Photo{URL: "https://img.example/1.jpg"}, Caption: "produced caption"}, nil
}

type fakeCaptioner struct {
	text string
	err  error
}

func (c *fakeCaptioner) Caption(context.Context, Request) (string, error) { return c.text, c.err }

type fakeAdapter struct {
	failFor map[int64]error
	photos  []transport.ChatTarget
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                           { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) SendPhoto(_ context.Context, to transport.ChatTarget, _ transport.Photo, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if err := a.failFor[to.ChatID]; err != nil {
		return transport.MessageRef{}, err
	}
	a.photos = append(a.photos, to)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func targets(ids ...int64) []transport.ChatTarget {
	out := make([]transport.ChatTarget, 0, len(ids))
	for _, id := range ids {
		out = append(out, transport.ChatTarget{ChatID: id})
	}
	return out
}

func TestDispatchProducesOnceForManyTargets(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{}
	ad := &fakeAdapter{}
	c := New(Config{RatePerSec: 100}, p, nil, ad, logx.Nop())

	out := c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1, 2, 3))
	if p.calls != 1 {
		t.Fatalf("producer called %d times, want 1", p.calls)
	}
	if !out.Delivered() || len(out.Sent) != 3 || len(out.Failed) != 0 {
		t.Fatalf("outcome = %+v, want 3 sent", out)
	}
}

func TestDispatchKeepsGoingPastTargetFailures(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{}
	ad := &fakeAdapter{failFor: map[int64]error{2: errors.New("blocked")}}
	c := New(Config{RatePerSec: 100}, p, nil, ad, logx.Nop())

	out := c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1, 2, 3))
	if p.calls != 1 {
		t.Fatalf("producer called %d times, want 1", p.calls)
	}
	if len(out.Sent) != 2 || len(out.Failed) != 1 {
		t.Fatalf("sent=%d failed=%d, want 2/1", len(out.Sent), len(out.Failed))
	}
	if !out.Delivered() {
		t.Fatal("partial delivery should still count as delivered")
	}
	if out.Failed[0].Target.ChatID != 2 {
		t.Fatalf("failed target = %d, want 2", out.Failed[0].Target.ChatID)
	}
}

func TestDispatchProducerFailure(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{err: &ProducerError{Kind: KindRateLimited, Err: errors.New("429")}}
	ad := &fakeAdapter{}
	c := New(Config{RatePerSec: 100}, p, nil, ad, logx.Nop())

	out := c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1, 2))
	if out.Produced || out.Delivered() {
		t.Fatalf("outcome = %+v, want nothing produced", out)
	}
	if len(ad.photos) != 0 {
		t.Fatal("sends attempted after production failure")
	}
	if Classify(out.ProduceErr) != KindRateLimited {
		t.Fatalf("kind = %s, want rate_limited", Classify(out.ProduceErr))
	}
}

func TestCaptionPreference(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		captioner Captioner
		want      string
	}{
		{"captioner wins", &fakeCaptioner{text: "fresh caption"}, "fresh caption"},
		{"captioner error falls back to artifact", &fakeCaptioner{err: errors.New("down")}, "produced caption"},
		{"no captioner uses artifact", nil, "produced caption"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := New(Config{RatePerSec: 100}, &fakeProducer{}, tc.captioner, &fakeAdapter{}, logx.Nop())
			out := c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1))
			if out.Caption != tc.want {
				t.Fatalf("caption = %q, want %q", out.Caption, tc.want)
			}
		})
	}
}

func TestClassifyDefaultsToNetwork(t *testing.T) {
	t.Parallel()
	if got := Classify(errors.New("plain")); got != KindNetwork {
		t.Fatalf("Classify = %s, want network", got)
	}
}

func TestDispatchNotifiesObserver(t *testing.T) {
	t.Parallel()
	p := &fakeProducer{}
	ad := &fakeAdapter{}

	var observed []Outcome
	cfg := Config{RatePerSec: 100, OnOutcome: func(_ context.Context, _ Request, out Outcome, took time.Duration) {
		if took < 0 {
			t.Errorf("negative duration %v", took)
		}
		observed = append(observed, out)
	}}
	c := New(cfg, p, nil, ad, logx.Nop())

	c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1))
	p.err = &ProducerError{Kind: KindServer, Err: errors.New("boom")}
	c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1))

	if len(observed) != 2 {
		t.Fatalf("observer called %d times, want 2", len(observed))
	}
	if !observed[0].Delivered() || observed[1].Delivered() {
		t.Fatalf("observed outcomes = %+v", observed)
	}
}

func TestDispatchWithoutProducer(t *testing.T) {
	t.Parallel()
	c := New(Config{}, nil, nil, &fakeAdapter{}, logx.Nop())
	out := c.Dispatch(context.Background(), Request{Scene: "walk"}, targets(1))
	if out.Produced || out.ProduceErr == nil {
		t.Fatalf("outcome = %+v, want producer failure", out)
	}
	if Classify(out.ProduceErr) != KindBadRequest {
		t.Fatalf("kind = %s, want bad_request", Classify(out.ProduceErr))
	}
}
