package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"snapbot/pkg/logx"
)

// Service drives Engine.Tick on a fixed cadence. Start and Stop are
// idempotent; ticks stop cleanly when the run context is cancelled.
type Service struct {
	mu sync.Mutex

	eng   *Engine
	every time.Duration
	log   logx.Logger

	c         *cron.Cron
	runCancel context.CancelFunc
}

const defaultTickEvery = time.Minute

func NewService(eng *Engine, every time.Duration, log logx.Logger) *Service {
	if every <= 0 {
		every = defaultTickEvery
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{eng: eng, every: every, log: log}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.c = cron.New()
	_, err := s.c.AddFunc("@every "+s.every.String(), func() {
		s.eng.Tick(runCtx, time.Now())
	})
	if err != nil {
		s.log.Error("tick schedule rejected", logx.Err(err))
		cancel()
		s.c = nil
		return
	}
	s.c.Start()
	s.log.Info("trigger engine started", logx.Duration("every", s.every))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.runCancel()
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.c = nil
	s.log.Info("trigger engine stopped")
}
