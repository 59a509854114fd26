package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapbot/internal/config"
	"snapbot/internal/dispatch"
	"snapbot/internal/engine"
	"snapbot/internal/extapi"
	"snapbot/internal/planner"
	"snapbot/internal/schedule"
	"snapbot/internal/storage"
	kit "snapbot/internal/transport"
	telegram "snapbot/internal/transport/telegram"
	logx "snapbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter kit.Adapter

	plans  *schedule.Store
	eng    *engine.Engine
	engSvc *engine.Service

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Adapter config mapping
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Logging service mapping
	// Important: logx.New() calls Apply() immediately. If Telegram logging is enabled but the target
	// chat/thread isn't configured yet, Apply() will emit a warning. To avoid a false-positive warning,
	// we bootstrap with Telegram logging disabled, set the target, then Apply() the final config.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false, // set target first, then enable via Apply()
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	// Set Telegram log target (chat + thread)
	if strings.TrimSpace(cfg.Telegram.GroupLog) != "" {
		if chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
		}
	}

	// Apply final logging config (including Telegram enable flag).
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	// Audit storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit storage enabled", logx.String("driver", sc.Driver))
	}

	settings, err := config.ParseAutopost(cfg.Autopost)
	if err != nil {
		return nil, err
	}

	// External collaborators (all optional; a missing planner means
	// every plan is a local fallback, a missing captioner means the
	// artifact caption or scene text is used).
	var syn planner.Synthesizer
	var producer dispatch.Producer
	var captioner dispatch.Captioner
	if cfg.Services != nil {
		if ep := cfg.Services.Planner; ep != nil {
			cl, err := extapi.NewPlannerClient(mapEndpoint(ep))
			if err != nil {
				return nil, fmt.Errorf("services.planner: %w", err)
			}
			syn = cl
		}
		if ep := cfg.Services.Producer; ep != nil {
			cl, err := extapi.NewProducerClient(mapEndpoint(ep))
			if err != nil {
				return nil, fmt.Errorf("services.producer: %w", err)
			}
			producer = cl
		}
		if ep := cfg.Services.Captioner; ep != nil {
			cl, err := extapi.NewCaptionerClient(mapEndpoint(ep))
			if err != nil {
				return nil, fmt.Errorf("services.captioner: %w", err)
			}
			captioner = cl
		}
	}
	if settings.Enabled && producer == nil {
		log.Warn("autopost enabled without services.producer; every dispatch will fail until one is configured")
	}

	plannerAd := planner.New(syn, settings.PackagesDir, log.With(logx.String("comp", "planner")))

	plans, err := schedule.Open(settings.StatePath, settings.RetentionDays, settings.NarrativeWindow,
		plannerAd, log.With(logx.String("comp", "plans")))
	if err != nil {
		return nil, err
	}

	coord := dispatch.New(dispatch.Config{
		RatePerSec: settings.RatePerSec,
		OnOutcome:  auditRecorder(store, log),
	}, producer, captioner, ad, log.With(logx.String("comp", "dispatch")))

	eng, err := engine.New(mapEngineConfig(settings, cfg.Autopost.Chats), plans, coord,
		log.With(logx.String("comp", "engine")))
	if err != nil {
		return nil, err
	}
	engSvc := engine.NewService(eng, settings.TickEvery, log.With(logx.String("comp", "engine")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		plans:   plans,
		eng:     eng,
		engSvc:  engSvc,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Engine exposes the trigger engine for operational tooling.
func (a *App) Engine() *engine.Engine { return a.eng }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			_ = c
			if _, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
				return err
			}
			if _, err := config.ParseAutopost(cfg.Autopost); err != nil {
				return err
			}
			if _, _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			return nil
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// The engine service always runs; a disabled engine skips its ticks,
	// so enabling via hot reload needs no restart.
	a.engSvc.Start(a.sup.Context())

	// Incoming updates are drained, not routed: the bot has no inbound
	// command surface.
	a.sup.Go0("updates.drain", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case u, ok := <-a.updates:
				if !ok {
					return
				}
				if u.Message != nil {
					a.log.Debug("update ignored",
						logx.Int64("chat", u.Message.ChatID),
						logx.Bool("group", u.Message.IsGroup))
				}
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logging.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "storage" || s == "services" {
						a.log.Warn("section changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
				if strings.TrimSpace(newCfg.Telegram.GroupLog) != "" {
					if chatID, err := strconv.ParseInt(strings.TrimSpace(newCfg.Telegram.GroupLog), 10, 64); err == nil {
						a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
					}
				} else {
					// allow clearing target via config hot-reload
					a.logs.SetTelegramTarget(0, 0)
				}

				// apply logging updates
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
					Telegram: logx.TelegramConfig{
						Enabled:    newCfg.Logging.Telegram.Enabled,
						ThreadID:   newCfg.Logging.Telegram.ThreadID,
						MinLevel:   newCfg.Logging.Telegram.MinLevel,
						RatePerSec: newCfg.Logging.Telegram.RatePerSec,
					},
				})

				// apply engine updates (live). The validator already
				// accepted this config, so a parse failure here is a bug.
				settings, err := config.ParseAutopost(newCfg.Autopost)
				if err != nil {
					a.log.Error("validated config failed to parse", logx.Err(err))
					continue
				}
				if err := a.eng.Apply(mapEngineConfig(settings, newCfg.Autopost.Chats)); err != nil {
					a.log.Error("engine rejected config", logx.Err(err))
					continue
				}

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("engine", 2*time.Second, func(c context.Context) error { a.engSvc.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })

	// Wait for supervised goroutines (config watch/reload, update drain).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	return nil
}

// auditRecorder adapts the audit store to the dispatch observer hook.
// A nil store means auditing is off.
func auditRecorder(store storage.Store, log logx.Logger) func(context.Context, dispatch.Request, dispatch.Outcome, time.Duration) {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, req dispatch.Request, out dispatch.Outcome, took time.Duration) {
		e := storage.AuditEntry{
			At:      time.Now(),
			Date:    req.Date,
			Slot:    req.Slot.String(),
			Trigger: "fixed",
			Scene:   req.Scene,
			Caption: out.Caption,
			Sent:    len(out.Sent),
			Failed:  len(out.Failed),
			TookMS:  took.Milliseconds(),
		}
		if req.Supplement {
			e.Trigger = "supplement"
		}
		if out.ProduceErr != nil {
			e.Error = out.ProduceErr.Error()
		} else if len(out.Failed) > 0 {
			e.Error = out.Failed[0].Err.Error()
		}
		if err := store.AppendAudit(ctx, e); err != nil {
			log.Warn("audit append failed", logx.Err(err))
		}
	}
}
