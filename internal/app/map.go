package app

import (
	"fmt"
	"strings"
	"time"

	"snapbot/internal/audience"
	"snapbot/internal/config"
	"snapbot/internal/engine"
	"snapbot/internal/extapi"
	"snapbot/internal/storage"
	"snapbot/internal/transport"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapEndpoint(ep *config.EndpointConfig) extapi.Config {
	timeout, _ := parseDurationOrDefault("timeout", ep.Timeout, 0)
	return extapi.Config{
		BaseURL: ep.BaseURL,
		APIKey:  ep.APIKey,
		Model:   ep.Model,
		Timeout: timeout,
	}
}

func mapEngineConfig(s config.AutopostSettings, chats []config.ChatConfig) engine.Config {
	targets := make([]transport.ChatTarget, 0, len(chats))
	for _, c := range chats {
		targets = append(targets, transport.ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID})
	}
	return engine.Config{
		Enabled:   s.Enabled,
		Slots:     s.Slots,
		Tolerance: s.Tolerance,

		SleepEnabled: s.SleepEnabled,
		Sleep:        s.Sleep,

		Supplement: engine.SupplementConfig{
			Enabled:     s.SupplementEnabled,
			Interval:    s.SupplementInterval,
			Probability: s.SupplementProbability,
			SlotMargin:  s.SupplementSlotMargin,
		},

		AudienceMode:    audience.Mode(s.AudienceMode),
		AudienceMembers: s.AudienceMembers,
		Chats:           targets,

		Persona:                   s.Persona,
		Weather:                   s.Weather,
		Holidays:                  s.Holidays,
		RegenerateOnPersonaChange: s.RegenerateOnPersonaChange,
	}
}
