package config

import (
	"reflect"
	"sort"
	"strings"

	logx "snapbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections
// and (2) safe structured attrs for logging (never includes secrets
// like tokens or API keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Telegram.Enabled != newCfg.Logging.Telegram.Enabled ||
		oldCfg.Logging.Telegram.ThreadID != newCfg.Logging.Telegram.ThreadID ||
		oldCfg.Logging.Telegram.MinLevel != newCfg.Logging.Telegram.MinLevel ||
		oldCfg.Logging.Telegram.RatePerSec != newCfg.Logging.Telegram.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Autopost (the trigger engine)
	if !reflect.DeepEqual(oldCfg.Autopost, newCfg.Autopost) {
		changed = append(changed, "autopost")
		attrs = append(attrs,
			logx.Bool("autopost.enabled", newCfg.Autopost.Enabled),
			logx.Int("autopost.slot_count", len(newCfg.Autopost.Slots)),
			logx.Bool("autopost.supplement_enabled", newCfg.Autopost.Supplement.Enabled),
			logx.String("autopost.audience_mode", newCfg.Autopost.Audience.Mode),
			logx.Int("autopost.member_count", len(newCfg.Autopost.Audience.Members)),
			logx.Int("autopost.chat_count", len(newCfg.Autopost.Chats)),
			logx.Bool("autopost.persona_set", strings.TrimSpace(newCfg.Autopost.Persona) != ""),
		)
	}

	// Services (never log API keys)
	oSvc := derefServices(oldCfg.Services)
	nSvc := derefServices(newCfg.Services)
	if !reflect.DeepEqual(oSvc, nSvc) {
		changed = append(changed, "services")
		attrs = append(attrs,
			logx.Bool("services.planner_set", nSvc.Planner != nil),
			logx.Bool("services.producer_set", nSvc.Producer != nil),
			logx.Bool("services.captioner_set", nSvc.Captioner != nil),
		)
	}

	// Storage (persistence). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefServices(s *ServicesConfig) ServicesConfig {
	if s == nil {
		return ServicesConfig{}
	}
	return *s
}
