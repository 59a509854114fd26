package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Autopost controls the schedule and trigger engine.
	Autopost AutopostConfig `json:"autopost"`

	// Services describes the external generation endpoints (plan,
	// image, caption). Omitted endpoints fall back to built-in
	// behavior (fallback plans, no captions).
	Services *ServicesConfig `json:"services,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

// AutopostConfig drives the trigger engine.
//
// All durations are Go duration strings (e.g. "90s", "2m", "1h").
//
// Defaults (when fields are omitted/zero):
//   - tolerance: "2m"
//   - tick_every: "1m"
//   - retention_days: 7
//   - narrative_window: 8
//   - sleep: enabled, 23:00-07:00
//   - regenerate_on_persona_change: true
type AutopostConfig struct {
	Enabled bool `json:"enabled"`

	// Slots are fixed posting times as "HH:MM", unique, any order.
	Slots []string `json:"slots"`

	// Tolerance is the half-width of the firing window around a slot.
	Tolerance string `json:"tolerance,omitempty"`

	// TickEvery is the engine polling cadence.
	TickEvery string `json:"tick_every,omitempty"`

	Sleep      *SleepConfig     `json:"sleep,omitempty"`
	Supplement SupplementConfig `json:"supplement,omitempty"`
	Audience   AudienceConfig   `json:"audience,omitempty"`

	// Chats is the candidate pool the audience rules filter.
	Chats []ChatConfig `json:"chats"`

	// Persona is the character description fed into plan and caption
	// synthesis. Changing it regenerates today's plan unless
	// regenerate_on_persona_change is false.
	Persona                   string `json:"persona"`
	RegenerateOnPersonaChange *bool  `json:"regenerate_on_persona_change,omitempty"`

	Weather string `json:"weather,omitempty"`
	// Holidays lists "YYYY-MM-DD" dates treated as holidays for plan
	// flavor.
	Holidays []string `json:"holidays,omitempty"`

	RetentionDays   int `json:"retention_days,omitempty"`
	NarrativeWindow int `json:"narrative_window,omitempty"`

	// StatePath is where the engine persists plans and bookkeeping.
	StatePath string `json:"state_path,omitempty"`
	// PackagesDir receives failed synthesis exchanges for inspection.
	PackagesDir string `json:"packages_dir,omitempty"`

	// RatePerSec bounds outbound sends during fan-out.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type SleepConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Start   string `json:"start,omitempty"` // "HH:MM", default "23:00"
	End     string `json:"end,omitempty"`   // "HH:MM", default "07:00"
}

type SupplementConfig struct {
	Enabled bool `json:"enabled"`
	// Interval is the minimum gap between supplement attempts.
	Interval    string  `json:"interval,omitempty"` // default "1h"
	Probability float64 `json:"probability,omitempty"`
	// SlotMargin suppresses supplements this close to a fixed slot.
	SlotMargin string `json:"slot_margin,omitempty"` // default "30m"
}

type AudienceConfig struct {
	// Mode is "whitelist" (default) or "blacklist".
	Mode    string  `json:"mode,omitempty"`
	Members []int64 `json:"members,omitempty"`
}

type ChatConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// ServicesConfig wires the external collaborators.
type ServicesConfig struct {
	Planner   *EndpointConfig `json:"planner,omitempty"`
	Producer  *EndpointConfig `json:"producer,omitempty"`
	Captioner *EndpointConfig `json:"captioner,omitempty"`
}

// EndpointConfig describes one JSON-over-HTTP collaborator.
type EndpointConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	// Timeout is a Go duration string, default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the dispatch audit log.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./snapbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
