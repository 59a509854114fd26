package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "t", "owner_user_ids": [1], "group_log": "", "poll_timeout": "10s"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "telegram": {"enabled": false, "thread_id": 0, "min_level": "", "rate_per_sec": 0}},
		"autopost": {"enabled": false, "slots": [], "chats": [], "persona": ""},
		"surprise": true
	}`)
	m := NewConfigManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "t"
  owner_user_ids: [1]
  group_log: ""
  poll_timeout: "10s"
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
  telegram: {enabled: false, thread_id: 0, min_level: "", rate_per_sec: 0}
autopost:
  enabled: true
  slots: ["08:00", "21:00"]
  chats:
    - chat_id: 100
  persona: "cheerful college student"
  supplement:
    enabled: true
    interval: "45m"
    probability: 0.3
`)
	m := NewConfigManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Autopost.Slots) != 2 || cfg.Autopost.Chats[0].ChatID != 100 {
		t.Fatalf("autopost section mangled: %+v", cfg.Autopost)
	}
}

func TestParseAutopostDefaults(t *testing.T) {
	t.Parallel()
	s, err := ParseAutopost(AutopostConfig{
		Enabled: true,
		Slots:   []string{"08:00", "21:00"},
		Persona: "p",
	})
	if err != nil {
		t.Fatalf("ParseAutopost: %v", err)
	}
	if s.Tolerance != 2*time.Minute || s.TickEvery != time.Minute {
		t.Fatalf("timing defaults wrong: %+v", s)
	}
	if !s.SleepEnabled {
		t.Fatal("sleep should default to enabled")
	}
	if !s.RegenerateOnPersonaChange {
		t.Fatal("regenerate_on_persona_change should default to true")
	}
	if s.RetentionDays != 7 || s.NarrativeWindow != 8 {
		t.Fatalf("retention defaults wrong: %+v", s)
	}
}

func TestParseAutopostRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  AutopostConfig
	}{
		{"bad slot", AutopostConfig{Enabled: true, Slots: []string{"8:00"}}},
		{"no slots while enabled", AutopostConfig{Enabled: true}},
		{"bad tolerance", AutopostConfig{Enabled: true, Slots: []string{"08:00"}, Tolerance: "soon"}},
		{"probability above one", AutopostConfig{Enabled: true, Slots: []string{"08:00"},
			Supplement: SupplementConfig{Enabled: true, Probability: 1.5}}},
		{"bad sleep window", AutopostConfig{Enabled: true, Slots: []string{"08:00"},
			Sleep: &SleepConfig{Start: "25:00"}}},
		{"bad holiday date", AutopostConfig{Enabled: true, Slots: []string{"08:00"},
			Holidays: []string{"2026-13-01"}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseAutopost(tc.cfg); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Autopost: AutopostConfig{Enabled: false}}
	newCfg := &Config{Autopost: AutopostConfig{Enabled: true, Slots: []string{"08:00"}}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "autopost" {
		t.Fatalf("changed = %v, want [autopost]", changed)
	}
}
