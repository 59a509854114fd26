package clock

import (
	"testing"
	"time"
)

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    TimeOfDay
		wantErr bool
	}{
		{raw: "00:00", want: 0},
		{raw: "08:05", want: 8*60 + 5},
		{raw: "23:59", want: 23*60 + 59},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "9:00", wantErr: true},
		{raw: "0900", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseHHMM(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseHHMM(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHHMM(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHHMM(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"00:00", "07:30", "23:59"} {
		tod, err := ParseHHMM(raw)
		if err != nil {
			t.Fatalf("ParseHHMM(%q): %v", raw, err)
		}
		if tod.String() != raw {
			t.Errorf("String() = %q, want %q", tod.String(), raw)
		}
	}
}

func TestDistanceWrapsMidnight(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want time.Duration
	}{
		{"23:55", "00:05", 10 * time.Minute},
		{"00:05", "23:55", 10 * time.Minute},
		{"08:00", "08:00", 0},
		{"08:00", "20:00", 12 * time.Hour},
		{"23:50", "21:00", 2*time.Hour + 50*time.Minute},
		{"01:00", "23:00", 2 * time.Hour},
	}
	for _, tt := range tests {
		a := mustParse(t, tt.a)
		b := mustParse(t, tt.b)
		if got := Distance(a, b); got != tt.want {
			t.Errorf("Distance(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRelation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ref, target string
		want        string
	}{
		{"07:00", "08:00", "before"},
		{"09:00", "08:00", "after"},
		{"08:00", "08:00", "within"},
		{"23:50", "00:10", "before"}, // shorter way crosses midnight
		{"00:10", "23:50", "after"},
	}
	for _, tt := range tests {
		ref := mustParse(t, tt.ref)
		target := mustParse(t, tt.target)
		if got := Relation(ref, target); got != tt.want {
			t.Errorf("Relation(%s, %s) = %q, want %q", tt.ref, tt.target, got, tt.want)
		}
	}
}

func TestWindowContains(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		start, end string
		at         string
		want       bool
	}{
		{name: "plain inside", start: "09:00", end: "18:00", at: "12:00", want: true},
		{name: "plain outside", start: "09:00", end: "18:00", at: "20:00", want: false},
		{name: "start inclusive", start: "09:00", end: "18:00", at: "09:00", want: true},
		{name: "end exclusive", start: "09:00", end: "18:00", at: "18:00", want: false},
		{name: "wrap inside late", start: "23:00", end: "07:00", at: "23:30", want: true},
		{name: "wrap inside early", start: "23:00", end: "07:00", at: "03:00", want: true},
		{name: "wrap outside", start: "23:00", end: "07:00", at: "12:00", want: false},
		{name: "wrap start inclusive", start: "23:00", end: "07:00", at: "23:00", want: true},
		{name: "wrap end exclusive", start: "23:00", end: "07:00", at: "07:00", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, err := ParseWindow(tt.start, tt.end)
			if err != nil {
				t.Fatalf("ParseWindow: %v", err)
			}
			if got := w.Contains(mustParse(t, tt.at)); got != tt.want {
				t.Errorf("Contains(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestParseWindowRejectsEmpty(t *testing.T) {
	t.Parallel()
	if _, err := ParseWindow("08:00", "08:00"); err == nil {
		t.Fatal("expected error for zero-length window")
	}
	if _, err := ParseWindow("8:00", "09:00"); err == nil {
		t.Fatal("expected error for malformed start")
	}
}

func TestFromTime(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 6, 1, 14, 32, 59, 0, time.UTC)
	if got := FromTime(ts); got != TimeOfDay(14*60+32) {
		t.Errorf("FromTime = %v", got)
	}
}

func mustParse(t *testing.T, s string) TimeOfDay {
	t.Helper()
	v, err := ParseHHMM(s)
	if err != nil {
		t.Fatalf("ParseHHMM(%q): %v", s, err)
	}
	return v
}
