package main

import (
	"testing"
	"time"
)

func TestParseDue(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"iso date", "2026-04-01", "2026-04-01"},
		{"iso date and time", "2026-04-01 17:00", "2026-04-01"},
		{"rfc3339", "2026-04-02T08:00:00Z", "2026-04-02"},
		{"tomorrow", "tomorrow", "2026-03-11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDue(tt.in, now)
			if err != nil {
				t.Fatalf("parseDue(%q) failed: %v", tt.in, err)
			}
			if d := got.Format("2006-01-02"); d != tt.want {
				t.Errorf("parseDue(%q) = %s, want %s", tt.in, d, tt.want)
			}
		})
	}
}

func TestParseDue_Invalid(t *testing.T) {
	if _, err := parseDue("xyzzy", time.Now()); err == nil {
		t.Error("Expected error for unparseable due date")
	}
}
