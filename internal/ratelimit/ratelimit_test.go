package ratelimit

import (
	"testing"
	"time"
)

func TestKeyFor(t *testing.T) {
	if got := KeyFor("src-1"); got != "rate_limit:src-1" {
		t.Errorf("KeyFor(src-1) = %q, want rate_limit:src-1", got)
	}
}

func TestWindowFor(t *testing.T) {
	tests := []struct {
		name         string
		frequencySec int
		want         time.Duration
	}{
		{"below floor", 10, 60 * time.Second},
		{"zero", 0, 60 * time.Second},
		{"at floor", 60, 60 * time.Second},
		{"above floor", 300, 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WindowFor(tt.frequencySec); got != tt.want {
				t.Errorf("WindowFor(%d) = %v, want %v", tt.frequencySec, got, tt.want)
			}
		})
	}
}
