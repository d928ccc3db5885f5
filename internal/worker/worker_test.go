package worker

import (
	"testing"
	"time"
)

var allStatuses = []Status{StatusSpawning, StatusRunning, StatusDone, StatusFailed, StatusKilled}

func TestNextTotality(t *testing.T) {
	valid := map[Status]bool{}
	for _, s := range allStatuses {
		valid[s] = true
	}

	for _, current := range allStatuses {
		for _, alive := range []bool{true, false} {
			for _, closed := range []bool{true, false} {
				next := Next(current, alive, closed)
				if !valid[next] {
					t.Errorf("Next(%s, %v, %v) = %q, not a valid status", current, alive, closed, next)
				}
				if current.Terminal() && next != current {
					t.Errorf("Next(%s, %v, %v) = %q, terminal states must be absorbing", current, alive, closed, next)
				}
			}
		}
	}
}

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		current Status
		alive   bool
		closed  bool
		want    Status
	}{
		{StatusSpawning, true, false, StatusRunning},
		{StatusRunning, true, false, StatusRunning},
		{StatusRunning, true, true, StatusDone},
		{StatusRunning, false, true, StatusDone}, // ticket closure wins over process death
		{StatusRunning, false, false, StatusFailed},
		{StatusSpawning, false, false, StatusFailed},
		{StatusDone, false, false, StatusDone},
		{StatusFailed, true, true, StatusFailed},
		{StatusKilled, true, true, StatusKilled},
	}
	for _, tt := range tests {
		if got := Next(tt.current, tt.alive, tt.closed); got != tt.want {
			t.Errorf("Next(%s, alive=%v, closed=%v) = %s, want %s", tt.current, tt.alive, tt.closed, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusDone, StatusFailed, StatusKilled} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusSpawning, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestShouldWarnStuck(t *testing.T) {
	now := time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)
	threshold := 5 * time.Minute

	tests := []struct {
		name         string
		activeChild  bool
		heartbeat    time.Time
		procActivity time.Time
		want         bool
	}{
		{"both old", false, now.Add(-threshold), now.Add(-threshold), true},
		{"both much older", false, now.Add(-time.Hour), now.Add(-time.Hour), true},
		{"heartbeat fresh", false, now.Add(-time.Second), now.Add(-time.Hour), false},
		{"proc activity fresh", false, now.Add(-time.Hour), now.Add(-time.Second), false},
		{"active child overrides old timestamps", true, now.Add(-time.Hour), now.Add(-time.Hour), false},
		{"zero timestamps", false, time.Time{}, time.Time{}, false},
		{"exactly threshold", false, now.Add(-threshold), time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldWarnStuck(tt.activeChild, tt.heartbeat, tt.procActivity, now, threshold)
			if got != tt.want {
				t.Fatalf("ShouldWarnStuck = %v, want %v", got, tt.want)
			}
		})
	}
}
