package ratelimit

import (
	"testing"
	"time"
)

func TestState_Gating(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name      string
		remaining int
		block     bool
		throttle  bool
		healthy   bool
	}{
		{"healthy", 80, false, false, true},
		{"at healthy threshold", th.Healthy, false, false, true},
		{"between warning and healthy", th.Warning + 1, false, false, false},
		{"at warning threshold", th.Warning, false, false, false},
		{"just below warning", th.Warning - 1, false, true, false},
		{"at critical threshold", th.Critical, false, true, false},
		{"below critical", th.Critical - 1, true, false, false},
		{"exhausted", 0, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{Remaining: tt.remaining}
			s.UpdateHealth(th)

			if got := s.NeedsCriticalBlock(th); got != tt.block {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.block)
			}
			if got := s.NeedsThrottling(th); got != tt.throttle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.throttle)
			}
			if s.IsHealthy != tt.healthy {
				t.Errorf("IsHealthy = %v, want %v", s.IsHealthy, tt.healthy)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	future := &State{ResetAt: time.Now().Add(30 * time.Second)}
	if d := future.TimeUntilReset(); d < 29*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 30s", d)
	}

	past := &State{ResetAt: time.Now().Add(-time.Second)}
	if d := past.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", d)
	}
}

func TestState_IsStale(t *testing.T) {
	s := &State{LastUpdate: time.Now().Add(-2 * time.Minute)}
	if !s.IsStale(time.Minute) {
		t.Error("state should be stale")
	}
	if s.IsStale(5 * time.Minute) {
		t.Error("state should not be stale")
	}
}
