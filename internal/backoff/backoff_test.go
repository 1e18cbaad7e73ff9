package backoff

import (
	"testing"
	"time"
)

func TestDelay_GrowsExponentially(t *testing.T) {
	p := NewPolicy(30*time.Second, 2, time.Hour)

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 480 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.retryCount); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestDelay_Monotonic(t *testing.T) {
	p := NewPolicy(time.Second, 2, 10*time.Minute)

	prev := p.Delay(0)
	for r := 1; r <= 40; r++ {
		d := p.Delay(r)
		if d < prev {
			t.Fatalf("Delay(%d) = %v < Delay(%d) = %v, policy must be non-decreasing", r, d, r-1, prev)
		}
		prev = d
	}
}

func TestDelay_ConstantAboveCap(t *testing.T) {
	p := NewPolicy(30*time.Second, 2, 5*time.Minute)

	if got := p.Delay(10); got != 5*time.Minute {
		t.Errorf("Delay(10) = %v, want %v (capped)", got, 5*time.Minute)
	}
	if got := p.Delay(100); got != 5*time.Minute {
		t.Errorf("Delay(100) = %v, want %v (capped)", got, 5*time.Minute)
	}
}

func TestDelay_OverflowReturnsCap(t *testing.T) {
	p := NewPolicy(time.Hour, 10, 24*time.Hour)

	// 1h * 10^300 overflows time.Duration by a wide margin.
	if got := p.Delay(300); got != 24*time.Hour {
		t.Errorf("Delay(300) = %v, want %v", got, 24*time.Hour)
	}
}

func TestDelay_NegativeRetryCountClamped(t *testing.T) {
	p := NewPolicy(30*time.Second, 2, time.Hour)

	if got := p.Delay(-1); got != 30*time.Second {
		t.Errorf("Delay(-1) = %v, want %v", got, 30*time.Second)
	}
}

func TestDefault_ReturnsUsablePolicy(t *testing.T) {
	p := Default()
	if p.Delay(0) <= 0 {
		t.Errorf("Default().Delay(0) = %v, want > 0", p.Delay(0))
	}
}
