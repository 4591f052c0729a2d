package backoff

import (
	"testing"
	"time"
)

func TestExponential_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1600 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second}, // capped at max
		{8, 5 * time.Second}, // capped at max
	}

	for _, tt := range tests {
		got := Exponential(tt.attempt, 0, 0)
		if got != tt.want {
			t.Errorf("Exponential(%d, 0, 0) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CustomBounds(t *testing.T) {
	t.Parallel()

	initial := 50 * time.Millisecond
	max := 500 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 500 * time.Millisecond}, // capped at max
		{6, 500 * time.Millisecond}, // capped at max
	}

	for _, tt := range tests {
		got := Exponential(tt.attempt, initial, max)
		if got != tt.want {
			t.Errorf("Exponential(%d, 50ms, 500ms) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_ZeroOrNegativeAttempt(t *testing.T) {
	t.Parallel()

	// Attempts < 1 should return initial
	if got := Exponential(0, 0, 0); got != 100*time.Millisecond {
		t.Errorf("Exponential(0, 0, 0) = %v, want 100ms", got)
	}
	if got := Exponential(-1, 0, 0); got != 100*time.Millisecond {
		t.Errorf("Exponential(-1, 0, 0) = %v, want 100ms", got)
	}
}

func TestExponential_PartialBounds(t *testing.T) {
	t.Parallel()

	// Only initial set, max uses default
	if got := Exponential(1, 200*time.Millisecond, 0); got != 200*time.Millisecond {
		t.Errorf("Exponential(1, 200ms, 0) = %v, want 200ms", got)
	}
	if got := Exponential(6, 200*time.Millisecond, 0); got != 5*time.Second {
		t.Errorf("Exponential(6, 200ms, 0) = %v, want 5s (default max)", got)
	}

	// Only max set, initial uses default
	if got := Exponential(1, 0, 300*time.Millisecond); got != 100*time.Millisecond {
		t.Errorf("Exponential(1, 0, 300ms) = %v, want 100ms (default initial)", got)
	}
	if got := Exponential(3, 0, 300*time.Millisecond); got != 300*time.Millisecond {
		t.Errorf("Exponential(3, 0, 300ms) = %v, want 300ms (capped)", got)
	}
}
