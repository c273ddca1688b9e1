package core

import (
	"testing"
	"time"
)

func TestDelayForAttempt(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        3,
		InitialDelayMs:    100,
		MaxDelayMs:        5000,
		BackoffMultiplier: 2.0,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 5000 * time.Millisecond}, // capped
	}
	for _, tc := range cases {
		if got := cfg.DelayForAttempt(tc.attempt); got != tc.want {
			t.Errorf("DelayForAttempt(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayForAttemptDegenerateConfig(t *testing.T) {
	// multiplier below one never shrinks the delay
	cfg := RetryConfig{InitialDelayMs: 50, BackoffMultiplier: 0.5, MaxDelayMs: 1000}
	if got := cfg.DelayForAttempt(3); got != 50*time.Millisecond {
		t.Errorf("delay with sub-one multiplier = %v, want constant 50ms", got)
	}

	// zero max means uncapped
	cfg = RetryConfig{InitialDelayMs: 100, BackoffMultiplier: 10}
	if got := cfg.DelayForAttempt(3); got != 100*time.Second {
		t.Errorf("uncapped delay = %v, want 100s", got)
	}

	// negative attempts behave like the first retry
	if got := cfg.DelayForAttempt(-1); got != 100*time.Millisecond {
		t.Errorf("DelayForAttempt(-1) = %v, want initial delay", got)
	}
}

func TestChainValidate(t *testing.T) {
	ch := &Chain{
		ID:   "c-1",
		Name: "fallback",
		Steps: []ChainStep{
			{ModelID: "m-1"},
			{ModelID: "m-2"},
		},
	}
	if err := ch.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	ch.Steps[1].ModelID = "bad id"
	if err := ch.Validate(); err == nil {
		t.Error("Validate() accepted a step with an invalid model id")
	}

	ch = &Chain{ID: "-bad"}
	if err := ch.Validate(); err == nil {
		t.Error("Validate() accepted an invalid chain id")
	}
}
