package main

import (
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("REFLECTSYNC_TEST_INT", "512")
	got := intEnv("REFLECTSYNC_TEST_INT", 64)
	if got != 512 {
		t.Fatalf("expected 512, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("REFLECTSYNC_TEST_INT_BAD", "oops")
	got := intEnv("REFLECTSYNC_TEST_INT_BAD", 64)
	if got != 64 {
		t.Fatalf("expected fallback 64, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("REFLECTSYNC_TEST_DURATION", "45s")
	got := durationEnv("REFLECTSYNC_TEST_DURATION", time.Second)
	if got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
}
