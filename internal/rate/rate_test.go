package rate

import (
	"math"
	"testing"
	"time"
)

func TestProvisionalUntilSettled(t *testing.T) {
	e := New(0, 0)
	if e.Rate() != DefaultProvisional {
		t.Fatalf("expected default provisional, got %v", e.Rate())
	}
	if got := e.Update(4*time.Second, 400); got != DefaultProvisional {
		t.Fatalf("rate changed before settle: %v", got)
	}
	if got := e.Update(5*time.Second, 500); got != DefaultProvisional {
		t.Fatalf("settle boundary is exclusive, got %v", got)
	}
	if e.Settled() {
		t.Fatalf("should not be settled yet")
	}
}

func TestSettlesOnceAndFreezes(t *testing.T) {
	e := New(7, 5*time.Second)
	got := e.Update(5100*time.Millisecond, 1020)
	if math.Abs(got-200) > 1e-9 {
		t.Fatalf("expected 200 Hz, got %v", got)
	}
	if !e.Settled() {
		t.Fatalf("expected settled")
	}
	if got := e.Update(20*time.Second, 10); got != 200 {
		t.Fatalf("rate must be frozen, got %v", got)
	}
}

func TestZeroCountKeepsProvisional(t *testing.T) {
	e := New(128, time.Second)
	got := e.Update(2*time.Second, 0)
	if got != 128 || !e.Settled() {
		t.Fatalf("expected settled provisional rate, got %v settled=%v", got, e.Settled())
	}
}

func TestReset(t *testing.T) {
	e := New(10, time.Second)
	e.Update(2*time.Second, 100)
	e.Reset()
	if e.Settled() || e.Rate() != 10 {
		t.Fatalf("reset failed: rate=%v settled=%v", e.Rate(), e.Settled())
	}
	if got := e.Update(4*time.Second, 100); got != 25 {
		t.Fatalf("expected re-estimate of 25, got %v", got)
	}
}
