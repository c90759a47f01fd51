package risk

import (
	"errors"
	"testing"
)

func TestAllow(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 50}
	if !limits.Allow(49.9) {
		t.Fatalf("expected notional under limit to pass")
	}
	if limits.Allow(50.1) {
		t.Fatalf("expected notional above limit to fail")
	}
	if !(Limits{}).Allow(1e9) {
		t.Fatalf("expected zero limit to disable the check")
	}
}

func TestCheck(t *testing.T) {
	limits := Limits{MaxNotionalPerTrade: 1000, MaxPositionSize: 5}
	if err := limits.Check(2, 250, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limits.Check(5, 250, 5); !errors.Is(err, ErrNotionalExceeded) {
		t.Fatalf("expected ErrNotionalExceeded, got %v", err)
	}
	if err := limits.Check(1, 100, -6); !errors.Is(err, ErrPositionExceeded) {
		t.Fatalf("expected ErrPositionExceeded, got %v", err)
	}
}

func TestOverride(t *testing.T) {
	base := Limits{MaxNotionalPerTrade: 100, MaxPositionSize: 10}
	got := base.Override(Limits{MaxPositionSize: 3})
	if got.MaxNotionalPerTrade != 100 || got.MaxPositionSize != 3 {
		t.Fatalf("unexpected override %+v", got)
	}
}
