package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestBudget(t *testing.T) {
	budget := NewRequestBudget(60, 2)

	if !budget.Allow() || !budget.Allow() {
		t.Fatal("Expected burst of 2 to be available")
	}
	if budget.Allow() {
		t.Error("Expected budget to be exhausted after burst")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := budget.Wait(ctx); err == nil {
		t.Error("Expected Wait to fail when the next token is further away than the deadline")
	}
}

func TestRequestBudgetUnlimited(t *testing.T) {
	budget := NewRequestBudget(0, 0)
	for i := 0; i < 100; i++ {
		if !budget.Allow() {
			t.Fatalf("Expected unlimited budget, denied at %d", i)
		}
	}
}

func TestPacerFirstCallDoesNotWait(t *testing.T) {
	p := NewPacer(time.Hour, time.Hour)

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("Expected first Wait to return immediately")
	}
}

func TestPacerSpacesRequests(t *testing.T) {
	p := NewPacer(20*time.Millisecond, 40*time.Millisecond)
	ctx := context.Background()

	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Expected at least 20ms between requests, got %v", elapsed)
	}
}

func TestPacerWaitHonoursContext(t *testing.T) {
	p := NewPacer(time.Hour, time.Hour)
	_ = p.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected canceled, got %v", err)
	}
}

func TestPacerAllowAndReset(t *testing.T) {
	p := NewPacer(time.Hour, time.Hour)
	if !p.Allow() {
		t.Fatal("Expected first Allow to succeed")
	}
	if p.Allow() {
		t.Error("Expected second Allow inside the gap to fail")
	}
	p.Reset()
	if !p.Allow() {
		t.Error("Expected Allow after Reset to succeed")
	}
}

func TestChain(t *testing.T) {
	chain := Chain{NewRequestBudget(0, 1), NewPacer(0, 0)}
	for i := 0; i < 3; i++ {
		if err := chain.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if !chain.Allow() {
		t.Error("Expected zero-delay chain to allow")
	}
}
