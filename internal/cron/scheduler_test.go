package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/store"
)

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	timeout := time.After(deadline)
	for {
		if check() {
			return
		}
		select {
		case <-timeout:
			t.Fatal("timed out waiting for condition")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type countingPruner struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	err     error
}

func (p *countingPruner) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.cutoffs = append(p.cutoffs, cutoff)
	return 1, p.err
}

func (p *countingPruner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestNewRetention_InvalidSchedule(t *testing.T) {
	if _, err := NewRetention(Config{Schedule: "every so often"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSweep_PrunesIdleRuns(t *testing.T) {
	ctx := context.Background()
	reg := store.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for id, age := range map[string]time.Duration{"old": 3 * time.Hour, "fresh": 10 * time.Minute} {
		if err := reg.Set(ctx, &model.Run{ID: id, Stage: model.StageYolk, Version: 2, UpdatedAt: now.Add(-age)}); err != nil {
			t.Fatalf("Set(%s): %v", id, err)
		}
	}

	r, err := NewRetention(Config{Store: reg, MaxAge: time.Hour, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	if n := r.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if ok, _ := reg.Exists(ctx, "old"); ok {
		t.Fatal("old run should be pruned")
	}
	if ok, _ := reg.Exists(ctx, "fresh"); !ok {
		t.Fatal("fresh run should remain")
	}
}

func TestSweep_DisabledWithoutMaxAge(t *testing.T) {
	p := &countingPruner{}
	r, err := NewRetention(Config{Store: p})
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	if n := r.Sweep(context.Background()); n != 0 {
		t.Fatalf("Sweep = %d, want 0", n)
	}
	if p.Calls() != 0 {
		t.Fatal("pruner should not be called when max age is zero")
	}
	r.SetMaxAge(time.Minute)
	r.Sweep(context.Background())
	if p.Calls() != 1 {
		t.Fatalf("calls = %d, want 1 after SetMaxAge", p.Calls())
	}
}

func TestSweep_Error(t *testing.T) {
	p := &countingPruner{err: errors.New("disk gone")}
	r, err := NewRetention(Config{Store: p, MaxAge: time.Minute})
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	if n := r.Sweep(context.Background()); n != 0 {
		t.Fatalf("Sweep = %d, want 0 on error", n)
	}
}

func TestRetention_FiresOnSchedule(t *testing.T) {
	p := &countingPruner{}
	r, err := NewRetention(Config{Store: p, Schedule: "@every 1s", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	r.Start(context.Background())
	defer r.Stop()

	waitFor(t, 3*time.Second, func() bool { return p.Calls() >= 1 })
}

func TestRetention_RunStopsOnCancel(t *testing.T) {
	r, err := NewRetention(Config{Store: &countingPruner{}, Schedule: "@every 1h", MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNextRunTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := NextRunTime("*/15 * * * *", base)
	if err != nil {
		t.Fatalf("NextRunTime: %v", err)
	}
	if want := base.Add(15 * time.Minute); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	next, err = NextRunTime("@every 10m", base)
	if err != nil {
		t.Fatalf("NextRunTime descriptor: %v", err)
	}
	if want := base.Add(10 * time.Minute); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if _, err := NextRunTime("bogus", base); err == nil {
		t.Fatal("expected error for bogus expression")
	}
}
