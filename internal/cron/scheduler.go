// Package cron runs the retention sweep that keeps the run registry bounded:
// on every schedule tick, runs idle for longer than MaxAge are pruned.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/lyrebird/internal/audit"
)

// cronParser accepts standard 5-field expressions and descriptors such as "@every 10m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Pruner deletes runs last updated before cutoff. store.Registry satisfies it.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds the dependencies for the retention scheduler.
type Config struct {
	Store    Pruner
	Logger   *slog.Logger
	Schedule string        // defaults to "@every 10m"
	MaxAge   time.Duration // zero disables pruning
	Now      func() time.Time
}

// Retention periodically prunes idle runs.
type Retention struct {
	store    Pruner
	logger   *slog.Logger
	schedule cronlib.Schedule
	expr     string
	now      func() time.Time

	mu     sync.Mutex
	maxAge time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetention validates the schedule and returns a scheduler.
func NewRetention(cfg Config) (*Retention, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = "@every 10m"
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", expr, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Retention{
		store:    cfg.Store,
		logger:   logger,
		schedule: sched,
		expr:     expr,
		now:      now,
		maxAge:   cfg.MaxAge,
	}, nil
}

// SetMaxAge changes the idle age used by later sweeps.
func (r *Retention) SetMaxAge(d time.Duration) {
	r.mu.Lock()
	r.maxAge = d
	r.mu.Unlock()
}

func (r *Retention) currentMaxAge() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAge
}

// Run blocks, sweeping on every schedule tick until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	r.logger.Info("retention scheduler started", "schedule", r.expr, "max_age", r.currentMaxAge())
	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("retention scheduler stopped")
			return nil
		case <-timer.C:
			r.Sweep(ctx)
		}
	}
}

// Start runs the scheduler in a background goroutine.
func (r *Retention) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Run(ctx)
	}()
}

// Stop cancels a scheduler started with Start and waits for it to exit.
func (r *Retention) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Sweep prunes runs idle for longer than the max age and returns how many
// were removed.
func (r *Retention) Sweep(ctx context.Context) int {
	maxAge := r.currentMaxAge()
	if maxAge <= 0 || r.store == nil {
		return 0
	}
	cutoff := r.now().Add(-maxAge)
	n, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention: prune failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		audit.Record(audit.KindRunPruned, "", "", fmt.Sprintf("%d run(s) idle since before %s", n, cutoff.UTC().Format(time.RFC3339)))
		r.logger.Info("retention: pruned idle runs", "count", n, "cutoff", cutoff)
	}
	return n
}

// NextRunTime parses the expression and returns the next fire time after the given time.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
