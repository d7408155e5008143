// Package store holds run records. The pipeline depends only on Registry;
// the memory registry is the default and keeps nothing across restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/basket/lyrebird/internal/model"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("store: run not found")

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Registry maps run ids to run records. Implementations store and return
// copies, so callers never share memory with the registry.
type Registry interface {
	Get(ctx context.Context, id string) (*model.Run, error)
	Set(ctx context.Context, run *model.Run) error
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	// List returns run states, most recently updated first.
	List(ctx context.Context) ([]model.RunState, error)
	Count(ctx context.Context) (int, error)
	// PruneBefore deletes runs last updated before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Driver() string
	Close() error
}

// Config selects and configures a registry.
type Config struct {
	Driver     string
	SQLitePath string
	RedisAddr  string
	RedisDB    int
	KeyPrefix  string
}

// Open returns the registry named by cfg.Driver. An empty driver selects the
// memory registry.
func Open(ctx context.Context, cfg Config) (Registry, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case DriverRedis:
		return OpenRedis(ctx, RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Prefix: cfg.KeyPrefix})
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func sortStates(states []model.RunState) {
	parsed := make(map[string]time.Time, len(states))
	for _, s := range states {
		t, _ := time.Parse(time.RFC3339Nano, s.UpdatedAt)
		parsed[s.ID] = t
	}
	slices.SortFunc(states, func(a, b model.RunState) int {
		if c := parsed[b.ID].Compare(parsed[a.ID]); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
