package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basket/lyrebird/internal/model"
)

const defaultKeyPrefix = "lyrebird"

// RedisConfig configures the Redis registry.
type RedisConfig struct {
	Addr   string
	DB     int
	Prefix string
}

// Redis keeps each run as a JSON string and indexes ids in a sorted set
// scored by update time.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("store: redis address is empty")
	}
	r := NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB}), cfg.Prefix)
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		_ = r.rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return r, nil
}

// NewRedis wraps an existing client. The registry owns it and closes it on
// Close.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Driver() string { return DriverRedis }

func (r *Redis) runKey(id string) string { return r.prefix + ":run:" + id }

func (r *Redis) indexKey() string { return r.prefix + ":runs" }

func (r *Redis) Get(ctx context.Context, id string) (*model.Run, error) {
	body, err := r.rdb.Get(ctx, r.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run model.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

func (r *Redis) Set(ctx context.Context, run *model.Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.runKey(run.ID), body, 0)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(run.UpdatedAt.UnixMilli()), Member: run.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("set run %s: %w", run.ID, err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.runKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists run %s: %w", id, err)
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.runKey(id))
		p.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]model.RunState, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	states := make([]model.RunState, 0, len(ids))
	for _, id := range ids {
		run, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, run.State())
	}
	sortStates(states)
	return states, nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return int(n), nil
}

func (r *Redis) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	ids, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (r *Redis) Close() error { return r.rdb.Close() }
