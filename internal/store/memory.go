package store

import (
	"context"
	"sync"
	"time"

	"github.com/basket/lyrebird/internal/model"
)

// Memory is a process-local registry.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*model.Run
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*model.Run)}
}

func (m *Memory) Driver() string { return DriverMemory }

func (m *Memory) Get(ctx context.Context, id string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

func (m *Memory) Set(ctx context.Context, run *model.Run) error {
	m.mu.Lock()
	m.runs[run.ID] = run.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	_, ok := m.runs[id]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context) ([]model.RunState, error) {
	m.mu.RLock()
	states := make([]model.RunState, 0, len(m.runs))
	for _, run := range m.runs {
		states = append(states, run.State())
	}
	m.mu.RUnlock()
	sortStates(states)
	return states, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs), nil
}

func (m *Memory) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, run := range m.runs {
		if run.UpdatedAt.Before(cutoff) {
			delete(m.runs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
