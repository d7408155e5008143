package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/basket/lyrebird/internal/chatlog"
	"github.com/basket/lyrebird/internal/graph"
	"github.com/basket/lyrebird/internal/model"
)

// Get returns a copy of the full run record.
func (s *Service) Get(ctx context.Context, runID string) (*model.Run, error) {
	return s.load(ctx, runID)
}

// Status returns the polling view of a run.
func (s *Service) Status(ctx context.Context, runID string) (model.RunState, error) {
	run, err := s.load(ctx, runID)
	if err != nil {
		return model.RunState{}, err
	}
	return run.State(), nil
}

// List returns all run states, most recently updated first.
func (s *Service) List(ctx context.Context) ([]model.RunState, error) {
	states, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return states, nil
}

// Count returns the number of runs in the registry.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.registry.Count(ctx)
}

// DebugView is the newest slice of a run's telemetry and notes.
type DebugView struct {
	RunID     string                 `json:"runId"`
	Stage     model.Stage            `json:"stage"`
	Version   int                    `json:"version"`
	TraceID   string                 `json:"traceId"`
	UpdatedAt string                 `json:"updatedAt"`
	Errors    []string               `json:"errors"`
	Telemetry []model.TelemetryEvent `json:"telemetry"`
	Notes     []model.LLMNote        `json:"notes"`
}

// Debug returns the newest telemetry events (newest first, capped by the
// configured debug size) and all notes.
func (s *Service) Debug(ctx context.Context, runID string) (*DebugView, error) {
	run, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	limit := s.Settings().DebugEvents
	if limit <= 0 {
		limit = DefaultDebugEvents
	}
	events := run.Telemetry[max(0, len(run.Telemetry)-limit):]
	newest := make([]model.TelemetryEvent, len(events))
	copy(newest, events)
	slices.Reverse(newest)

	state := run.State()
	notes := run.Notes
	if notes == nil {
		notes = []model.LLMNote{}
	}
	return &DebugView{
		RunID:     run.ID,
		Stage:     run.Stage,
		Version:   run.Version,
		TraceID:   run.TraceID,
		UpdatedAt: state.UpdatedAt,
		Errors:    state.Errors,
		Telemetry: newest,
		Notes:     notes,
	}, nil
}

// Export returns the full bundle document for a run.
func (s *Service) Export(ctx context.Context, runID string) (*model.Bundle, error) {
	run, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &model.Bundle{
		RunID:        run.ID,
		RunState:     run.State(),
		Options:      run.Options,
		Messages:     nonNil(run.Messages),
		Facts:        nonNil(run.Facts),
		Passes:       nonNil(run.Passes),
		Graph:        run.Graph,
		SongArtifact: run.Song,
		Telemetry:    nonNil(run.Telemetry),
		Notes:        nonNil(run.Notes),
		ExportedAt:   s.now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// LayoutView is the visible part of a run graph with canvas positions.
type LayoutView struct {
	RunID  string             `json:"runId"`
	Width  float64            `json:"width"`
	Height float64            `json:"height"`
	Nodes  []graph.Positioned `json:"nodes"`
	Edges  []model.GraphEdge  `json:"edges"`
}

// Layout filters the run graph to its visible nodes and positions them. When
// no graph was built yet the canonical context graph is derived on the fly
// without changing the run.
func (s *Service) Layout(ctx context.Context, runID string) (*LayoutView, error) {
	run, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	var g model.Graph
	if run.Graph != nil {
		g = *run.Graph
	} else {
		g = graph.Build(graph.ContextPolicy{}, graph.InputFromRun(run))
	}
	visible := graph.Visible(g)
	opts := graph.DefaultLayout
	return &LayoutView{
		RunID:  run.ID,
		Width:  opts.Width,
		Height: opts.Height,
		Nodes:  graph.Layout(visible.Nodes, opts),
		Edges:  nonNil(visible.Edges),
	}, nil
}

// PreviewResult is a simulated chat log that belongs to no run.
type PreviewResult struct {
	Seed         string          `json:"seed"`
	MessageCount int             `json:"messageCount"`
	Messages     []model.Message `json:"messages"`
	RunState     model.RunState  `json:"runState"`
}

// PreviewTraceID marks run states returned by Preview.
const PreviewTraceID = "preview"

// Preview simulates the messages a seeded run would start from.
func (s *Service) Preview(ctx context.Context, seed string, count int) (*PreviewResult, error) {
	if seed == "" {
		seed = fmt.Sprintf("seed-%d", s.now().UnixNano()%1_000_000)
	}
	if count == 0 {
		count = s.Settings().MessageCount
	}
	messages, err := s.source.Messages(ctx, chatlog.Request{Mode: model.ModeSeeded, Seed: seed, Count: chatlog.ClampCount(count)})
	if err != nil {
		return nil, fmt.Errorf("preview messages: %w", err)
	}
	return &PreviewResult{
		Seed:         seed,
		MessageCount: len(messages),
		Messages:     messages,
		RunState: model.RunState{
			ID:        s.newID(),
			Stage:     model.StageEgg,
			Version:   1,
			TraceID:   PreviewTraceID,
			UpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
			Errors:    []string{},
		},
	}, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
