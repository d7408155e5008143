package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/lyrebird/internal/albumen"
	"github.com/basket/lyrebird/internal/audit"
	"github.com/basket/lyrebird/internal/chatlog"
	"github.com/basket/lyrebird/internal/graph"
	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/music"
	"github.com/basket/lyrebird/internal/otel"
	"github.com/basket/lyrebird/internal/rng"
	"github.com/basket/lyrebird/internal/shared"
	"github.com/basket/lyrebird/internal/store"
	"github.com/basket/lyrebird/internal/yolk"
)

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

// StartRequest describes a new run.
type StartRequest struct {
	Mode              model.RunMode
	Seed              string
	MessageCount      int
	Transcript        string
	IncludeTranscript bool
	Profile           string
	PromptHint        string
	TraceID           string
}

// StartRun creates a run in the egg stage with its messages loaded.
func (s *Service) StartRun(ctx context.Context, req StartRequest) (*StageResult, error) {
	startedAt := s.now()
	mode := req.Mode
	if mode == "" {
		mode = model.ModeSeeded
	}
	if mode != model.ModeSeeded && mode != model.ModePaste {
		return nil, &Error{Kind: KindInvalid, Stage: model.StageEgg, Err: fmt.Errorf("unknown mode %q", req.Mode)}
	}
	count := req.MessageCount
	if count == 0 {
		count = s.Settings().MessageCount
	}
	count = chatlog.ClampCount(count)
	seed := strings.TrimSpace(req.Seed)
	if seed == "" {
		seed = fmt.Sprintf("seed-%d", rng.HashSeed(s.newID())%1_000_000)
	}
	traceID := strings.TrimSpace(req.TraceID)
	if traceID == "" {
		traceID = shared.NewTraceID()
	}

	run := &model.Run{
		ID:        s.newID(),
		Stage:     model.StageEgg,
		Version:   1,
		TraceID:   traceID,
		CreatedAt: startedAt,
		UpdatedAt: startedAt,
		Options: model.RunOptions{
			Mode:              mode,
			Seed:              seed,
			Profile:           strings.TrimSpace(req.Profile),
			MessageCount:      count,
			Transcript:        req.Transcript,
			IncludeTranscript: req.IncludeTranscript || (mode == model.ModePaste && strings.TrimSpace(req.Transcript) != ""),
			PromptHint:        req.PromptHint,
		},
		Messages:  []model.Message{},
		Facts:     []model.Fact{},
		Passes:    []model.Pass{},
		Telemetry: []model.TelemetryEvent{},
		Notes:     []model.LLMNote{},
		Errors:    []string{},
	}

	ctx = shared.WithTraceID(shared.WithRunID(ctx, run.ID), traceID)
	ctx, span := otel.StartSpan(ctx, s.tracer, "pipeline.egg",
		otel.AttrRunID.String(run.ID),
		otel.AttrStage.String(string(model.StageEgg)),
	)
	defer span.End()

	messages, err := s.source.Messages(ctx, chatlog.Request{Mode: mode, Seed: seed, Count: count, Transcript: req.Transcript})
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordStage(ctx, string(model.StageEgg), s.now().Sub(startedAt), true)
		return nil, &Error{Kind: KindProcessing, RunID: run.ID, Stage: model.StageEgg, Err: fmt.Errorf("load messages: %w", err)}
	}
	run.Messages = messages

	correlationID := s.newID()
	s.appendEvent(run, "run_egg_started", model.StageEgg, correlationID, 0, "", map[string]any{"messageCount": len(messages), "mode": string(mode)})
	elapsed := s.now().Sub(startedAt)
	s.appendEvent(run, "run_egg_ready", model.StageEgg, correlationID, elapsed.Milliseconds(), "", map[string]any{"traceId": traceID})
	note := eggNote(run, elapsed, s.now())
	run.Notes = append(run.Notes, note)

	if err := s.registry.Set(ctx, run); err != nil {
		span.RecordError(err)
		return nil, &Error{Kind: KindProcessing, RunID: run.ID, Stage: model.StageEgg, Err: fmt.Errorf("persist run: %w", err)}
	}
	s.publish(run, model.StageIdle, 0)
	s.metrics.RecordStage(ctx, string(model.StageEgg), elapsed, false)
	s.metrics.RunStarted(ctx)
	audit.Record(audit.KindRunStarted, run.ID, string(model.StageEgg), fmt.Sprintf("%s seed=%s messages=%d", mode, seed, len(messages)))
	s.logger.Info("run started", "run_id", run.ID, "trace_id", traceID, "mode", string(mode), "messages", len(messages))

	return &StageResult{Run: run.Clone(), Note: note}, nil
}

// ExtractFacts runs the yolk stage. A zero limit uses the configured default.
func (s *Service) ExtractFacts(ctx context.Context, runID string, limit int) (*StageResult, error) {
	if limit == 0 {
		limit = s.Settings().FactLimit
	}
	limit = yolk.ClampLimit(limit)
	return s.runStage(ctx, runID, model.StageYolk, map[string]any{"factLimit": limit},
		func(ctx context.Context, next *model.Run, startedAt time.Time) (stageOutput, error) {
			next.Facts = yolk.Extract(next.Messages, yolk.Options{RunID: next.ID, Version: 1, Limit: limit})
			s.metrics.FactsAdded(ctx, len(next.Facts))
			return stageOutput{
				data: map[string]any{"factCount": len(next.Facts)},
				note: yolkNote(next, s.now().Sub(startedAt), s.now()),
			}, nil
		})
}

// PassRequest is one albumen pass: an optional preset followed by explicit rules.
type PassRequest struct {
	Preset string
	Rules  []model.Rule
}

// ApplyPass runs the albumen stage over the run's current facts.
func (s *Service) ApplyPass(ctx context.Context, runID string, req PassRequest) (*StageResult, error) {
	// An unknown run reports not found before any request validation.
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	var rules []model.Rule
	if strings.TrimSpace(req.Preset) != "" {
		pr, err := s.presets.Rules(req.Preset)
		if err != nil {
			return nil, &Error{Kind: KindInvalid, RunID: runID, Stage: model.StageAlbumen, Err: err}
		}
		rules = append(rules, pr...)
	}
	rules = append(rules, req.Rules...)
	if err := albumen.ValidateRules(rules); err != nil {
		return nil, &Error{Kind: KindInvalid, RunID: runID, Stage: model.StageAlbumen, Err: err}
	}

	var touched int
	res, err := s.runStage(ctx, runID, model.StageAlbumen, map[string]any{"passRules": len(rules), "preset": req.Preset},
		func(ctx context.Context, next *model.Run, startedAt time.Time) (stageOutput, error) {
			engine := albumen.Engine{NewID: s.newID, Now: s.now}
			result := engine.Apply(next.Facts, rules, len(next.Passes))
			next.Facts = result.Facts
			next.Passes = append(next.Passes, result.Pass)
			touched = result.Pass.TouchedCount
			return stageOutput{
				data: map[string]any{"passCount": len(next.Passes), "touched": touched},
				note: albumenNote(next, result.Pass, s.now().Sub(startedAt), s.now()),
			}, nil
		})
	if err == nil {
		s.metrics.Touched(ctx, touched)
	}
	return res, err
}

// BuildGraph runs the graph stage with the named schema. An empty schema uses
// the configured default.
func (s *Service) BuildGraph(ctx context.Context, runID, schema string) (*StageResult, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(schema) == "" {
		schema = s.Settings().GraphSchema
	}
	policy, err := graph.PolicyFor(schema)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, RunID: runID, Stage: model.StageGraph, Err: err}
	}
	return s.runStage(ctx, runID, model.StageGraph, map[string]any{"schema": policy.Name()},
		func(ctx context.Context, next *model.Run, startedAt time.Time) (stageOutput, error) {
			otel.Annotate(ctx, otel.AttrSchema.String(policy.Name()))
			g := graph.Build(policy, graph.InputFromRun(next))
			next.Graph = &g
			return stageOutput{
				data: map[string]any{"nodeCount": len(g.Nodes), "edgeCount": len(g.Edges), "schema": policy.Name()},
				note: graphNote(next, policy.Name(), s.now().Sub(startedAt), s.now()),
			}, nil
		})
}

// MusicRequest customizes the music stage.
type MusicRequest struct {
	Prompt   string
	Mood     string
	MockOnly bool
}

// GenerateMusic runs the music stage. Provider failures never fail the stage:
// the composer falls back to the deterministic tone.
func (s *Service) GenerateMusic(ctx context.Context, runID string, req MusicRequest) (*StageResult, error) {
	composer := s.currentComposer()
	return s.runStage(ctx, runID, model.StageMusic, map[string]any{"requestedAt": s.now().UTC().Format(time.RFC3339Nano), "mockOnly": req.MockOnly},
		func(ctx context.Context, next *model.Run, startedAt time.Time) (stageOutput, error) {
			out := composer.Compose(ctx, music.Input{
				RunID:    next.ID,
				TraceID:  next.TraceID,
				Facts:    next.Facts,
				Prompt:   req.Prompt,
				Mood:     req.Mood,
				MockOnly: req.MockOnly,
			})
			if out.Song == nil {
				return stageOutput{}, errors.New("composer returned no song artifact")
			}
			next.Song = out.Song
			otel.Annotate(ctx, otel.AttrProvider.String(string(out.Song.AudioProvider)))
			if out.Fallback {
				s.metrics.Fallback(ctx, out.Reason)
			}
			if out.AfterError {
				s.appendEvent(next, "run_music_fallback", model.StageMusic, shared.CorrelationID(ctx), 0, "", map[string]any{"reason": out.Reason})
				audit.Record(audit.KindFallback, next.ID, string(model.StageMusic), out.Reason)
			}
			return stageOutput{
				data: map[string]any{
					"artifactId": out.Song.ID,
					"provider":   string(out.Song.AudioProvider),
					"durationMs": out.Song.DurationMs,
				},
				note: musicNote(next, out.Fallback, out.Reason, s.now().Sub(startedAt), s.now()),
			}, nil
		})
}

// Finish closes the run. Closed runs reject every further mutation.
func (s *Service) Finish(ctx context.Context, runID string) (*model.Run, error) {
	unlock := s.locks.Lock(runID)
	defer unlock()

	run, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Stage.Terminal() {
		return nil, &Error{Kind: KindClosed, RunID: runID, Stage: model.StageDone, Err: ErrRunClosed}
	}
	if !model.CanTransition(run.Stage, model.StageDone) {
		return nil, &Error{Kind: KindConflict, RunID: runID, Stage: model.StageDone, Err: fmt.Errorf("cannot finish from %s", run.Stage)}
	}
	prev := run.Stage
	from := len(run.Telemetry)
	run.Stage = model.StageDone
	run.Version++
	run.UpdatedAt = s.now()
	s.appendEvent(run, "run_done_ready", model.StageDone, "", 0, "", map[string]any{"version": run.Version})
	if err := s.registry.Set(ctx, run); err != nil {
		return nil, &Error{Kind: KindProcessing, RunID: runID, Stage: model.StageDone, Err: fmt.Errorf("persist run: %w", err)}
	}
	s.publish(run, prev, from)
	audit.Record(audit.KindRunClosed, run.ID, string(model.StageDone), fmt.Sprintf("version %d", run.Version))
	s.logger.Info("run closed", "run_id", run.ID, "trace_id", run.TraceID, "version", run.Version)
	return run.Clone(), nil
}
