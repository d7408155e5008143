// Package pipeline owns the run lifecycle: egg → yolk → albumen → graph →
// music → done. Every mutating operation persists the new stage before doing
// its work, computes on a clone, and either commits the outputs with a
// version bump or moves the run to the error stage keeping prior outputs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/lyrebird/internal/audit"
	"github.com/basket/lyrebird/internal/bus"
	"github.com/basket/lyrebird/internal/chatlog"
	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/music"
	"github.com/basket/lyrebird/internal/otel"
	"github.com/basket/lyrebird/internal/presets"
	"github.com/basket/lyrebird/internal/shared"
	"github.com/basket/lyrebird/internal/store"
)

// DefaultDebugEvents is how many telemetry events Debug returns.
const DefaultDebugEvents = 40

// Composer produces the song artifact for a run. music.Composer implements it.
type Composer interface {
	Compose(ctx context.Context, in music.Input) music.Outcome
}

// Settings are the request defaults a running service can swap on reload.
type Settings struct {
	FactLimit    int
	MessageCount int
	GraphSchema  string
	DebugEvents  int
}

// Config wires a Service. Registry is required; everything else has a default.
type Config struct {
	Registry store.Registry
	Source   chatlog.Source
	Composer Composer
	Presets  *presets.Catalog
	Bus      *bus.Bus
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Metrics  *otel.Metrics
	Settings Settings
	Now      func() time.Time
	NewID    func() string
}

// Service runs pipeline operations against a registry.
type Service struct {
	registry store.Registry
	source   chatlog.Source
	presets  *presets.Catalog
	bus      *bus.Bus
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *otel.Metrics
	now      func() time.Time
	newID    func() string

	locks *keyedMutex

	mu       sync.RWMutex
	settings Settings
	composer Composer
}

func New(cfg Config) *Service {
	s := &Service{
		registry: cfg.Registry,
		source:   cfg.Source,
		presets:  cfg.Presets,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		newID:    cfg.NewID,
		locks:    newKeyedMutex(),
		settings: cfg.Settings,
		composer: cfg.Composer,
	}
	if s.source == nil {
		s.source = chatlog.DefaultSource{}
	}
	if s.presets == nil {
		s.presets = presets.NewCatalog(nil)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Noop().Tracer
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.composer == nil {
		s.composer = music.Composer{Logger: s.logger}
	}
	return s
}

// SetSettings swaps request defaults for subsequent operations.
func (s *Service) SetSettings(st Settings) {
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
}

func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetComposer swaps the music composer, e.g. after the API key changed.
func (s *Service) SetComposer(c Composer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.composer = c
	s.mu.Unlock()
}

func (s *Service) currentComposer() Composer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.composer
}

// Presets returns the catalog used to resolve preset names in ApplyPass.
func (s *Service) Presets() *presets.Catalog { return s.presets }

// Registry returns the backing run registry.
func (s *Service) Registry() store.Registry { return s.registry }

// StageResult is the committed run after a stage plus the note it produced.
type StageResult struct {
	Run  *model.Run
	Note model.LLMNote
}

// stageOutput is what a stage body hands back for the ready event.
type stageOutput struct {
	data map[string]any
	note model.LLMNote
}

type stageFunc func(ctx context.Context, next *model.Run, startedAt time.Time) (stageOutput, error)

// runStage executes one mutating stage under the run's lock.
func (s *Service) runStage(ctx context.Context, runID string, stage model.Stage, startedData map[string]any, body stageFunc) (*StageResult, error) {
	unlock := s.locks.Lock(runID)
	defer unlock()

	run, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Stage.Terminal() {
		return nil, &Error{Kind: KindClosed, RunID: runID, Stage: stage, Err: ErrRunClosed}
	}
	if !model.CanTransition(run.Stage, stage) {
		return nil, &Error{Kind: KindConflict, RunID: runID, Stage: stage, Err: fmt.Errorf("cannot enter %s from %s", stage, run.Stage)}
	}

	startedAt := s.now()
	correlationID := s.newID()
	ctx = shared.WithTraceID(ctx, run.TraceID)
	ctx = shared.WithRunID(ctx, run.ID)
	ctx = shared.WithCorrelationID(ctx, correlationID)
	ctx, span := otel.StartSpan(ctx, s.tracer, "pipeline."+string(stage),
		otel.AttrRunID.String(run.ID),
		otel.AttrStage.String(string(stage)),
	)
	defer span.End()
	logger := s.logger.With("run_id", run.ID, "trace_id", run.TraceID, "stage", string(stage))

	prev := run.Stage
	published := len(run.Telemetry)
	run.Stage = stage
	s.appendEvent(run, "run_"+string(stage)+"_started", stage, correlationID, 0, "", startedData)
	if err := s.registry.Set(ctx, run); err != nil {
		span.RecordError(err)
		return nil, &Error{Kind: KindProcessing, RunID: runID, Stage: stage, Err: fmt.Errorf("persist stage: %w", err)}
	}
	s.publish(run, prev, published)
	published = len(run.Telemetry)

	// fail moves the persisted run to the error stage; prior outputs are kept.
	fail := func(err error, elapsed time.Duration) (*StageResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordStage(ctx, string(stage), elapsed, true)

		run.Stage = model.StageError
		run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", stage, err))
		run.UpdatedAt = s.now()
		s.appendEvent(run, "run_"+string(stage)+"_error", stage, correlationID, elapsed.Milliseconds(), ErrorCode(stage), map[string]any{"error": err.Error()})
		if perr := s.registry.Set(ctx, run); perr != nil {
			logger.Error("persist error stage failed", "error", perr)
		}
		s.publish(run, stage, published)
		audit.Record(audit.KindStageError, run.ID, string(stage), err.Error())
		logger.Error("stage failed", "error", err, "latency_ms", elapsed.Milliseconds())
		return nil, &Error{Kind: KindProcessing, RunID: runID, Stage: stage, Err: err}
	}

	next := run.Clone()
	out, err := s.safeCall(ctx, next, startedAt, body)
	elapsed := s.now().Sub(startedAt)
	if err != nil {
		return fail(err, elapsed)
	}

	next.Stage = stage
	next.Version = run.Version + 1
	next.UpdatedAt = s.now()
	s.appendEvent(next, "run_"+string(stage)+"_ready", stage, correlationID, elapsed.Milliseconds(), "", out.data)
	next.Notes = append(next.Notes, out.note)
	if err := s.registry.Set(ctx, next); err != nil {
		return fail(fmt.Errorf("commit stage: %w", err), elapsed)
	}
	s.publish(next, stage, published)
	s.metrics.RecordStage(ctx, string(stage), elapsed, false)
	span.SetAttributes(attribute.Int("lyrebird.run.version", next.Version))
	audit.Record(audit.KindStageReady, next.ID, string(stage), fmt.Sprintf("version %d", next.Version))
	logger.Info("stage ready", "version", next.Version, "latency_ms", elapsed.Milliseconds())

	return &StageResult{Run: next.Clone(), Note: out.note}, nil
}

// safeCall runs body, turning a panic into an error.
func (s *Service) safeCall(ctx context.Context, next *model.Run, startedAt time.Time, body stageFunc) (out stageOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in pipeline stage", "run_id", next.ID, "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return body(ctx, next, startedAt)
}

// ErrorCode is the machine-readable failure code for a stage.
func ErrorCode(stage model.Stage) string {
	if stage == model.StageMusic {
		return "music_generation_error"
	}
	return string(stage) + "_processing_error"
}

func (s *Service) load(ctx context.Context, runID string) (*model.Run, error) {
	run, err := s.registry.Get(ctx, runID)
	if err != nil {
		if isNotFound(err) {
			return nil, &Error{Kind: KindNotFound, RunID: runID, Err: err}
		}
		return nil, &Error{Kind: KindProcessing, RunID: runID, Err: fmt.Errorf("load run: %w", err)}
	}
	return run, nil
}

func (s *Service) requireRun(ctx context.Context, runID string) error {
	ok, err := s.registry.Exists(ctx, runID)
	if err != nil {
		return &Error{Kind: KindProcessing, RunID: runID, Err: fmt.Errorf("load run: %w", err)}
	}
	if !ok {
		return &Error{Kind: KindNotFound, RunID: runID, Err: store.ErrNotFound}
	}
	return nil
}

func (s *Service) appendEvent(run *model.Run, name string, stage model.Stage, correlationID string, latencyMs int64, errorCode string, data map[string]any) {
	if correlationID == "" {
		correlationID = run.TraceID
	}
	run.Telemetry = append(run.Telemetry, model.TelemetryEvent{
		ID:            s.newID(),
		EventName:     name,
		RunID:         run.ID,
		Stage:         stage,
		TraceID:       run.TraceID,
		LatencyMs:     latencyMs,
		CorrelationID: correlationID,
		ErrorCode:     errorCode,
		EventData:     data,
		Timestamp:     s.now().UnixMilli(),
	})
}

// publish announces the stage change and every telemetry event appended
// since index from.
func (s *Service) publish(run *model.Run, prev model.Stage, from int) {
	if s.bus == nil {
		return
	}
	if prev != run.Stage {
		s.bus.Publish(bus.TopicRunStageChanged, bus.StageChangedEvent{RunID: run.ID, From: prev, To: run.Stage, Version: run.Version})
	}
	for _, ev := range run.Telemetry[min(from, len(run.Telemetry)):] {
		s.bus.Publish(bus.TopicRunTelemetry, bus.RunTelemetryEvent{RunID: run.ID, Event: ev})
	}
}
