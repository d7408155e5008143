package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline and gateway instruments.
type Metrics struct {
	StageDuration    metric.Float64Histogram
	StageErrors      metric.Int64Counter
	RunsStarted      metric.Int64Counter
	FactsExtracted   metric.Int64Counter
	PassTouched      metric.Int64Counter
	MusicFallbacks   metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	RateLimitRejects metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StageDuration, err = meter.Float64Histogram("lyrebird.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.StageErrors, err = meter.Int64Counter("lyrebird.stage.errors",
		metric.WithDescription("Pipeline stages that ended in the error stage"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsStarted, err = meter.Int64Counter("lyrebird.runs.started",
		metric.WithDescription("Runs created by the egg stage"),
	)
	if err != nil {
		return nil, err
	}

	m.FactsExtracted, err = meter.Int64Counter("lyrebird.facts.extracted",
		metric.WithDescription("Facts produced by the yolk stage"),
	)
	if err != nil {
		return nil, err
	}

	m.PassTouched, err = meter.Int64Counter("lyrebird.pass.touched",
		metric.WithDescription("Facts whose text changed in an albumen pass"),
	)
	if err != nil {
		return nil, err
	}

	m.MusicFallbacks, err = meter.Int64Counter("lyrebird.music.fallbacks",
		metric.WithDescription("Song artifacts served by the fallback tone"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("lyrebird.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("lyrebird.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStage records one stage execution. A nil receiver is a no-op.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrStage.String(stage))
	m.StageDuration.Record(ctx, elapsed.Seconds(), attrs)
	if failed {
		m.StageErrors.Add(ctx, 1, attrs)
	}
}

// RunStarted counts one run created by the egg stage.
func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1)
}

// FactsAdded counts facts produced by one extraction.
func (m *Metrics) FactsAdded(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FactsExtracted.Add(ctx, int64(n))
}

// Touched counts facts changed by one pass.
func (m *Metrics) Touched(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PassTouched.Add(ctx, int64(n))
}

// Fallback counts one song served by the fallback tone.
func (m *Metrics) Fallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.MusicFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRequest records one gateway request.
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		AttrRoute.String(route),
		attribute.Int("http.status_code", status),
	))
}

// RateLimited counts one request rejected by the rate limiter.
func (m *Metrics) RateLimited(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitRejects.Add(ctx, 1)
}
