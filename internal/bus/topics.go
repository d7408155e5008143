package bus

import "github.com/basket/lyrebird/internal/model"

// Run event topics. Subscribing to TopicRunPrefix receives all of them.
const (
	TopicRunPrefix       = "run."
	TopicRunTelemetry    = "run.telemetry"
	TopicRunStageChanged = "run.stage_changed"
)

// RunScoped is implemented by payloads that belong to one run, so stream
// consumers can filter a shared subscription.
type RunScoped interface {
	EventRunID() string
}

// RunTelemetryEvent carries one telemetry entry appended to a run.
type RunTelemetryEvent struct {
	RunID string               `json:"runId"`
	Event model.TelemetryEvent `json:"event"`
}

func (e RunTelemetryEvent) EventRunID() string { return e.RunID }

// StageChangedEvent is published whenever a run's stage is persisted.
type StageChangedEvent struct {
	RunID   string      `json:"runId"`
	From    model.Stage `json:"from"`
	To      model.Stage `json:"to"`
	Version int         `json:"version"`
}

func (e StageChangedEvent) EventRunID() string { return e.RunID }

// ForRun reports whether ev belongs to runID.
func ForRun(ev Event, runID string) bool {
	scoped, ok := ev.Payload.(RunScoped)
	return ok && scoped.EventRunID() == runID
}
