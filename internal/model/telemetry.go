package model

// TelemetryEvent is one entry of a run's append-only event log.
type TelemetryEvent struct {
	ID            string         `json:"id"`
	EventName     string         `json:"eventName"`
	RunID         string         `json:"runId"`
	Stage         Stage          `json:"stage"`
	TraceID       string         `json:"traceId"`
	LatencyMs     int64          `json:"latencyMs"`
	CorrelationID string         `json:"correlationId"`
	ErrorCode     string         `json:"errorCode,omitempty"`
	EventData     map[string]any `json:"eventData,omitempty"`
	Timestamp     int64          `json:"timestamp"`
}

// NoteMetadata describes how an LLMNote was produced.
type NoteMetadata struct {
	Source    string `json:"source"`
	LatencyMs int64  `json:"latencyMs"`
	RunID     string `json:"runId"`
	TraceID   string `json:"traceId"`
}

// LLMNote is a per-stage summary shown next to the stage output.
type LLMNote struct {
	Task           string       `json:"task"`
	Model          string       `json:"model"`
	Stage          Stage        `json:"stage"`
	Confidence     float64      `json:"confidence"`
	Rationale      string       `json:"rationale"`
	PayloadPreview string       `json:"payloadPreview"`
	Suggestions    []string     `json:"suggestions"`
	Metadata       NoteMetadata `json:"metadata"`
	CreatedAt      int64        `json:"createdAt"`
}
