package model

import "time"

// Run is the unit of work. It is owned by the pipeline service and only
// changed through its operations.
type Run struct {
	ID        string           `json:"id"`
	Stage     Stage            `json:"stage"`
	Version   int              `json:"version"`
	TraceID   string           `json:"traceId"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Options   RunOptions       `json:"options"`
	Messages  []Message        `json:"messages"`
	Facts     []Fact           `json:"facts"`
	Passes    []Pass           `json:"passes"`
	Graph     *Graph           `json:"graph,omitempty"`
	Song      *SongArtifact    `json:"song,omitempty"`
	Telemetry []TelemetryEvent `json:"telemetry"`
	Notes     []LLMNote        `json:"notes"`
	Errors    []string         `json:"errors"`
}

// RunState is the polling view of a run.
type RunState struct {
	ID        string   `json:"id"`
	Stage     Stage    `json:"stage"`
	Version   int      `json:"version"`
	TraceID   string   `json:"traceId"`
	UpdatedAt string   `json:"updatedAt"`
	Errors    []string `json:"errors"`
}

// State returns the polling view of r.
func (r *Run) State() RunState {
	errs := cloneStrings(r.Errors)
	if errs == nil {
		errs = []string{}
	}
	return RunState{
		ID:        r.ID,
		Stage:     r.Stage,
		Version:   r.Version,
		TraceID:   r.TraceID,
		UpdatedAt: r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Errors:    errs,
	}
}

// Clone deep-copies r so a caller can compute on it without touching the
// stored record.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Facts = CloneFacts(r.Facts)
	if r.Passes != nil {
		out.Passes = make([]Pass, len(r.Passes))
		for i, p := range r.Passes {
			out.Passes[i] = p.Clone()
		}
	}
	if r.Graph != nil {
		g := r.Graph.Clone()
		out.Graph = &g
	}
	out.Song = r.Song.Clone()
	if r.Telemetry != nil {
		out.Telemetry = make([]TelemetryEvent, len(r.Telemetry))
		for i, ev := range r.Telemetry {
			cp := ev
			if ev.EventData != nil {
				cp.EventData = make(map[string]any, len(ev.EventData))
				for k, v := range ev.EventData {
					cp.EventData[k] = v
				}
			}
			out.Telemetry[i] = cp
		}
	}
	if r.Notes != nil {
		out.Notes = make([]LLMNote, len(r.Notes))
		for i, n := range r.Notes {
			cp := n
			cp.Suggestions = cloneStrings(n.Suggestions)
			out.Notes[i] = cp
		}
	}
	out.Errors = cloneStrings(r.Errors)
	return &out
}

// Bundle is the export document for a run.
type Bundle struct {
	RunID        string           `json:"runId"`
	RunState     RunState         `json:"runState"`
	Options      RunOptions       `json:"options"`
	Messages     []Message        `json:"messages"`
	Facts        []Fact           `json:"facts"`
	Passes       []Pass           `json:"passes"`
	Graph        *Graph           `json:"graph"`
	SongArtifact *SongArtifact    `json:"songArtifact"`
	Telemetry    []TelemetryEvent `json:"telemetry"`
	Notes        []LLMNote        `json:"notes"`
	ExportedAt   string           `json:"exportedAt"`
}
