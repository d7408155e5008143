package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/yolk"
)

const (
	// NoteModel names the heuristic that writes stage notes. No model is called.
	NoteModel  = "lyrebird-heuristic-v1"
	NoteSource = "heuristic"

	previewLen = 96
)

func newNote(run *model.Run, stage model.Stage, task string, latency time.Duration, now time.Time) model.LLMNote {
	return model.LLMNote{
		Task:        task,
		Model:       NoteModel,
		Stage:       stage,
		Suggestions: []string{},
		Metadata: model.NoteMetadata{
			Source:    NoteSource,
			LatencyMs: latency.Milliseconds(),
			RunID:     run.ID,
			TraceID:   run.TraceID,
		},
		CreatedAt: now.UnixMilli(),
	}
}

func eggNote(run *model.Run, latency time.Duration, now time.Time) model.LLMNote {
	n := newNote(run, model.StageEgg, "ingest-messages", latency, now)
	count := len(run.Messages)
	n.Confidence = 0.9
	n.Rationale = fmt.Sprintf("Loaded %d message(s) from the %s source.", count, run.Options.Mode)
	if count > 0 {
		first := run.Messages[0]
		n.PayloadPreview = preview(first.Author + ": " + first.Content)
	}
	if count < 5 {
		n.Confidence = 0.7
		n.Suggestions = append(n.Suggestions, "Provide at least five messages for richer facts.")
	}
	n.Suggestions = append(n.Suggestions, "Run the yolk stage to extract facts.")
	return n
}

func yolkNote(run *model.Run, latency time.Duration, now time.Time) model.LLMNote {
	n := newNote(run, model.StageYolk, "fact-extraction", latency, now)
	n.Rationale = fmt.Sprintf("Extracted %d fact(s) from %d message(s) with keyword heuristics.", len(run.Facts), len(run.Messages))
	n.Confidence = meanConfidence(run.Facts)
	if len(run.Facts) > 0 {
		n.PayloadPreview = preview(run.Facts[0].Text)
	}
	fallback, pii, low := false, false, 0
	for _, f := range run.Facts {
		if f.Text == yolk.FallbackText {
			fallback = true
		}
		for _, ex := range f.Provenance.Excerpts {
			if strings.Contains(ex, "@") {
				pii = true
			}
		}
		if f.Confidence < 0.7 {
			low++
		}
	}
	if fallback {
		n.Suggestions = append(n.Suggestions, "Add messages that mention deploys, merges, fixes or reviews.")
	}
	if pii {
		n.Suggestions = append(n.Suggestions, "Source messages contain email addresses; apply the redact-pii preset.")
	}
	if low > 0 {
		n.Suggestions = append(n.Suggestions, fmt.Sprintf("Review %d low-confidence fact(s) before the albumen pass.", low))
	}
	if len(n.Suggestions) == 0 {
		n.Suggestions = append(n.Suggestions, "Apply an albumen pass to rewrite or redact facts.")
	}
	return n
}

func albumenNote(run *model.Run, pass model.Pass, latency time.Duration, now time.Time) model.LLMNote {
	n := newNote(run, model.StageAlbumen, "pass-review", latency, now)
	n.Rationale = fmt.Sprintf("Pass v%d applied %d rule(s) and touched %d of %d fact(s).", pass.Version, len(pass.Rules), pass.TouchedCount, len(run.Facts))
	n.Confidence = 0.8
	for _, f := range run.Facts {
		if len(f.AppliedDiffs) > 0 {
			n.PayloadPreview = preview(f.AppliedDiffs[len(f.AppliedDiffs)-1].After)
			break
		}
	}
	switch {
	case len(pass.Rules) == 0:
		n.Confidence = 0.6
		n.Suggestions = append(n.Suggestions, "The pass had no rules; add find/replace rules or pick a preset.")
	case pass.TouchedCount == 0:
		n.Confidence = 0.65
		n.Suggestions = append(n.Suggestions, "No fact changed; check the find text of each rule.")
	default:
		n.Suggestions = append(n.Suggestions, "Build the graph to review facts in context.")
	}
	return n
}

func graphNote(run *model.Run, schema string, latency time.Duration, now time.Time) model.LLMNote {
	n := newNote(run, model.StageGraph, "graph-summary", latency, now)
	nodes, edges := 0, 0
	if run.Graph != nil {
		nodes, edges = len(run.Graph.Nodes), len(run.Graph.Edges)
	}
	n.Rationale = fmt.Sprintf("Built %d node(s) and %d edge(s) with the %s schema.", nodes, edges, schema)
	n.Confidence = 0.85
	n.PayloadPreview = preview(fmt.Sprintf("%d facts linked to their context", len(run.Facts)))
	if nodes <= 2 {
		n.Confidence = 0.6
		n.Suggestions = append(n.Suggestions, "The graph is sparse; extract facts before building it.")
	} else {
		n.Suggestions = append(n.Suggestions, "Generate music to close out the run.")
	}
	return n
}

func musicNote(run *model.Run, fallback bool, reason string, latency time.Duration, now time.Time) model.LLMNote {
	n := newNote(run, model.StageMusic, "music-brief", latency, now)
	n.Confidence = 0.75
	if run.Song != nil {
		n.PayloadPreview = preview(run.Song.Style + " / " + run.Song.Mood)
		n.Rationale = fmt.Sprintf("Song artifact from %s provider, %d ms.", run.Song.AudioProvider, run.Song.DurationMs)
	}
	if fallback {
		n.Confidence = 0.5
		n.Suggestions = append(n.Suggestions, "Fallback tone used: "+reason+".")
	} else {
		n.Suggestions = append(n.Suggestions, "Export the run bundle to keep the track URL.")
	}
	return n
}

func meanConfidence(facts []model.Fact) float64 {
	if len(facts) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range facts {
		sum += f.Confidence
	}
	return math.Round(sum/float64(len(facts))*100) / 100
}

func preview(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= previewLen {
		return string(r)
	}
	return string(r[:previewLen-1]) + "…"
}
