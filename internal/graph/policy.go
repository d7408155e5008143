// Package graph turns run data into a node-link graph and lays it out for
// rendering.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/basket/lyrebird/internal/model"
)

const (
	SchemaContext = "context"
	SchemaRun     = "run"

	// PreviewFacts caps the facts drawn by the context schema.
	PreviewFacts = 5

	// ExplainedByCap caps explained_by edges per fact in the run schema.
	ExplainedByCap = 2

	DefaultProfile = "Default profile"
)

// ErrUnknownSchema is returned by PolicyFor for names it does not know.
var ErrUnknownSchema = errors.New("graph: unknown schema")

// Input is the run data a policy builds from.
type Input struct {
	RunID     string
	Stage     model.Stage
	CreatedAt int64
	Profile   string
	Context   string
	Messages  []model.Message
	Facts     []model.Fact
	Passes    []model.Pass
	Song      *model.SongArtifact
}

// InputFromRun collects builder input from r. The context text is the
// transcript when the run was asked to include it, else the prompt hint,
// else the seed.
func InputFromRun(r *model.Run) Input {
	in := Input{
		RunID:     r.ID,
		Stage:     r.Stage,
		CreatedAt: r.CreatedAt.UnixMilli(),
		Profile:   strings.TrimSpace(r.Options.Profile),
		Messages:  r.Messages,
		Facts:     r.Facts,
		Passes:    r.Passes,
		Song:      r.Song,
	}
	if in.Profile == "" {
		in.Profile = DefaultProfile
	}
	switch {
	case r.Options.IncludeTranscript && strings.TrimSpace(r.Options.Transcript) != "":
		in.Context = r.Options.Transcript
	case strings.TrimSpace(r.Options.PromptHint) != "":
		in.Context = r.Options.PromptHint
	default:
		in.Context = r.Options.Seed
	}
	return in
}

// Policy builds a graph shape from run data.
type Policy interface {
	Name() string
	Build(in Input) model.Graph
}

// PolicyFor returns the policy registered under name. An empty name selects
// the context schema.
func PolicyFor(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemaContext:
		return ContextPolicy{}, nil
	case SchemaRun:
		return RunPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
}

// Build runs p and drops any edge whose endpoints are not both present.
func Build(p Policy, in Input) model.Graph {
	return Prune(p.Build(in))
}

// Prune returns g without edges that reference missing nodes.
func Prune(g model.Graph) model.Graph {
	ids := g.NodeIDs()
	edges := make([]model.GraphEdge, 0, len(g.Edges))
	for _, e := range g.Edges {
		_, okFrom := ids[e.From]
		_, okTo := ids[e.To]
		if okFrom && okTo {
			edges = append(edges, e)
		}
	}
	g.Edges = edges
	if g.Nodes == nil {
		g.Nodes = []model.GraphNode{}
	}
	return g
}

// ContextPolicy draws profile -> context -> facts. It is the default shape.
type ContextPolicy struct{}

func (ContextPolicy) Name() string { return SchemaContext }

func (ContextPolicy) Build(in Input) model.Graph {
	profileID := "profile:" + in.RunID
	contextID := "context:" + in.RunID
	g := model.Graph{
		Nodes: []model.GraphNode{
			{ID: profileID, Label: clip(in.Profile, 24), Type: model.NodeProfile, Attrs: map[string]any{"text": in.Profile}},
			{ID: contextID, Label: "Context", Type: model.NodeContext, Attrs: map[string]any{"text": clip(in.Context, 160)}},
		},
		Edges: []model.GraphEdge{{From: profileID, To: contextID, Relation: "frames"}},
	}
	for i, f := range in.Facts {
		if i >= PreviewFacts {
			break
		}
		id := "fact:" + f.ID
		g.Nodes = append(g.Nodes, model.GraphNode{
			ID:    id,
			Label: fmt.Sprintf("Fact %d", i+1),
			Type:  model.NodeFact,
			Attrs: map[string]any{
				"text":       f.Text,
				"status":     string(f.Status),
				"confidence": f.Confidence,
				"version":    f.Version,
			},
		})
		g.Edges = append(g.Edges, model.GraphEdge{From: contextID, To: id, Relation: "grounds"})
	}
	return g
}

// RunPolicy draws the run with its messages, facts, passes and song.
type RunPolicy struct{}

func (RunPolicy) Name() string { return SchemaRun }

func (RunPolicy) Build(in Input) model.Graph {
	runID := "run:" + in.RunID
	g := model.Graph{
		Nodes: []model.GraphNode{{
			ID:    runID,
			Label: "Run " + clip(in.RunID, 8),
			Type:  model.NodeRun,
			Attrs: map[string]any{"stage": string(in.Stage), "createdAt": in.CreatedAt},
		}},
	}

	messageIDs := make(map[string]struct{}, len(in.Messages))
	for _, m := range in.Messages {
		id := "msg:" + m.ID
		messageIDs[m.ID] = struct{}{}
		g.Nodes = append(g.Nodes, model.GraphNode{
			ID:    id,
			Label: m.Author + ": " + clip(m.Content, 18),
			Type:  model.NodeMessage,
			Attrs: map[string]any{"channel": m.Channel},
		})
		g.Edges = append(g.Edges, model.GraphEdge{From: runID, To: id, Relation: "has_message"})
	}

	for i, f := range in.Facts {
		id := "fact:" + f.ID
		g.Nodes = append(g.Nodes, model.GraphNode{
			ID:    id,
			Label: fmt.Sprintf("Fact %d", i+1),
			Type:  model.NodeFact,
			Attrs: map[string]any{
				"status":     string(f.Status),
				"confidence": f.Confidence,
				"version":    f.Version,
			},
		})
		g.Edges = append(g.Edges, model.GraphEdge{From: runID, To: id, Relation: "derived_fact"})
		linked := 0
		for _, src := range f.Provenance.SourceMessageIDs {
			if linked == ExplainedByCap {
				break
			}
			if _, ok := messageIDs[src]; !ok {
				continue
			}
			g.Edges = append(g.Edges, model.GraphEdge{From: id, To: "msg:" + src, Relation: "explained_by"})
			linked++
		}
	}

	for _, p := range in.Passes {
		id := "pass:" + p.ID
		g.Nodes = append(g.Nodes, model.GraphNode{
			ID:    id,
			Label: fmt.Sprintf("Pass %d", p.Version),
			Type:  model.NodePass,
			Attrs: map[string]any{"touchedCount": p.TouchedCount},
		})
		g.Edges = append(g.Edges, model.GraphEdge{From: runID, To: id, Relation: "albumen_pass"})
	}

	if in.Song != nil {
		id := "song:" + in.Song.ID
		g.Nodes = append(g.Nodes, model.GraphNode{
			ID:    id,
			Label: "Music Artifact",
			Type:  model.NodeSong,
			Attrs: map[string]any{"provider": string(in.Song.AudioProvider), "durationMs": in.Song.DurationMs},
		})
		g.Edges = append(g.Edges, model.GraphEdge{From: runID, To: id, Relation: "produced"})
	}
	return g
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
