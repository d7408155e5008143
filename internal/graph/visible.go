package graph

import "github.com/basket/lyrebird/internal/model"

// FallbackContextID names the context node Visible adds when a graph has
// none.
const FallbackContextID = "__context__"

// LinkRelation labels edges Visible adds between the context and a fact.
const LinkRelation = "fact_context_link"

// Visible reduces g to what the UI draws: context and profile nodes plus raw
// (version 1) facts. When the graph has context or profile nodes, only raw
// facts adjacent to one of them are kept. Every visible fact gets an edge
// from the first context node.
func Visible(g model.Graph) model.Graph {
	if len(g.Nodes) == 0 {
		return model.Graph{Nodes: []model.GraphNode{}, Edges: []model.GraphEdge{}}
	}

	anchors := map[string]struct{}{}
	contextID := ""
	raw := map[string]struct{}{}
	for _, n := range g.Nodes {
		switch {
		case n.Type == model.NodeContext || n.Type == model.NodeProfile:
			anchors[n.ID] = struct{}{}
			if n.Type == model.NodeContext && contextID == "" {
				contextID = n.ID
			}
		case isRawFact(n):
			raw[n.ID] = struct{}{}
		}
	}
	if contextID == "" {
		contextID = FallbackContextID
	}

	visible := map[string]struct{}{}
	for id := range anchors {
		visible[id] = struct{}{}
	}
	facts := map[string]struct{}{}
	if len(anchors) > 0 {
		for _, e := range g.Edges {
			if _, ok := anchors[e.From]; ok {
				if _, isRaw := raw[e.To]; isRaw {
					facts[e.To] = struct{}{}
				}
			}
			if _, ok := anchors[e.To]; ok {
				if _, isRaw := raw[e.From]; isRaw {
					facts[e.From] = struct{}{}
				}
			}
		}
	} else {
		facts = raw
	}
	for id := range facts {
		visible[id] = struct{}{}
	}
	if len(facts) > 0 {
		visible[contextID] = struct{}{}
	}

	out := model.Graph{Nodes: []model.GraphNode{}, Edges: []model.GraphEdge{}}
	hasContext := false
	for _, n := range g.Nodes {
		if _, ok := visible[n.ID]; ok {
			out.Nodes = append(out.Nodes, n)
			if n.ID == contextID {
				hasContext = true
			}
		}
	}
	if !hasContext && len(facts) > 0 {
		out.Nodes = append(out.Nodes, model.GraphNode{ID: contextID, Label: "Context", Type: model.NodeContext})
	}

	seen := map[[2]string]struct{}{}
	for _, e := range g.Edges {
		_, okFrom := visible[e.From]
		_, okTo := visible[e.To]
		if !okFrom || !okTo {
			continue
		}
		seen[[2]string{e.From, e.To}] = struct{}{}
		out.Edges = append(out.Edges, e)
	}
	// Node order keeps the added links deterministic.
	for _, n := range out.Nodes {
		if _, ok := facts[n.ID]; !ok || n.ID == contextID {
			continue
		}
		key := [2]string{contextID, n.ID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out.Edges = append(out.Edges, model.GraphEdge{From: contextID, To: n.ID, Relation: LinkRelation})
	}
	return out
}

// isRawFact reports whether n is a fact node from the first extraction. Fact
// nodes without a version attribute count as raw.
func isRawFact(n model.GraphNode) bool {
	if n.Type != model.NodeFact {
		return false
	}
	if _, present := n.Attrs["version"]; !present {
		return true
	}
	v, ok := n.IntAttr("version")
	if !ok {
		return true
	}
	return v == 1
}
