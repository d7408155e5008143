package model

import (
	"encoding/json"
	"fmt"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeProfile NodeType = "profile"
	NodeContext NodeType = "context"
	NodeFact    NodeType = "fact"
	NodeRun     NodeType = "run"
	NodeMessage NodeType = "message"
	NodePass    NodeType = "pass"
	NodeSong    NodeType = "song"
)

// GraphNode is a vertex of a run graph. Attrs are flattened into the node's
// JSON object next to id, label and type.
type GraphNode struct {
	ID    string
	Label string
	Type  NodeType
	Attrs map[string]any
}

// GraphEdge is a directed labeled edge between two node ids.
type GraphEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Graph is a node-link view of a run.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

var reservedNodeKeys = map[string]struct{}{"id": {}, "label": {}, "type": {}}

func (n GraphNode) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Attrs)+3)
	for k, v := range n.Attrs {
		if _, reserved := reservedNodeKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	out["id"] = n.ID
	out["label"] = n.Label
	out["type"] = n.Type
	return json.Marshal(out)
}

func (n *GraphNode) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw["id"].(string)
	if id == "" {
		return fmt.Errorf("graph node: missing id")
	}
	label, _ := raw["label"].(string)
	typ, _ := raw["type"].(string)
	n.ID, n.Label, n.Type = id, label, NodeType(typ)
	n.Attrs = nil
	for k, v := range raw {
		if _, reserved := reservedNodeKeys[k]; reserved {
			continue
		}
		if n.Attrs == nil {
			n.Attrs = make(map[string]any, len(raw))
		}
		n.Attrs[k] = v
	}
	return nil
}

// IntAttr reads a numeric attribute regardless of whether it was decoded from
// JSON (float64) or set in process (int).
func (n GraphNode) IntAttr(key string) (int, bool) {
	switch v := n.Attrs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Clone returns a graph that shares no slices or attribute maps with g.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]GraphNode, len(g.Nodes)),
		Edges: append([]GraphEdge(nil), g.Edges...),
	}
	for i, n := range g.Nodes {
		cp := n
		if n.Attrs != nil {
			cp.Attrs = make(map[string]any, len(n.Attrs))
			for k, v := range n.Attrs {
				cp.Attrs[k] = v
			}
		}
		out.Nodes[i] = cp
	}
	return out
}

// NodeIDs returns the set of node ids in g.
func (g Graph) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}
	return ids
}
