package graph

import (
	"encoding/json"
	"math"

	"github.com/basket/lyrebird/internal/model"
)

// LayoutOptions sizes the canvas and tunes the relaxation. Zero fields take
// the defaults from DefaultLayout.
type LayoutOptions struct {
	Width, Height    float64
	MarginX, MarginY float64
	Iterations       int
	SettleIterations int
	Padding          float64
	Pull             float64
	FactRadius       float64
	OtherRadius      float64
}

// DefaultLayout matches the 640x360 canvas the UI draws on.
var DefaultLayout = LayoutOptions{
	Width:            640,
	Height:           360,
	MarginX:          72,
	MarginY:          76,
	Iterations:       140,
	SettleIterations: 60,
	Padding:          12,
	Pull:             0.015,
	FactRadius:       38,
	OtherRadius:      22,
}

// Positioned is a node with canvas coordinates and its drawing radius.
type Positioned struct {
	model.GraphNode
	X, Y, R float64
}

// MarshalJSON flattens the coordinates into the node object.
func (p Positioned) MarshalJSON() ([]byte, error) {
	node := p.GraphNode
	attrs := make(map[string]any, len(node.Attrs)+3)
	for k, v := range node.Attrs {
		attrs[k] = v
	}
	attrs["x"], attrs["y"], attrs["r"] = p.X, p.Y, p.R
	node.Attrs = attrs
	return json.Marshal(node)
}

func (o LayoutOptions) withDefaults() LayoutOptions {
	d := DefaultLayout
	if o.Width > 0 {
		d.Width = o.Width
	}
	if o.Height > 0 {
		d.Height = o.Height
	}
	if o.MarginX > 0 {
		d.MarginX = o.MarginX
	}
	if o.MarginY > 0 {
		d.MarginY = o.MarginY
	}
	if o.Iterations > 0 {
		d.Iterations = o.Iterations
	}
	if o.SettleIterations > 0 {
		d.SettleIterations = o.SettleIterations
	}
	if o.Padding > 0 {
		d.Padding = o.Padding
	}
	if o.Pull > 0 {
		d.Pull = o.Pull
	}
	if o.FactRadius > 0 {
		d.FactRadius = o.FactRadius
	}
	if o.OtherRadius > 0 {
		d.OtherRadius = o.OtherRadius
	}
	return d
}

// Layout places nodes on a spiral, then relaxes overlaps with pairwise
// repulsion and a weak pull towards the center. A final sweep without the
// pull removes overlap the pull reintroduced. The result depends only on the
// node order and options.
func Layout(nodes []model.GraphNode, opts LayoutOptions) []Positioned {
	o := opts.withDefaults()
	cx, cy := o.Width/2, o.Height/2
	spreadW, spreadH := o.Width/2-o.MarginX, o.Height/2-o.MarginY

	out := make([]Positioned, len(nodes))
	n := float64(max(1, len(nodes)))
	maxSpiral := math.Max(spreadW, spreadH) * 0.95
	for i, node := range nodes {
		r := o.OtherRadius
		if node.Type == model.NodeFact {
			r = o.FactRadius
		}
		angle := float64(i)*(2*math.Pi/n) + float64(i)*0.43
		radius := math.Min(math.Sqrt(float64(i+1))*34+34, maxSpiral)
		out[i] = Positioned{
			GraphNode: node,
			X:         cx + math.Cos(angle)*math.Min(radius, spreadW),
			Y:         cy + math.Sin(angle)*math.Min(radius, spreadH),
			R:         r,
		}
	}

	for it := 0; it < o.Iterations; it++ {
		repel(out, o.Padding)
		for i := range out {
			clampTo(&out[i], o)
			out[i].X += (cx - out[i].X) * o.Pull
			out[i].Y += (cy - out[i].Y) * o.Pull
		}
	}

	for it := 0; it < o.SettleIterations; it++ {
		moved := repel(out, o.Padding)
		for i := range out {
			clampTo(&out[i], o)
		}
		if !moved {
			break
		}
	}
	return out
}

// repel pushes every overlapping pair apart by half the overlap each. It
// reports whether any pair overlapped.
func repel(nodes []Positioned, padding float64) bool {
	moved := false
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := &nodes[i], &nodes[j]
			dx, dy := b.X-a.X, b.Y-a.Y
			dist := math.Hypot(dx, dy)
			if dist == 0 {
				// Coincident nodes separate along a direction fixed by their indices.
				angle := float64(i+j+1) * 0.7
				dx, dy, dist = math.Cos(angle)*0.001, math.Sin(angle)*0.001, 0.001
			}
			minDist := a.R + b.R + padding
			if dist >= minDist {
				continue
			}
			moved = true
			shift := (minDist - dist) * 0.5
			ux, uy := dx/dist, dy/dist
			a.X -= ux * shift
			a.Y -= uy * shift
			b.X += ux * shift
			b.Y += uy * shift
		}
	}
	return moved
}

func clampTo(p *Positioned, o LayoutOptions) {
	p.X = math.Min(o.Width-o.MarginX, math.Max(o.MarginX, p.X))
	p.Y = math.Min(o.Height-o.MarginY, math.Max(o.MarginY, p.Y))
}
