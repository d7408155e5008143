package model

// FactStatus is the review state of a fact.
type FactStatus string

const (
	FactPending   FactStatus = "pending"
	FactApproved  FactStatus = "approved"
	FactRemoved   FactStatus = "removed"
	FactRewritten FactStatus = "rewritten"
)

// Provenance links a fact back to the messages it was derived from.
type Provenance struct {
	RunID            string   `json:"runId"`
	SourceMessageIDs []string `json:"sourceMessageIds"`
	Excerpts         []string `json:"excerpts,omitempty"`
	PassVersion      int      `json:"passVersion,omitempty"`
}

// Diff is one text change applied by a pass rule.
type Diff struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Fact is a short derived claim. Version starts at 1 and grows by one with
// every pass applied to the fact set; AppliedDiffs holds only the latest pass.
type Fact struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Confidence   float64    `json:"confidence"`
	Provenance   Provenance `json:"provenance"`
	Status       FactStatus `json:"status"`
	Version      int        `json:"version"`
	Rationale    string     `json:"rationale"`
	AppliedDiffs []Diff     `json:"appliedDiffs,omitempty"`
}

// Clone returns a copy of f that shares no slices with it.
func (f Fact) Clone() Fact {
	out := f
	out.Provenance.SourceMessageIDs = cloneStrings(f.Provenance.SourceMessageIDs)
	out.Provenance.Excerpts = cloneStrings(f.Provenance.Excerpts)
	if f.AppliedDiffs != nil {
		out.AppliedDiffs = append([]Diff(nil), f.AppliedDiffs...)
	}
	return out
}

// CloneFacts deep-copies a fact slice.
func CloneFacts(in []Fact) []Fact {
	if in == nil {
		return nil
	}
	out := make([]Fact, len(in))
	for i, f := range in {
		out[i] = f.Clone()
	}
	return out
}

// Action names what a rule does to fact text.
type Action string

const (
	ActionReplace     Action = "replace"
	ActionPIIRemove   Action = "pii_remove"
	ActionRewriteTone Action = "rewrite_tone"
)

// Valid reports whether a is a known rule action.
func (a Action) Valid() bool {
	switch a {
	case ActionReplace, ActionPIIRemove, ActionRewriteTone:
		return true
	default:
		return false
	}
}

// Rule is one transform in a pass.
type Rule struct {
	ID      string `json:"id,omitempty"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
	Action  Action `json:"action"`
}

// Pass records one application of a rule list. Passes are append-only.
type Pass struct {
	ID           string `json:"id"`
	Version      int    `json:"version"`
	CreatedAt    int64  `json:"createdAt"`
	Rules        []Rule `json:"rules"`
	TouchedCount int    `json:"touchedCount"`
}

// Clone returns a copy of p with its own rule slice.
func (p Pass) Clone() Pass {
	out := p
	out.Rules = append([]Rule(nil), p.Rules...)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
