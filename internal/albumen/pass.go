// Package albumen applies ordered text-transform rules to a fact set. Each
// application produces a new fact version and an immutable Pass record.
package albumen

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/basket/lyrebird/internal/model"
)

const (
	RedactedEmail    = "[redacted-email]"
	DefaultToneTag   = "context-neutral"
	RewrittenMarker  = "[rewritten]"
	NoMutationReason = "No mutation for this fact with current pass rules."
)

var emailPattern = regexp.MustCompile(`(?i)[\w.-]+@[\w.-]+\.[a-z]{2,}`)

// Engine applies passes. The zero value uses random ids and wall-clock time.
type Engine struct {
	NewID func() string
	Now   func() time.Time
}

// Result is the output of one pass.
type Result struct {
	Facts []model.Fact
	Pass  model.Pass
}

// Apply runs rules over facts in order and returns fresh facts plus the pass
// record. priorPasses is the length of the run's pass history before this
// pass. facts is not modified.
func (e Engine) Apply(facts []model.Fact, rules []model.Rule, priorPasses int) Result {
	passVersion := priorPasses + 1
	out := make([]model.Fact, len(facts))
	touched := 0

	for i, f := range facts {
		next := f.Clone()
		text := f.Text
		var diffs []model.Diff
		for _, r := range rules {
			before := text
			text = applyRule(r, text)
			if text != before {
				diffs = append(diffs, model.Diff{Before: before, After: text})
			}
		}

		next.Text = text
		next.Version = f.Version + 1
		next.Provenance.PassVersion = passVersion
		next.AppliedDiffs = diffs
		if len(diffs) > 0 {
			next.Rationale = fmt.Sprintf("%d pass mutation(s) applied.", len(diffs))
		} else {
			next.Rationale = NoMutationReason
		}
		if text != f.Text {
			touched++
		}
		out[i] = next
	}

	return Result{
		Facts: out,
		Pass: model.Pass{
			ID:           e.newID(),
			Version:      passVersion,
			CreatedAt:    e.now().UnixMilli(),
			Rules:        append([]model.Rule{}, rules...),
			TouchedCount: touched,
		},
	}
}

func applyRule(r model.Rule, text string) string {
	switch r.Action {
	case model.ActionPIIRemove:
		return emailPattern.ReplaceAllLiteralString(text, RedactedEmail)
	case model.ActionRewriteTone:
		tag := r.Find
		if tag == "" {
			tag = DefaultToneTag
		}
		return tag + " " + RewrittenMarker + " " + text
	case model.ActionReplace:
		return applyReplace(ruleText{find: r.Find, replace: r.Replace}, text)
	default:
		return text
	}
}

// ValidateRules rejects rules with an unknown action.
func ValidateRules(rules []model.Rule) error {
	for i, r := range rules {
		if !r.Action.Valid() {
			return fmt.Errorf("rule %d: unknown action %q", i, r.Action)
		}
	}
	return nil
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
