package yolk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/basket/lyrebird/internal/chatlog"
	"github.com/basket/lyrebird/internal/model"
)

func msg(id, author, channel, content string) model.Message {
	return model.Message{
		ID:        id,
		Author:    author,
		Channel:   channel,
		Content:   content,
		Timestamp: "2025-01-01T12:00:00.000Z",
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultLimit},
		{-3, MinLimit},
		{1, 1},
		{7, 7},
		{20, 20},
		{21, MaxLimit},
	}
	for _, tc := range tests {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestExtract_LimitInvariant(t *testing.T) {
	sim := chatlog.Simulator{}
	inputs := [][]model.Message{
		nil,
		{},
		sim.Generate("limits", 1),
		sim.Generate("limits", 12),
		sim.Generate("limits", 120),
	}
	for _, messages := range inputs {
		for limit := -1; limit <= 25; limit++ {
			facts := Extract(messages, Options{RunID: "r", Limit: limit})
			if len(facts) < 1 || len(facts) > ClampLimit(limit) {
				t.Fatalf("msgs=%d limit=%d: len(facts) = %d", len(messages), limit, len(facts))
			}
		}
	}
}

func TestExtract_DedupInvariant(t *testing.T) {
	messages := []model.Message{
		msg("m1", "Ari", "ops", "Deployed the webhook"),
		msg("m2", "Ari", "ops", "deployed the webhook"),
		msg("m3", "Ari", "build", "deployed the webhook"),
		msg("m4", "Bea", "ops", "deployed the webhook"),
		msg("m5", "Ari", "ops", "  DEPLOYED THE WEBHOOK  "),
	}
	facts := Extract(messages, Options{Limit: 20})
	if len(facts) != 3 {
		t.Fatalf("len(facts) = %d, want 3", len(facts))
	}

	byID := map[string]model.Message{}
	for _, m := range messages {
		byID[m.ID] = m
	}
	seen := map[string]bool{}
	for _, f := range facts {
		key := DedupKey(byID[f.Provenance.SourceMessageIDs[0]])
		if seen[key] {
			t.Fatalf("duplicate dedup key for fact %q", f.Text)
		}
		seen[key] = true
	}
}

func TestExtract_DedupUsesNinetyCharPrefix(t *testing.T) {
	prefix := strings.Repeat("x", 90)
	facts := Extract([]model.Message{
		msg("m1", "Ari", "ops", prefix+" first tail"),
		msg("m2", "Ari", "ops", prefix+" second tail"),
	}, Options{Limit: 5})
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
}

func TestExtract_Classification(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"deployed the flag", "Ari deployed an update in #ops."},
		{"MERGED the branch", "Ari performed a merge in #ops."},
		{"fixed the suite", "Ari handled an issue resolution step in #ops."},
		{"new sponsor signed", "Ari raised a sponsor topic in #ops."},
		{"reviewed the prompt", "Ari completed a review in #ops."},
		{"lunch?", "Ari shared an updated context in #ops."},
		{"merged after deploy", "Ari deployed an update in #ops."},
	}
	for _, tc := range tests {
		facts := Extract([]model.Message{msg("m", "Ari", "ops", tc.content)}, Options{Limit: 1})
		if facts[0].Text != tc.want {
			t.Errorf("%q -> %q, want %q", tc.content, facts[0].Text, tc.want)
		}
	}
}

func TestExtract_ProvenanceAndRationale(t *testing.T) {
	long := "fixed the blocker " + strings.Repeat("y", 200)
	facts := Extract([]model.Message{msg("m1", "Chen", "build", long)}, Options{RunID: "run-1", Version: 1, Limit: 3})
	f := facts[0]
	if f.Provenance.RunID != "run-1" {
		t.Fatalf("runId = %q", f.Provenance.RunID)
	}
	if len(f.Provenance.SourceMessageIDs) != 1 || f.Provenance.SourceMessageIDs[0] != "m1" {
		t.Fatalf("sources = %v", f.Provenance.SourceMessageIDs)
	}
	if got := len([]rune(f.Provenance.Excerpts[0])); got != 120 {
		t.Fatalf("excerpt length = %d, want 120", got)
	}
	if f.Rationale != BlockerRationale {
		t.Fatalf("rationale = %q, want blocker rationale", f.Rationale)
	}
	if f.Version != 1 || f.Status != model.FactPending {
		t.Fatalf("version/status = %d/%s", f.Version, f.Status)
	}
}

func TestExtract_ConfidenceRange(t *testing.T) {
	messages := chatlog.Simulator{}.Generate("confidence", 120)
	for _, f := range Extract(messages, Options{Limit: 20}) {
		if f.Confidence < MinConfidence || f.Confidence > MaxConfidence {
			t.Fatalf("confidence %v outside [%v, %v]", f.Confidence, MinConfidence, MaxConfidence)
		}
	}
}

func TestExtract_FallbackOnEmptyInput(t *testing.T) {
	facts := Extract(nil, Options{RunID: "r", Limit: 4})
	if len(facts) != 1 {
		t.Fatalf("len(facts) = %d, want 1", len(facts))
	}
	f := facts[0]
	if f.Text != FallbackText || f.Confidence != FallbackConfidence || f.Rationale != FallbackRationale {
		t.Fatalf("fallback fact = %+v", f)
	}
	if len(f.Provenance.SourceMessageIDs) != 0 {
		t.Fatalf("fallback sources = %v, want none", f.Provenance.SourceMessageIDs)
	}
}

func TestExtract_SponsorRescue(t *testing.T) {
	messages := []model.Message{
		msg("m1", "Ari", "ops", "deployed the flag"),
		msg("m2", "Bea", "ops", "merged the branch"),
		msg("m3", "Chen", "ops", "fixed the suite"),
		msg("m4", "Dee", "launch", "our sponsor wants a deploy shout-out"),
	}
	facts := Extract(messages, Options{Limit: 3})
	if len(facts) != 3 {
		t.Fatalf("len(facts) = %d, want 3", len(facts))
	}
	if facts[0].Text != "Dee raised a sponsor topic in #launch." || facts[0].Rationale != SponsorRationale {
		t.Fatalf("front fact = %q / %q", facts[0].Text, facts[0].Rationale)
	}
	if facts[0].Provenance.SourceMessageIDs[0] != "m4" {
		t.Fatalf("rescued sources = %v", facts[0].Provenance.SourceMessageIDs)
	}
	if facts[1].Text != "Ari deployed an update in #ops." || facts[2].Text != "Bea performed a merge in #ops." {
		t.Fatalf("tail facts = %q, %q", facts[1].Text, facts[2].Text)
	}
}

func TestExtract_SponsorRescueReplacesSameMessage(t *testing.T) {
	messages := []model.Message{
		msg("m1", "Dee", "launch", "deployed the sponsor banner"),
		msg("m2", "Ari", "ops", "merged"),
	}
	facts := Extract(messages, Options{Limit: 5})
	if len(facts) != 2 {
		t.Fatalf("len(facts) = %d, want 2: %+v", len(facts), facts)
	}
	if !strings.Contains(facts[0].Text, "sponsor") {
		t.Fatalf("front fact = %q", facts[0].Text)
	}
	for _, f := range facts[1:] {
		if f.Provenance.SourceMessageIDs[0] == "m1" {
			t.Fatal("message m1 produced two facts")
		}
	}
}

func TestExtract_Deterministic(t *testing.T) {
	messages := chatlog.Simulator{}.Generate("demo-1", 30)
	a := Extract(messages, Options{RunID: "r", Limit: 10})
	b := Extract(messages, Options{RunID: "r", Limit: 10})
	for i := range a {
		if fmt.Sprintf("%+v", a[i]) != fmt.Sprintf("%+v", b[i]) {
			t.Fatalf("fact %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestExtract_DemoScenario(t *testing.T) {
	messages := chatlog.Simulator{}.Generate("demo-1", 5)
	facts := Extract(messages, Options{RunID: "r", Limit: 3})
	if len(facts) != 3 {
		t.Fatalf("len(facts) = %d, want 3", len(facts))
	}
	for _, f := range facts {
		if f.Confidence < 0.61 || f.Confidence > 0.99 {
			t.Fatalf("confidence %v outside [0.61, 0.99]", f.Confidence)
		}
	}
}
