package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageIdle, StageEgg, true},
		{StageIdle, StageYolk, false},
		{StageEgg, StageYolk, true},
		{StageEgg, StageDone, false},
		{StageYolk, StageAlbumen, true},
		{StageAlbumen, StageAlbumen, true},
		{StageGraph, StageMusic, true},
		{StageMusic, StageDone, true},
		{StageMusic, StageEgg, false},
		{StageError, StageYolk, true},
		{StageError, StageDone, false},
		{StageYolk, StageError, true},
		{StageDone, StageError, false},
		{StageDone, StageYolk, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestGraphNode_JSONFlattensAttrs(t *testing.T) {
	n := GraphNode{
		ID:    "fact:1",
		Label: "Ari deployed",
		Type:  NodeFact,
		Attrs: map[string]any{"status": "pending", "version": 2, "id": "shadowed"},
	}
	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["id"] != "fact:1" {
		t.Fatalf("id = %v, want fact:1", flat["id"])
	}
	if flat["status"] != "pending" {
		t.Fatalf("status = %v, want pending", flat["status"])
	}

	var back GraphNode
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal node: %v", err)
	}
	if back.Type != NodeFact || back.Label != "Ari deployed" {
		t.Fatalf("decoded node = %+v", back)
	}
	if v, ok := back.IntAttr("version"); !ok || v != 2 {
		t.Fatalf("version attr = %v/%v, want 2", v, ok)
	}
}

func TestGraphNode_UnmarshalRequiresID(t *testing.T) {
	var n GraphNode
	if err := json.Unmarshal([]byte(`{"label":"x","type":"fact"}`), &n); err == nil {
		t.Fatal("expected error for node without id")
	}
}

func TestRunClone_IsIndependent(t *testing.T) {
	run := &Run{
		ID:    "r1",
		Stage: StageYolk,
		Facts: []Fact{{
			ID:         "f1",
			Text:       "original",
			Provenance: Provenance{RunID: "r1", SourceMessageIDs: []string{"m1"}},
			Version:    1,
		}},
		Graph:     &Graph{Nodes: []GraphNode{{ID: "profile", Attrs: map[string]any{"k": "v"}}}},
		Song:      &SongArtifact{ID: "s1", WaveformSummary: []string{"a"}, ProviderMeta: &ProviderMeta{Host: "h"}},
		Telemetry: []TelemetryEvent{{ID: "e1", EventData: map[string]any{"n": 1}}},
		Errors:    []string{"boom"},
	}
	cp := run.Clone()
	cp.Facts[0].Text = "changed"
	cp.Facts[0].Provenance.SourceMessageIDs[0] = "m2"
	cp.Graph.Nodes[0].Attrs["k"] = "w"
	cp.Song.WaveformSummary[0] = "b"
	cp.Song.ProviderMeta.Host = "other"
	cp.Telemetry[0].EventData["n"] = 2
	cp.Errors[0] = "other"

	if run.Facts[0].Text != "original" || run.Facts[0].Provenance.SourceMessageIDs[0] != "m1" {
		t.Fatalf("fact mutated through clone: %+v", run.Facts[0])
	}
	if run.Graph.Nodes[0].Attrs["k"] != "v" {
		t.Fatalf("graph attrs mutated through clone")
	}
	if run.Song.WaveformSummary[0] != "a" || run.Song.ProviderMeta.Host != "h" {
		t.Fatalf("song mutated through clone")
	}
	if run.Telemetry[0].EventData["n"] != 1 {
		t.Fatalf("telemetry mutated through clone")
	}
	if run.Errors[0] != "boom" {
		t.Fatalf("errors mutated through clone")
	}
}

func TestRunState_EmptyErrorsIsNonNil(t *testing.T) {
	run := &Run{ID: "r1", Stage: StageEgg, Version: 1, TraceID: "t", UpdatedAt: time.Unix(0, 0)}
	raw, err := json.Marshal(run.State())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"r1","stage":"egg","version":1,"traceId":"t","updatedAt":"1970-01-01T00:00:00Z","errors":[]}`
	if string(raw) != want {
		t.Fatalf("state json = %s, want %s", raw, want)
	}
}
