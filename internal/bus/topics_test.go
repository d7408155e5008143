package bus

import (
	"strings"
	"testing"
	"time"

	"github.com/basket/lyrebird/internal/model"
)

func TestRunTopics_SharePrefix(t *testing.T) {
	for _, topic := range []string{TopicRunTelemetry, TopicRunStageChanged} {
		if !strings.HasPrefix(topic, TopicRunPrefix) {
			t.Fatalf("topic %q lacks prefix %q", topic, TopicRunPrefix)
		}
	}
}

func TestForRun(t *testing.T) {
	cases := []struct {
		payload any
		want    bool
	}{
		{RunTelemetryEvent{RunID: "r1"}, true},
		{StageChangedEvent{RunID: "r1", From: model.StageEgg, To: model.StageYolk}, true},
		{StageChangedEvent{RunID: "r2"}, false},
		{"not scoped", false},
	}
	for _, tc := range cases {
		if got := ForRun(Event{Topic: TopicRunTelemetry, Payload: tc.payload}, "r1"); got != tc.want {
			t.Errorf("ForRun(%#v) = %v, want %v", tc.payload, got, tc.want)
		}
	}
}

func TestRunPrefixSubscriberSeesStageChanges(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicRunPrefix)
	defer b.Unsubscribe(sub)

	b.Publish(TopicRunStageChanged, StageChangedEvent{RunID: "r1", From: model.StageEgg, To: model.StageYolk, Version: 2})
	b.Publish("config.reloaded", nil)

	select {
	case ev := <-sub.Ch():
		sc, ok := ev.Payload.(StageChangedEvent)
		if !ok || sc.To != model.StageYolk || sc.Version != 2 {
			t.Fatalf("payload = %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stage event")
	}
	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected event %q", ev.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}
