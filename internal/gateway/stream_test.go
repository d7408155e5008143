package gateway_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type frame struct {
	Type     string         `json:"type"`
	RunID    string         `json:"runId"`
	RunState map[string]any `json:"runState"`
	Event    map[string]any `json:"event"`
	To       string         `json:"to"`
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	_, egg := env.do(t, http.MethodPost, "/api/run/egg", map[string]any{"seed": "ws"})
	id := egg["runId"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(env.srv.URL)+"/api/run/"+id+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snap frame
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Type != "snapshot" || snap.RunState["stage"] != "egg" {
		t.Fatalf("snapshot = %+v", snap)
	}

	env.do(t, http.MethodPost, "/api/run/"+id+"/yolk", nil)

	var names []string
	var sawStage bool
	for len(names) < 2 {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read: %v (names so far %v)", err, names)
		}
		if f.RunID != id {
			t.Fatalf("frame for another run: %+v", f)
		}
		switch f.Type {
		case "stage_changed":
			sawStage = f.To == "yolk"
		case "telemetry":
			names = append(names, f.Event["eventName"].(string))
		}
	}
	if !sawStage {
		t.Fatal("expected stage_changed to yolk")
	}
	if names[0] != "run_yolk_started" || names[1] != "run_yolk_ready" {
		t.Fatalf("telemetry = %v", names)
	}

	env.do(t, http.MethodPost, "/api/run/"+id+"/done", nil)
	for {
		var f frame
		err := wsjson.Read(ctx, conn, &f)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("close status = %v, err %v", websocket.CloseStatus(err), err)
			}
			return
		}
	}
}

func TestEventStream_UnknownRun(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(env.srv.URL)+"/api/run/missing/events", nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %v, want 404", resp)
	}
}

func TestEventStream_ServerClose(t *testing.T) {
	env := newTestEnv(t, nil)
	_, egg := env.do(t, http.MethodPost, "/api/run/egg", nil)
	id := egg["runId"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(env.srv.URL)+"/api/run/"+id+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	var snap frame
	if err := wsjson.Read(ctx, conn, &snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	env.gw.Close()
	var f frame
	err = wsjson.Read(ctx, conn, &f)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("close status = %v (err %v), want going away", websocket.CloseStatus(err), err)
	}
}
