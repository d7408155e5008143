package gateway_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basket/lyrebird/internal/bus"
	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/gateway"
	"github.com/basket/lyrebird/internal/music"
	"github.com/basket/lyrebird/internal/pipeline"
	"github.com/basket/lyrebird/internal/presets"
	"github.com/basket/lyrebird/internal/store"
)

type testEnv struct {
	srv *httptest.Server
	gw  *gateway.Server
	svc *pipeline.Service
	bus *bus.Bus
}

func newTestEnv(t *testing.T, mutate func(*gateway.Config)) *testEnv {
	t.Helper()
	b := bus.New()
	svc := pipeline.New(pipeline.Config{
		Registry: store.NewMemory(),
		Composer: music.Composer{Host: music.DefaultHost},
		Presets:  presets.NewCatalog(nil),
		Bus:      b,
	})
	cfg := gateway.Config{
		Service:           svc,
		Bus:               b,
		CORS:              config.CORSConfig{AllowedOrigins: []string{"*"}},
		ConfigFingerprint: func() string { return "cfg-test" },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	gw := gateway.New(cfg)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return &testEnv{srv: srv, gw: gw, svc: svc, bus: b}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func runState(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	rs, ok := body["runState"].(map[string]any)
	if !ok {
		t.Fatalf("runState missing in %v", body)
	}
	return rs
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	code, egg := env.do(t, http.MethodPost, "/api/run/egg", map[string]any{"seed": "demo-1", "messageCount": 5})
	if code != http.StatusOK {
		t.Fatalf("egg status = %d, body %v", code, egg)
	}
	id, _ := egg["runId"].(string)
	if id == "" || egg["messagesCount"] != float64(5) {
		t.Fatalf("egg body = %v", egg)
	}
	if rs := runState(t, egg); rs["stage"] != "egg" || rs["version"] != float64(1) {
		t.Fatalf("egg runState = %v", rs)
	}
	if _, ok := egg["llm"].(map[string]any); !ok {
		t.Fatalf("egg llm note missing: %v", egg)
	}

	code, yolk := env.do(t, http.MethodPost, "/api/run/"+id+"/yolk", map[string]any{"factLimit": 3})
	if code != http.StatusOK {
		t.Fatalf("yolk status = %d, body %v", code, yolk)
	}
	if facts, _ := yolk["facts"].([]any); len(facts) != 3 {
		t.Fatalf("facts = %v", yolk["facts"])
	}
	if yolk["stage"] != "yolk" || runState(t, yolk)["version"] != float64(2) {
		t.Fatalf("yolk body = %v", yolk)
	}

	code, alb := env.do(t, http.MethodPost, "/api/run/"+id+"/albumen", map[string]any{
		"passes": []map[string]any{{"find": "deploy", "replace": "[redacted]"}},
	})
	if code != http.StatusOK {
		t.Fatalf("albumen status = %d, body %v", code, alb)
	}
	if passes, _ := alb["passes"].([]any); len(passes) != 1 {
		t.Fatalf("passes = %v", alb["passes"])
	}

	code, g := env.do(t, http.MethodPost, "/api/run/"+id+"/graph", map[string]any{"schema": "run"})
	if code != http.StatusOK || g["graph"] == nil {
		t.Fatalf("graph status = %d, body %v", code, g)
	}

	code, layout := env.do(t, http.MethodGet, "/api/run/"+id+"/graph/layout", nil)
	if code != http.StatusOK {
		t.Fatalf("layout status = %d", code)
	}
	if nodes, _ := layout["nodes"].([]any); len(nodes) == 0 {
		t.Fatalf("layout nodes = %v", layout["nodes"])
	}

	code, m := env.do(t, http.MethodPost, "/api/run/"+id+"/music", map[string]any{"mood": "calm"})
	if code != http.StatusOK {
		t.Fatalf("music status = %d, body %v", code, m)
	}
	song, _ := m["songArtifact"].(map[string]any)
	if song["audioProvider"] != "mock" || !strings.HasPrefix(song["trackUrl"].(string), music.FallbackPath) {
		t.Fatalf("song = %v", song)
	}

	code, state := env.do(t, http.MethodGet, "/api/run/"+id, nil)
	if code != http.StatusOK || runState(t, state)["stage"] != "music" {
		t.Fatalf("state status = %d, body %v", code, state)
	}

	code, dbg := env.do(t, http.MethodGet, "/api/run/"+id+"/debug", nil)
	if code != http.StatusOK {
		t.Fatalf("debug status = %d", code)
	}
	events, _ := dbg["telemetry"].([]any)
	if len(events) == 0 || events[0].(map[string]any)["eventName"] != "run_music_ready" {
		t.Fatalf("debug telemetry should be newest first: %v", events)
	}

	code, done := env.do(t, http.MethodPost, "/api/run/"+id+"/done", nil)
	if code != http.StatusOK || done["stage"] != "done" {
		t.Fatalf("done status = %d, body %v", code, done)
	}

	code, closed := env.do(t, http.MethodPost, "/api/run/"+id+"/yolk", nil)
	if code != http.StatusConflict || closed["error"] != "run_closed" || closed["runId"] != id {
		t.Fatalf("closed status = %d, body %v", code, closed)
	}
}

func TestExportAttachment(t *testing.T) {
	env := newTestEnv(t, nil)
	_, egg := env.do(t, http.MethodPost, "/api/run/egg", map[string]any{"seed": "exp"})
	id := egg["runId"].(string)

	resp, err := http.Get(env.srv.URL + "/api/run/" + id + "/export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, id) {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	var bundle map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bundle["runId"] != id || bundle["exportedAt"] == "" {
		t.Fatalf("bundle = %v", bundle)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	_, egg := env.do(t, http.MethodPost, "/api/run/egg", map[string]any{"seed": "err"})
	id := egg["runId"].(string)

	tests := []struct {
		name      string
		method    string
		path      string
		body      any
		wantCode  int
		wantError string
	}{
		{"unknown run", http.MethodPost, "/api/run/nope/yolk", nil, http.StatusNotFound, "run_not_found"},
		{"unknown run debug", http.MethodGet, "/api/run/nope/debug", nil, http.StatusNotFound, "run_not_found"},
		{"unknown run with unknown preset", http.MethodPost, "/api/run/nope/albumen", map[string]any{"preset": "missing"}, http.StatusNotFound, "run_not_found"},
		{"bad mode", http.MethodPost, "/api/run/egg", map[string]any{"mode": "fax"}, http.StatusBadRequest, "invalid_request"},
		{"bad json", http.MethodPost, "/api/run/egg", "{not json", http.StatusBadRequest, "invalid_request"},
		{"bad action", http.MethodPost, "/api/run/" + id + "/albumen", map[string]any{"passes": []map[string]any{{"find": "a", "action": "shout"}}}, http.StatusBadRequest, "invalid_request"},
		{"unknown preset", http.MethodPost, "/api/run/" + id + "/albumen", map[string]any{"preset": "missing"}, http.StatusBadRequest, "invalid_request"},
		{"bad schema", http.MethodPost, "/api/run/" + id + "/graph", map[string]any{"schema": "mesh"}, http.StatusBadRequest, "invalid_request"},
		{"finish from egg", http.MethodPost, "/api/run/" + id + "/done", nil, http.StatusConflict, "invalid_transition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, tt.body)
			if code != tt.wantCode || body["error"] != tt.wantError {
				t.Fatalf("got = %d %v, want %d %s", code, body, tt.wantCode, tt.wantError)
			}
		})
	}

	code, body := env.do(t, http.MethodPost, "/api/run/nope/yolk", nil)
	if code != http.StatusNotFound || body["runId"] != "nope" {
		t.Fatalf("not found body = %v", body)
	}
}

func TestStatusPresetsPreview(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/run/egg", nil)

	code, status := env.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || status["ok"] != true || status["runs"] != float64(1) {
		t.Fatalf("status = %d %v", code, status)
	}
	if status["store"] != store.DriverMemory || status["configFingerprint"] != "cfg-test" {
		t.Fatalf("status = %v", status)
	}

	code, ps := env.do(t, http.MethodGet, "/api/presets", nil)
	list, _ := ps["presets"].([]any)
	if code != http.StatusOK || len(list) != 2 {
		t.Fatalf("presets = %d %v", code, ps)
	}

	code, preview := env.do(t, http.MethodGet, "/api/simulated-discord/log?seed=demo-1&messageCount=4", nil)
	if code != http.StatusOK || preview["seed"] != "demo-1" || preview["messageCount"] != float64(4) {
		t.Fatalf("preview = %d %v", code, preview)
	}
	if runState(t, preview)["stage"] != "egg" {
		t.Fatalf("preview runState = %v", preview["runState"])
	}

	code, health := env.do(t, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK || health["healthy"] != true {
		t.Fatalf("healthz = %d %v", code, health)
	}
}

func TestFallbackAudio(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.srv.URL + "/api/fallback/audio?freq=9999&duration=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Header.Get("Content-Type") != "audio/wav" || resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("headers = %v", resp.Header)
	}
	if len(data) != music.WAVSize(2) {
		t.Fatalf("len = %d, want %d", len(data), music.WAVSize(2))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("not a WAV header: %q", data[:12])
	}
}

func TestAuthOnRunRoutes(t *testing.T) {
	env := newTestEnv(t, func(c *gateway.Config) { c.Auth = config.AuthConfig{Token: "tok"} })

	if code, _ := env.do(t, http.MethodPost, "/api/run/egg", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d, want 401", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/run/egg", nil, "Authorization", "Bearer tok"); code != http.StatusOK {
		t.Fatalf("with token: %d, want 200", code)
	}
	// Non-run routes stay open.
	if code, _ := env.do(t, http.MethodGet, "/api/status", nil); code != http.StatusOK {
		t.Fatalf("status: %d, want 200", code)
	}
}

func TestRateLimitedRouter(t *testing.T) {
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, BurstSize: 2}, nil)
	env := newTestEnv(t, func(c *gateway.Config) { c.RateLimit = rl })
	for i := 0; i < 2; i++ {
		if code, _ := env.do(t, http.MethodGet, "/api/status", nil); code != http.StatusOK {
			t.Fatalf("request %d: %d", i, code)
		}
	}
	code, body := env.do(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusTooManyRequests || body["error"] != "rate_limited" {
		t.Fatalf("got = %d %v, want 429 rate_limited", code, body)
	}
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *gateway.Config) { c.MaxBodyBytes = 32 })
	code, body := env.do(t, http.MethodPost, "/api/run/egg", map[string]any{"transcript": strings.Repeat("x", 200)})
	if code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got = %d %v, want 413", code, body)
	}
}
