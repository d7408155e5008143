package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/basket/lyrebird/internal/music"
	"github.com/basket/lyrebird/internal/pipeline"
)

func runID(r *http.Request) string {
	return chi.URLParam(r, "runID")
}

// queryInt parses an integer query parameter; absent or malformed values are 0
// so the pipeline applies its default.
func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Service.Preview(r.Context(), r.URL.Query().Get("seed"), queryInt(r, "messageCount"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": s.cfg.Service.Presets().List()})
}

func (s *Server) handleEgg(w http.ResponseWriter, r *http.Request) {
	var req eggRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.cfg.Service.StartRun(r.Context(), req.toStart())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":         res.Run.ID,
		"runState":      res.Run.State(),
		"messages":      res.Run.Messages,
		"messagesCount": len(res.Run.Messages),
		"llm":           res.Note,
	})
}

func (s *Server) handleYolk(w http.ResponseWriter, r *http.Request) {
	var req yolkRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.cfg.Service.ExtractFacts(r.Context(), runID(r), req.FactLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stageBody(res, map[string]any{"facts": res.Run.Facts}))
}

func (s *Server) handleAlbumen(w http.ResponseWriter, r *http.Request) {
	var req albumenRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.cfg.Service.ApplyPass(r.Context(), runID(r), req.toPass())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stageBody(res, map[string]any{"facts": res.Run.Facts, "passes": res.Run.Passes}))
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	var req graphRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.cfg.Service.BuildGraph(r.Context(), runID(r), req.Schema)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stageBody(res, map[string]any{"graph": res.Run.Graph}))
}

func (s *Server) handleMusic(w http.ResponseWriter, r *http.Request) {
	var req musicRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.cfg.Service.GenerateMusic(r.Context(), runID(r), pipeline.MusicRequest{
		Prompt:   req.Prompt,
		Mood:     req.Mood,
		MockOnly: req.MockOnly,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stageBody(res, map[string]any{"songArtifact": res.Run.Song}))
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Service.Finish(r.Context(), runID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":    run.ID,
		"stage":    run.Stage,
		"runState": run.State(),
	})
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	state, err := s.cfg.Service.Status(r.Context(), runID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runId": state.ID, "runState": state})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Service.Debug(r.Context(), runID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.cfg.Service.Export(r.Context(), runID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="lyrebird-run-%s.json"`, bundle.RunID))
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	view, err := s.cfg.Service.Layout(r.Context(), runID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleFallbackAudio renders the deterministic tone. An explicit freq wins;
// otherwise a seed selects a stable frequency.
func (s *Server) handleFallbackAudio(w http.ResponseWriter, r *http.Request) {
	freq := queryInt(r, "freq")
	if seed := r.URL.Query().Get("seed"); freq == 0 && seed != "" {
		freq = music.FallbackFrequency(seed)
	}
	freq = music.ClampFrequency(freq)
	duration := music.ClampDuration(queryInt(r, "duration"))

	w.Header().Set("Content-Type", music.FallbackFormat)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(music.WAVSize(duration)))
	w.WriteHeader(http.StatusOK)
	if err := music.WriteWAV(w, freq, duration); err != nil {
		s.logger.Debug("fallback audio: write failed", "error", err)
	}
}

// stageBody is the common stage response: run id, stage, state and the
// stage's note under "llm", plus the stage outputs.
func stageBody(res *pipeline.StageResult, outputs map[string]any) map[string]any {
	body := map[string]any{
		"runId":    res.Run.ID,
		"stage":    res.Run.Stage,
		"runState": res.Run.State(),
		"llm":      res.Note,
	}
	for k, v := range outputs {
		body[k] = v
	}
	return body
}
