package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/lyrebird/internal/bus"
	"github.com/basket/lyrebird/internal/model"
)

const streamWriteTimeout = 5 * time.Second

// streamMessage is one frame of the run event stream.
type streamMessage struct {
	Type     string                `json:"type"`
	RunID    string                `json:"runId"`
	RunState *model.RunState       `json:"runState,omitempty"`
	Event    *model.TelemetryEvent `json:"event,omitempty"`
	From     model.Stage           `json:"from,omitempty"`
	To       model.Stage           `json:"to,omitempty"`
	Version  int                   `json:"version,omitempty"`
}

// handleEvents implements GET /api/run/{runID}/events. It upgrades to a
// WebSocket, sends a snapshot of the run state, then forwards the run's
// telemetry and stage changes until the run is done or either side closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "stream_unavailable", Detail: "event bus not configured"})
		return
	}
	id := runID(r)

	// Subscribe before the snapshot so no event falls between the two.
	sub := s.cfg.Bus.Subscribe(bus.TopicRunPrefix)
	defer s.cfg.Bus.Unsubscribe(sub)

	state, err := s.cfg.Service.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.cfg.CORS.AllowedOrigins,
	})
	if err != nil {
		s.logger.Debug("ws: accept failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// The client only reads; CloseRead handles its close frame and cancels ctx.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := s.logger.With("run_id", id)
	logger.Debug("ws: stream opened")

	if err := s.writeFrame(ctx, conn, streamMessage{Type: "snapshot", RunID: id, RunState: &state}); err != nil {
		return
	}
	if state.Stage.Terminal() {
		conn.Close(websocket.StatusNormalClosure, "run closed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "stream closed")
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscription closed")
				return
			}
			if !bus.ForRun(ev, id) {
				continue
			}
			msg, final := frameFor(ev)
			if msg == nil {
				continue
			}
			if err := s.writeFrame(ctx, conn, *msg); err != nil {
				logger.Debug("ws: write failed", "error", err)
				return
			}
			if final {
				conn.Close(websocket.StatusNormalClosure, "run closed")
				return
			}
		}
	}
}

// frameFor converts a bus event to a stream frame. final is true for the
// telemetry event that closes the run, which is published after its stage
// change.
func frameFor(ev bus.Event) (*streamMessage, bool) {
	switch p := ev.Payload.(type) {
	case bus.RunTelemetryEvent:
		event := p.Event
		return &streamMessage{Type: "telemetry", RunID: p.RunID, Event: &event}, event.Stage.Terminal()
	case bus.StageChangedEvent:
		return &streamMessage{Type: "stage_changed", RunID: p.RunID, From: p.From, To: p.To, Version: p.Version}, false
	default:
		return nil, false
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
