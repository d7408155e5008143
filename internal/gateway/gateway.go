// Package gateway exposes the run pipeline over HTTP: JSON stage endpoints,
// read views, a WebSocket telemetry stream and the fallback tone.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/lyrebird/internal/bus"
	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/otel"
	"github.com/basket/lyrebird/internal/pipeline"
)

const defaultMaxBodyBytes = 10 * 1024 * 1024

type Config struct {
	Service *pipeline.Service
	Bus     *bus.Bus
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otel.Metrics

	Auth      config.AuthConfig
	CORS      config.CORSConfig
	RateLimit *RateLimitMiddleware

	MaxBodyBytes int64

	// ConfigFingerprint reports the hash of the active config for /api/status.
	ConfigFingerprint func() string
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	closeOnce sync.Once
	done      chan struct{}
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		tracer: cfg.Tracer,
		done:   make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "gateway")
	if s.tracer == nil {
		s.tracer = otel.Noop().Tracer
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return s
}

// Close ends open event streams. Plain HTTP requests are drained by
// http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(NewCORSMiddleware(s.cfg.CORS))
	r.Use(s.observe)
	if s.cfg.RateLimit != nil {
		r.Use(s.cfg.RateLimit.Wrap)
	}
	r.Use(RequestSizeLimitMiddleware(s.cfg.MaxBodyBytes))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/presets", s.handlePresets)
		r.Get("/simulated-discord/log", s.handlePreview)
		r.Get("/fallback/audio", s.handleFallbackAudio)

		r.Route("/run", func(r chi.Router) {
			r.Use(NewAuthMiddleware(s.cfg.Auth).Wrap)
			r.Post("/egg", s.handleEgg)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleRunState)
				r.Post("/yolk", s.handleYolk)
				r.Post("/albumen", s.handleAlbumen)
				r.Post("/graph", s.handleGraph)
				r.Get("/graph/layout", s.handleLayout)
				r.Post("/music", s.handleMusic)
				r.Post("/done", s.handleDone)
				r.Get("/debug", s.handleDebug)
				r.Get("/export", s.handleExport)
				r.Get("/events", s.handleEvents)
			})
		})
	})
	return r
}

// observe wraps each request in a server span and records its duration under
// the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := otel.StartServerSpan(otel.ExtractHTTP(r.Context(), r.Header), s.tracer, "http "+r.Method)
		defer span.End()

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(otel.AttrRoute.String(route))
		s.cfg.Metrics.RecordRequest(ctx, route, status, time.Since(start))
		s.logger.Debug("request", "method", r.Method, "route", route, "status", status,
			"latency_ms", time.Since(start).Milliseconds(), "request_id", chimiddleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy := true
	if _, err := s.cfg.Service.Count(r.Context()); err != nil {
		healthy = false
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": healthy})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.cfg.Service.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count runs", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store_unavailable", Detail: err.Error()})
		return
	}
	fingerprint := ""
	if s.cfg.ConfigFingerprint != nil {
		fingerprint = s.cfg.ConfigFingerprint()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"runs":              runs,
		"store":             s.cfg.Service.Registry().Driver(),
		"configFingerprint": fingerprint,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
