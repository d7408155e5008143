package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	DefaultHost  = "https://api.minimax.io"
	DefaultModel = "music-2.5"

	defaultPrompt      = "Generate a short upbeat instrumental track."
	defaultTemperature = 0.5
	defaultDurationMs  = 6000
	maxErrorBody       = 4096
)

// MiniMaxConfig configures the MiniMax client.
type MiniMaxConfig struct {
	Enabled bool
	APIKey  string
	Host    string
	Model   string

	// Breaker tuning. Zero values use 5 consecutive failures and a 60s cooldown.
	FailureThreshold uint32
	Cooldown         time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// MiniMax calls the MiniMax music generation API behind a circuit breaker.
type MiniMax struct {
	cfg     MiniMaxConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewMiniMax builds a client. It is safe to build one without a key; Generate
// then returns ErrNotConfigured.
func NewMiniMax(cfg MiniMaxConfig) *MiniMax {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	threshold := cfg.FailureThreshold
	m := &MiniMax{cfg: cfg, client: client, logger: logger}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "minimax",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("music breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return m
}

// Configured reports whether Generate will attempt a network call.
func (m *MiniMax) Configured() bool {
	return m.cfg.Enabled && strings.TrimSpace(m.cfg.APIKey) != ""
}

// Host returns the configured API host.
func (m *MiniMax) Host() string { return m.cfg.Host }

func (m *MiniMax) endpoint() string {
	return strings.TrimRight(m.cfg.Host, "/") + "/v1/music_generation"
}

type minimaxPayload struct {
	Model           string         `json:"model"`
	Prompt          string         `json:"prompt"`
	Lyrics          string         `json:"lyrics,omitempty"`
	Stream          bool           `json:"stream"`
	Temperature     float64        `json:"temperature"`
	TopP            float64        `json:"top_p"`
	PromptCustomize map[string]any `json:"prompt_customize"`
}

func (m *MiniMax) Generate(ctx context.Context, req Request) (*Track, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}
	out, err := m.breaker.Execute(func() (interface{}, error) {
		return m.call(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Track), nil
}

func (m *MiniMax) call(ctx context.Context, req Request) (*Track, error) {
	payload := minimaxPayload{
		Model:           req.Model,
		Prompt:          req.Prompt,
		Lyrics:          req.Lyrics,
		Temperature:     req.Temperature,
		TopP:            0.98,
		PromptCustomize: map[string]any{},
	}
	if payload.Model == "" {
		payload.Model = m.cfg.Model
	}
	if payload.Prompt == "" {
		payload.Prompt = defaultPrompt
	}
	if payload.Temperature == 0 {
		payload.Temperature = defaultTemperature
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode minimax request: %w", err)
	}

	endpoint := m.endpoint()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build minimax request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("minimax request: %w", ctxErr)
		}
		return nil, fmt.Errorf("minimax request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(text)}
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode minimax response: %w", err)
	}
	url := FindTrackURL(decoded)
	if url == "" {
		return nil, ErrMissingTrackURL
	}

	duration := defaultDurationMs
	if d, ok := decoded["duration"].(float64); ok && d > 0 {
		duration = int(d)
	}
	m.logger.Info("minimax track generated", "model", payload.Model, "latency_ms", time.Since(start).Milliseconds())
	return &Track{
		URL:        url,
		DurationMs: duration,
		Model:      payload.Model,
		Host:       m.cfg.Host,
		Source:     endpoint,
	}, nil
}

// FindTrackURL looks for the first http(s) URL in a provider response,
// checking the usual audio fields before the rest of the document.
func FindTrackURL(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	data, _ := payload["data"].(map[string]any)
	var audio any
	if data != nil {
		audio = data["audio"]
	}
	var audioFile any
	if a, ok := audio.(map[string]any); ok {
		audioFile = a["audio_file"]
	}
	candidates := []any{audio, audioFile, payload["audio"], payload["output"], payload["result"], payload["data"]}
	for _, c := range candidates {
		if url := collectURL(c); url != "" {
			return url
		}
	}
	return ""
}

func collectURL(v any) string {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
			return t
		}
	case []any:
		for _, item := range t {
			if url := collectURL(item); url != "" {
				return url
			}
		}
	case map[string]any:
		// Sorted keys keep the walk deterministic.
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if url := collectURL(t[k]); url != "" {
				return url
			}
		}
	}
	return ""
}
