// Package music turns a run's facts into a song artifact. A remote provider
// is tried when configured; every failure falls back to a deterministic tone.
package music

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

var (
	// ErrNotConfigured means the client is disabled or has no credentials.
	ErrNotConfigured = errors.New("music: provider not configured")
	// ErrMissingTrackURL means the provider answered without a playable URL.
	ErrMissingTrackURL = errors.New("music: response has no track url")
)

// Request is one generation call.
type Request struct {
	Prompt      string
	Mood        string
	Lyrics      string
	Model       string
	Temperature float64
}

// Track is a playable result from a provider.
type Track struct {
	URL        string
	DurationMs int
	Model      string
	Host       string
	Source     string
}

// Client generates music from a prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (*Track, error)
}

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("music: provider returned %d", e.Status)
}

const (
	ReasonNotConfigured = "minimax_not_configured_or_disabled"
	ReasonTimeout       = "minimax_timeout"
	ReasonCircuitOpen   = "minimax_circuit_open"
	ReasonMissingURL    = "minimax_missing_track_url"
)

// FallbackReason maps a generation error to the machine-readable reason stored
// on fallback artifacts.
func FallbackReason(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return ReasonNotConfigured
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonCircuitOpen
	case errors.Is(err, ErrMissingTrackURL):
		return ReasonMissingURL
	case errors.As(err, &httpErr):
		body := []rune(httpErr.Body)
		if len(body) > 120 {
			body = body[:120]
		}
		return fmt.Sprintf("minimax_http_%d_%s", httpErr.Status, string(body))
	default:
		return err.Error()
	}
}
