package music

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/lyrebird/internal/model"
)

const (
	DefaultStyle   = "upbeat instrumentals"
	DefaultMood    = "playful"
	DefaultTimeout = 20 * time.Second

	promptFacts  = 10
	promptPrefix = "Instrumental music for a run where facts include: "
)

// Composer produces exactly one song artifact per call, using Client when it
// can and the fallback tone otherwise.
type Composer struct {
	Client  Client
	Host    string
	Timeout time.Duration
	NewID   func() string
	Now     func() time.Time
	Logger  *slog.Logger
}

// Input is what a run contributes to its song.
type Input struct {
	RunID    string
	TraceID  string
	Facts    []model.Fact
	Prompt   string
	Mood     string
	MockOnly bool
}

// Outcome carries the artifact and, for fallbacks, why the provider was not
// used. AfterError is false when the provider was simply not configured.
type Outcome struct {
	Song       *model.SongArtifact
	Fallback   bool
	Reason     string
	AfterError bool
}

// Prompt returns the provider prompt: the caller's text, or one built from the
// first facts.
func Prompt(custom string, facts []model.Fact) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	texts := make([]string, 0, promptFacts)
	for i, f := range facts {
		if i == promptFacts {
			break
		}
		texts = append(texts, f.Text)
	}
	return promptPrefix + strings.Join(texts, "; ")
}

// Lyrics renders facts as a bulleted list.
func Lyrics(facts []model.Fact) string {
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = "• " + f.Text
	}
	return strings.Join(lines, "\n")
}

func (c Composer) Compose(ctx context.Context, in Input) Outcome {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lyrics := Lyrics(in.Facts)

	var (
		track *Track
		err   = ErrNotConfigured
	)
	if c.Client != nil && !in.MockOnly {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		track, err = c.Client.Generate(callCtx, Request{Prompt: Prompt(in.Prompt, in.Facts), Mood: in.Mood, Lyrics: lyrics})
		cancel()
		if err == nil && (track == nil || strings.TrimSpace(track.URL) == "") {
			err = ErrMissingTrackURL
		}
	}

	var out Outcome
	if err == nil {
		out.Song = &model.SongArtifact{
			ID:              c.newID(),
			RunID:           in.RunID,
			TrackURL:        track.URL,
			Format:          "audio/mpeg",
			DurationMs:      track.DurationMs,
			WaveformSummary: []string{"minimax-track", "generated"},
			AudioProvider:   model.ProviderMiniMax,
			CreatedAt:       c.now().UnixMilli(),
			ProviderMeta:    &model.ProviderMeta{Host: track.Host, Source: track.Source, Model: track.Model},
		}
	} else {
		out.Fallback = true
		out.Reason = FallbackReason(err)
		out.AfterError = !errors.Is(err, ErrNotConfigured)
		waveform := []string{"mock-tone", "no-network-playback"}
		if out.AfterError {
			waveform = []string{"mock-tone", "fallback_after_error"}
			logger.Warn("music provider failed, using fallback tone", "run_id", in.RunID, "reason", out.Reason)
		}
		out.Song = &model.SongArtifact{
			ID:              c.newID(),
			RunID:           in.RunID,
			TrackURL:        FallbackURL(in.RunID, in.TraceID),
			Format:          FallbackFormat,
			DurationMs:      FallbackDurationMs,
			WaveformSummary: waveform,
			AudioProvider:   model.ProviderMock,
			CreatedAt:       c.now().UnixMilli(),
			ProviderMeta:    &model.ProviderMeta{Host: c.Host, Source: "fallback-tone", FallbackReason: out.Reason},
		}
	}

	out.Song.Lyrics = lyrics
	out.Song.Style = DefaultStyle
	if strings.TrimSpace(in.Prompt) != "" {
		out.Song.Style = in.Prompt
	}
	out.Song.Mood = DefaultMood
	if strings.TrimSpace(in.Mood) != "" {
		out.Song.Mood = in.Mood
	}
	return out
}

func (c Composer) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c Composer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
