package model

// AudioProvider names where a song artifact came from.
type AudioProvider string

const (
	ProviderMiniMax AudioProvider = "minimax"
	ProviderMock    AudioProvider = "mock"
)

// ProviderMeta describes the generation backend for a song.
type ProviderMeta struct {
	Host           string `json:"host"`
	Source         string `json:"source"`
	Model          string `json:"model,omitempty"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// SongArtifact is the optional music output of a run.
type SongArtifact struct {
	ID              string        `json:"id"`
	RunID           string        `json:"runId"`
	TrackURL        string        `json:"trackUrl"`
	Format          string        `json:"format"`
	DurationMs      int           `json:"durationMs"`
	WaveformSummary []string      `json:"waveformSummary"`
	AudioProvider   AudioProvider `json:"audioProvider"`
	CreatedAt       int64         `json:"createdAt"`
	ProviderMeta    *ProviderMeta `json:"providerMeta,omitempty"`
	Lyrics          string        `json:"lyrics,omitempty"`
	Style           string        `json:"style,omitempty"`
	Mood            string        `json:"mood,omitempty"`
}

// Clone deep-copies s.
func (s *SongArtifact) Clone() *SongArtifact {
	if s == nil {
		return nil
	}
	out := *s
	out.WaveformSummary = cloneStrings(s.WaveformSummary)
	if s.ProviderMeta != nil {
		meta := *s.ProviderMeta
		out.ProviderMeta = &meta
	}
	return &out
}
