package chatlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/lyrebird/internal/model"
)

const (
	// GuestAuthor is used for transcript lines without an "author:" prefix.
	GuestAuthor  = "Guest"
	PasteChannel = "paste"
)

// ParseTranscript turns "author: content" lines into messages. Blank lines are
// skipped. Timestamps step forward one second per line from anchor (zero uses
// DefaultAnchor) so the output is stable for identical input.
func ParseTranscript(transcript string, anchor time.Time) []model.Message {
	if anchor.IsZero() {
		anchor = DefaultAnchor
	}
	var out []model.Message
	for _, raw := range strings.Split(transcript, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		author, content := GuestAuthor, line
		if before, after, ok := strings.Cut(line, ":"); ok {
			author = strings.TrimSpace(before)
			content = strings.TrimSpace(after)
			if author == "" {
				author = GuestAuthor
			}
		}
		idx := len(out)
		key := []byte(fmt.Sprintf("lyrebird:paste:%d:%s", idx, line))
		out = append(out, model.Message{
			ID:          uuid.NewSHA1(uuid.NameSpaceURL, key).String(),
			Author:      author,
			Timestamp:   anchor.Add(time.Duration(idx) * time.Second).UTC().Format(TimestampLayout),
			Content:     content,
			Channel:     PasteChannel,
			ThreadID:    uuid.NewSHA1(uuid.NameSpaceOID, key).String(),
			IsSynthetic: false,
		})
	}
	return out
}
