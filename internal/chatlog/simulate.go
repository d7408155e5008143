// Package chatlog produces the ordered message list a run starts from: either
// a deterministic simulated chat log derived from a seed, or a pasted transcript.
package chatlog

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/rng"
)

const (
	DefaultCount = 24
	MinCount     = 1
	MaxCount     = 120

	// TimestampLayout is the ISO form used for message timestamps.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// DefaultAnchor is the reference instant simulated timestamps count back from
// when a Simulator has no anchor of its own.
var DefaultAnchor = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

var (
	authors  = []string{"Ari", "Bea", "Chen", "Dee", "Evo", "Fae", "Gus", "Ivy"}
	channels = []string{"build", "ops", "ideas", "launch", "frontend", "backend", "random"}
	verbs    = []string{"deployed", "merged", "benchmarked", "fixed", "rejected", "approved", "measured", "replayed", "reviewed"}
	nouns    = []string{
		"feature flag",
		"ingest pipeline",
		"Discord webhook",
		"Neo4j graph run",
		"Datadog dashboard",
		"music model prompt",
		"agent path",
		"test suite",
		"trace id",
	}
	emojis = []string{"rocket", "sparkles", "microscope", "warning"}
	teams  = []string{"API", "AgentCore", "Datadog", "Neo4j"}
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// ClampCount maps a requested message count into [MinCount, MaxCount].
// Zero means "not set" and yields DefaultCount.
func ClampCount(n int) int {
	switch {
	case n == 0:
		return DefaultCount
	case n < MinCount:
		return MinCount
	case n > MaxCount:
		return MaxCount
	default:
		return n
	}
}

// Simulator synthesizes chat logs from a seed.
type Simulator struct {
	// Anchor is the instant timestamps count back from. Zero uses DefaultAnchor.
	Anchor time.Time
}

// Generate returns count messages derived only from seed, count and the anchor.
func (s Simulator) Generate(seed string, count int) []model.Message {
	count = ClampCount(count)
	anchor := s.Anchor
	if anchor.IsZero() {
		anchor = DefaultAnchor
	}
	r := rng.New(seed)
	messages := make([]model.Message, 0, count+2)
	at := func(perStepMs, extra, extraScale, i int) string {
		offset := time.Duration((count-i)*perStepMs+extra*extraScale) * time.Millisecond
		return anchor.Add(-offset).UTC().Format(TimestampLayout)
	}
	next := func() string {
		return messageID(seed, len(messages))
	}

	for i := 0; i < count; i++ {
		author := rng.Pick(r, authors)
		channel := rng.Pick(r, channels)
		verb := rng.Pick(r, verbs)
		noun := rng.Pick(r, nouns)
		emoji := ""
		if r.Float64() > 0.65 {
			emoji = " :" + emojis[r.Intn(len(emojis))] + ":"
		}
		extra := r.Intn(600)
		minutes := r.Intn(20)
		threadID := fmt.Sprintf("%s-%s-%s-%d", slugify(author), slugify(channel), slugify(noun), i)

		messages = append(messages, model.Message{
			ID:          next(),
			Author:      author,
			Timestamp:   at(45000, extra, 1000, i),
			Content:     fmt.Sprintf("%s %s the %s after %d minutes%s.", strings.ToLower(author), verb, noun, minutes, emoji),
			Channel:     channel,
			ThreadID:    threadID,
			IsSynthetic: true,
		})

		if r.Float64() > 0.7 {
			follower := rng.Pick(r, authors)
			team := rng.Pick(r, teams)
			messages = append(messages, model.Message{
				ID:          next(),
				Author:      follower,
				Timestamp:   at(43000, extra, 900, i),
				Content:     fmt.Sprintf("%s attached update details and a blocker from %s team.", author, team),
				Channel:     channel,
				ThreadID:    threadID,
				IsSynthetic: true,
			})
			i++
		}

		if r.Float64() > 0.92 {
			prefix := slugify(noun)
			if len(prefix) > 6 {
				prefix = prefix[:6]
			}
			address := fmt.Sprintf("%s_%s@example.org", strings.ToLower(author), prefix)
			messages = append(messages, model.Message{
				ID:          next(),
				Author:      rng.Pick(r, authors),
				Timestamp:   at(42000, extra, 700, i),
				Content:     fmt.Sprintf("Contact %s for cross-team escalation.", address),
				Channel:     channel,
				ThreadID:    threadID,
				IsSynthetic: true,
			})
			i++
		}
	}

	if len(messages) > count {
		messages = messages[:count]
	}
	return messages
}

func messageID(seed string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("lyrebird:sim:%s#%d", seed, index))).String()
}
