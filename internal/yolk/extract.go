// Package yolk derives short factual claims from chat messages. Extraction is
// keyword based, bounded, deduplicated and deterministic for identical input.
package yolk

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/rng"
)

const (
	DefaultLimit = 5
	MinLimit     = 1
	MaxLimit     = 20

	MinConfidence      = 0.61
	MaxConfidence      = 0.98
	FallbackConfidence = 0.61

	FallbackText      = "No clear factual event could be extracted, so a summary artifact is pending."
	FallbackRationale = "Fallback safety fact created from sparse input."
	FallbackExcerpt   = "Transcript is short or ambiguous."

	BlockerRationale = "Detected blocker language and action verbs in the same line."
	DirectRationale  = "Direct update semantics from message transcript."
	SponsorRationale = "Sponsor mention recovered from the transcript so the topic is not lost."

	dedupPrefixLen = 90
	excerptLen     = 120
	jitterSpan     = 0.06
)

// SponsorKeyword is the topic the extractor guarantees a fact for whenever
// any message mentions it.
const SponsorKeyword = "sponsor"

type classification struct {
	keyword  string
	template string // author, channel
}

// Ordered: the first keyword found in the lowercased content wins.
var classifications = []classification{
	{"deploy", "%s deployed an update in #%s."},
	{"merge", "%s performed a merge in #%s."},
	{"fix", "%s handled an issue resolution step in #%s."},
	{SponsorKeyword, "%s raised a sponsor topic in #%s."},
	{"review", "%s completed a review in #%s."},
}

const genericTemplate = "%s shared an updated context in #%s."

// Options control one extraction call.
type Options struct {
	RunID   string
	Version int
	Limit   int
}

// ClampLimit maps a requested fact limit into [MinLimit, MaxLimit]. Zero means
// "not set" and yields DefaultLimit.
func ClampLimit(n int) int {
	switch {
	case n == 0:
		return DefaultLimit
	case n < MinLimit:
		return MinLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// DedupKey identifies messages that would produce the same fact.
func DedupKey(m model.Message) string {
	content := strings.ToLower(strings.TrimSpace(m.Content))
	if r := []rune(content); len(r) > dedupPrefixLen {
		content = string(r[:dedupPrefixLen])
	}
	return m.Author + "\x1f" + m.Channel + "\x1f" + content
}

// Extract returns between 1 and ClampLimit(opts.Limit) facts for messages.
func Extract(messages []model.Message, opts Options) []model.Fact {
	limit := ClampLimit(opts.Limit)
	version := opts.Version
	if version <= 0 {
		version = 1
	}

	facts := make([]model.Fact, 0, limit)
	keys := make([]string, 0, limit)
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if len(facts) >= limit {
			break
		}
		key := DedupKey(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		facts = append(facts, newFact(opts.RunID, version, key, m, sentence(m)))
		keys = append(keys, key)
	}

	facts = rescueSponsor(messages, facts, keys, opts.RunID, version, limit)

	if len(facts) == 0 {
		facts = append(facts, fallbackFact(messages, opts.RunID, version))
	}
	return facts
}

func sentence(m model.Message) string {
	clean := strings.ToLower(m.Content)
	for _, c := range classifications {
		if strings.Contains(clean, c.keyword) {
			return fmt.Sprintf(c.template, m.Author, m.Channel)
		}
	}
	return fmt.Sprintf(genericTemplate, m.Author, m.Channel)
}

func newFact(runID string, version int, key string, m model.Message, text string) model.Fact {
	rationale := DirectRationale
	if strings.Contains(strings.ToLower(m.Content), "block") {
		rationale = BlockerRationale
	}
	return model.Fact{
		ID:         factID(runID, key),
		Text:       text,
		Confidence: Confidence(m, key),
		Provenance: model.Provenance{
			RunID:            runID,
			SourceMessageIDs: []string{m.ID},
			Excerpts:         []string{truncate(m.Content, excerptLen)},
		},
		Status:    model.FactPending,
		Version:   version,
		Rationale: rationale,
	}
}

// Confidence hashes message metadata into a base score, adds seeded jitter,
// and clamps the result into [MinConfidence, MaxConfidence].
func Confidence(m model.Message, key string) float64 {
	base := 0.68 + float64((len(m.Timestamp)+len(m.Author)+len(m.Content))%31)/100
	jitter := rng.Make(key)()*jitterSpan - jitterSpan/2
	score := math.Round((base+jitter)*100) / 100
	return math.Max(MinConfidence, math.Min(MaxConfidence, score))
}

// rescueSponsor makes sure a sponsor mention in the messages is reflected by a
// fact at the front of the list, still within limit.
func rescueSponsor(messages []model.Message, facts []model.Fact, keys []string, runID string, version, limit int) []model.Fact {
	for _, f := range facts {
		if strings.Contains(strings.ToLower(f.Text), SponsorKeyword) {
			return facts
		}
	}
	var source *model.Message
	for i := range messages {
		if strings.Contains(strings.ToLower(messages[i].Content), SponsorKeyword) {
			source = &messages[i]
			break
		}
	}
	if source == nil {
		return facts
	}

	key := DedupKey(*source)
	rescued := newFact(runID, version, key, *source, fmt.Sprintf("%s raised a sponsor topic in #%s.", source.Author, source.Channel))
	rescued.ID = factID(runID, "sponsor\x1f"+key)
	rescued.Rationale = SponsorRationale

	out := make([]model.Fact, 0, limit)
	out = append(out, rescued)
	for i, f := range facts {
		// The rescued fact replaces any fact from the same message so dedup keys stay unique.
		if keys[i] == key {
			continue
		}
		out = append(out, f)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func fallbackFact(messages []model.Message, runID string, version int) model.Fact {
	sources := []string{}
	for i := 0; i < len(messages) && i < 2; i++ {
		sources = append(sources, messages[i].ID)
	}
	return model.Fact{
		ID:         factID(runID, "fallback"),
		Text:       FallbackText,
		Confidence: FallbackConfidence,
		Provenance: model.Provenance{
			RunID:            runID,
			SourceMessageIDs: sources,
			Excerpts:         []string{FallbackExcerpt},
		},
		Status:    model.FactPending,
		Version:   version,
		Rationale: FallbackRationale,
	}
}

func factID(runID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("lyrebird:fact:"+runID+"\x1f"+key)).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
