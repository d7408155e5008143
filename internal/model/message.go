package model

// Message is one chat line fed into a run. Messages are never mutated after
// the egg stage produces them.
type Message struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Timestamp   string `json:"timestamp"`
	Content     string `json:"content"`
	Channel     string `json:"channel"`
	ThreadID    string `json:"threadId"`
	IsSynthetic bool   `json:"isSynthetic"`
}

// RunMode selects how a run obtains its messages.
type RunMode string

const (
	ModeSeeded RunMode = "seeded"
	ModePaste  RunMode = "paste"
)

// RunOptions are the inputs a run was started with.
type RunOptions struct {
	Mode              RunMode `json:"mode"`
	Seed              string  `json:"seed"`
	Profile           string  `json:"profile,omitempty"`
	MessageCount      int     `json:"messageCount"`
	Transcript        string  `json:"transcript,omitempty"`
	IncludeTranscript bool    `json:"includeTranscript"`
	PromptHint        string  `json:"promptHint,omitempty"`
}
