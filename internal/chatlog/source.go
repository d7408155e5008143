package chatlog

import (
	"context"
	"fmt"

	"github.com/basket/lyrebird/internal/model"
)

// Request describes which messages a run starts from.
type Request struct {
	Mode       model.RunMode
	Seed       string
	Count      int
	Transcript string
}

// Source yields the ordered messages for a new run.
type Source interface {
	Messages(ctx context.Context, req Request) ([]model.Message, error)
}

// DefaultSource dispatches seeded requests to the simulator and paste requests
// to the transcript parser.
type DefaultSource struct {
	Simulator Simulator
}

func (s DefaultSource) Messages(ctx context.Context, req Request) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch req.Mode {
	case model.ModePaste:
		return ParseTranscript(req.Transcript, s.Simulator.Anchor), nil
	case model.ModeSeeded, "":
		return s.Simulator.Generate(req.Seed, req.Count), nil
	default:
		return nil, fmt.Errorf("chatlog: unknown mode %q", req.Mode)
	}
}
