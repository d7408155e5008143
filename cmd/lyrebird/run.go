package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/pipeline"
	"github.com/basket/lyrebird/internal/telemetry"
)

type runOptions struct {
	seed           string
	messages       int
	transcriptFile string
	facts          int
	preset         string
	rules          []string
	schema         string
	prompt         string
	mood           string
	mockOnly       bool
	persist        bool
	asJSON         bool
	verbose        bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline once and print the result",
		Long: `Run drives a single run through every stage without a server:
egg, yolk, albumen (when a preset or rule is given), graph, music and done.

Messages come from the seeded simulator unless --transcript-file is set
("-" reads standard input).`,
		Example: `  lyrebird run --seed demo-1 --messages 5 --facts 3
  lyrebird run --transcript-file chat.txt --preset redact-pii --json
  lyrebird run --rule deploy=[redacted] --mock-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts, ro)
		},
	}
	f := cmd.Flags()
	f.StringVar(&ro.seed, "seed", "", "seed for the simulated chat log")
	f.IntVar(&ro.messages, "messages", 0, "number of simulated messages")
	f.StringVar(&ro.transcriptFile, "transcript-file", "", "read a pasted transcript from a file")
	f.IntVar(&ro.facts, "facts", 0, "maximum number of facts to extract")
	f.StringVar(&ro.preset, "preset", "", "apply a named rule preset")
	f.StringArrayVar(&ro.rules, "rule", nil, "replace rule as find=replace (repeatable)")
	f.StringVar(&ro.schema, "schema", "", "graph schema: context or run")
	f.StringVar(&ro.prompt, "prompt", "", "music prompt")
	f.StringVar(&ro.mood, "mood", "", "music mood")
	f.BoolVar(&ro.mockOnly, "mock-only", false, "skip the music provider and use the fallback tone")
	f.BoolVar(&ro.persist, "persist", false, "keep the run in the configured store instead of memory")
	f.BoolVar(&ro.asJSON, "json", false, "print the export bundle as JSON")
	f.BoolVar(&ro.verbose, "verbose", false, "log pipeline activity to stderr")
	return cmd
}

// parseRules turns find=replace flags into replace rules.
func parseRules(raw []string) ([]model.Rule, error) {
	rules := make([]model.Rule, 0, len(raw))
	for i, r := range raw {
		find, replace, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(find) == "" {
			return nil, fmt.Errorf("rule %q: want find=replace", r)
		}
		rules = append(rules, model.Rule{
			ID:      fmt.Sprintf("cli-%d", i+1),
			Find:    find,
			Replace: replace,
			Action:  model.ActionReplace,
		})
	}
	return rules, nil
}

func readTranscript(cmd *cobra.Command, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func runPipeline(cmd *cobra.Command, opts *rootOptions, ro *runOptions) error {
	ctx := cmd.Context()
	rules, err := parseRules(ro.rules)
	if err != nil {
		return err
	}
	transcript, err := readTranscript(cmd, ro.transcriptFile)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if !ro.persist {
		cfg.Store.Driver = "memory"
	}
	logOut := io.Discard
	if ro.verbose {
		logOut = cmd.ErrOrStderr()
	}
	logger := telemetry.NewWriterLogger(logOut, cfg.LogLevel)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	svc := a.service

	start := pipeline.StartRequest{Seed: ro.seed, MessageCount: ro.messages}
	if transcript != "" {
		start.Mode = model.ModePaste
		start.Transcript = transcript
	}
	res, err := svc.StartRun(ctx, start)
	if err != nil {
		return err
	}
	runID := res.Run.ID

	if _, err := svc.ExtractFacts(ctx, runID, ro.facts); err != nil {
		return err
	}
	if ro.preset != "" || len(rules) > 0 {
		if _, err := svc.ApplyPass(ctx, runID, pipeline.PassRequest{Preset: ro.preset, Rules: rules}); err != nil {
			return err
		}
	}
	if _, err := svc.BuildGraph(ctx, runID, ro.schema); err != nil {
		return err
	}
	if _, err := svc.GenerateMusic(ctx, runID, pipeline.MusicRequest{Prompt: ro.prompt, Mood: ro.mood, MockOnly: ro.mockOnly}); err != nil {
		return err
	}
	if _, err := svc.Finish(ctx, runID); err != nil {
		return err
	}

	bundle, err := svc.Export(ctx, runID)
	if err != nil {
		return err
	}
	if ro.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	}
	printSummary(newPrinter(cmd.OutOrStdout()), bundle)
	return nil
}

func printSummary(p *printer, b *model.Bundle) {
	p.Section("run %s", b.RunID)
	p.Detail("stage %s, version %d, trace %s", b.RunState.Stage, b.RunState.Version, b.RunState.TraceID)

	p.Section("messages (%d)", len(b.Messages))
	for _, m := range b.Messages {
		p.Detail("%s: %s", m.Author, m.Content)
	}

	p.Section("facts (%d)", len(b.Facts))
	for _, f := range b.Facts {
		p.Info("  [%.2f] %s", f.Confidence, f.Text)
	}
	for _, pass := range b.Passes {
		p.Detail("pass %d touched %d fact(s)", pass.Version, pass.TouchedCount)
	}

	if b.Graph != nil {
		p.Section("graph")
		p.Detail("%d node(s), %d edge(s)", len(b.Graph.Nodes), len(b.Graph.Edges))
	}

	if s := b.SongArtifact; s != nil {
		p.Section("song")
		if s.AudioProvider == model.ProviderMock {
			p.Warning("fallback tone %s (%d ms)", s.TrackURL, s.DurationMs)
		} else {
			p.Success("%s track %s (%d ms)", s.AudioProvider, s.TrackURL, s.DurationMs)
		}
	}
	for _, e := range b.RunState.Errors {
		p.Warning("%s", e)
	}
}
