package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	home string
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "lyrebird",
		Short: "Lyrebird turns chat logs into facts, graphs and a song",
		Long: `Lyrebird runs chat transcripts through a staged pipeline:
egg (messages) -> yolk (facts) -> albumen (rewrite passes) -> graph -> music.

Run "lyrebird serve" for the HTTP API or "lyrebird run" for a one-shot
offline pipeline.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.home, "home", "", "data directory (default $LYREBIRD_HOME or ~/.lyrebird)")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newStatusCmd(opts),
		newPresetsCmd(opts),
		newDoctorCmd(opts, version),
	)
	return root
}
