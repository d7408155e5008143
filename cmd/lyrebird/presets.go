package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/presets"
)

func newPresetsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List rule presets (built-in and presets.yaml)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.HomeDir()
			if opts.home != "" {
				home = opts.home
			}
			extra, err := presets.LoadFile(config.PresetsPath(home))
			if err != nil {
				return err
			}
			list := presets.NewCatalog(extra).List()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"presets": list})
			}
			p := newPrinter(cmd.OutOrStdout())
			for _, preset := range list {
				source := "presets.yaml"
				if preset.Builtin {
					source = "builtin"
				}
				p.Section("%s", preset.Name)
				p.Detail("%s, %d rule(s)", source, len(preset.Rules))
				if preset.Description != "" {
					p.Info("  %s", preset.Description)
				}
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no presets")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print presets as JSON")
	return cmd
}
