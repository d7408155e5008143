package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/lyrebird/internal/doctor"
)

var errDoctorFailed = errors.New("doctor: one or more checks failed")

func newDoctorCmd(opts *rootOptions, version string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, store, presets and music provider reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				// Diagnose anyway; the Config check reports the failure.
				fmt.Fprintf(cmd.ErrOrStderr(), "config load: %v\n", err)
			}
			diag := doctor.Run(cmd.Context(), &cfg, version)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(diag); err != nil {
					return err
				}
			} else {
				printDiagnosis(newPrinter(cmd.OutOrStdout()), diag)
			}
			if diag.Failed() {
				return errDoctorFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printDiagnosis(p *printer, d doctor.Diagnosis) {
	p.Section("Lyrebird Doctor Report (%s)", d.Timestamp.Format(time.RFC3339))
	p.Detail("System: %s/%s (%s) %s", d.System.OS, d.System.Arch, d.System.Go, d.System.Version)
	for _, res := range d.Results {
		line := fmt.Sprintf("%-12s %s", res.Name, res.Message)
		switch res.Status {
		case doctor.StatusFail:
			p.Warning("FAIL %s", line)
		case doctor.StatusWarn:
			p.Warning("WARN %s", line)
		case doctor.StatusSkip:
			p.Info("- SKIP %s", line)
		default:
			p.Success("PASS %s", line)
		}
		if res.Detail != "" {
			p.Detail("  %s", res.Detail)
		}
	}
}
