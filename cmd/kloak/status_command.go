package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kloak/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, dependencies, and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Configuration", colorize))
			configDetail := ctx.configPath
			if configDetail == "" {
				configDetail = "defaults"
			}
			fmt.Fprintln(out, renderStatusLine("Config", statusInfo, configDetail, colorize))
			fmt.Fprintln(out, renderStatusLine("Image quality", statusInfo, fmt.Sprintf("%.2f", cfg.Image.Quality), colorize))
			fmt.Fprintln(out, renderStatusLine("Parallel jobs", statusInfo, fmt.Sprintf("%d", cfg.Batch.Jobs), colorize))

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
			blocked := false
			for _, r := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				switch {
				case r.Blocking():
					kind = statusError
					blocked = true
				case !r.Passed:
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("History", colorize))
			store, err := ctx.openLedger()
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Ledger", statusError, err.Error(), colorize))
				blocked = true
			} else {
				count, err := store.Count(cmd.Context())
				if err != nil {
					fmt.Fprintln(out, renderStatusLine("Ledger", statusError, err.Error(), colorize))
					blocked = true
				} else {
					fmt.Fprintln(out, renderStatusLine("Ledger", statusOK, fmt.Sprintf("%s (%d entries)", store.Path(), count), colorize))
				}
			}

			if blocked {
				return fmt.Errorf("status checks failed")
			}
			return nil
		},
	}
}
