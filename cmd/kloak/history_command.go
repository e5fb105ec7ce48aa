package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kloak/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently stripped files",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			var entries []ledger.Entry
			if runID != "" {
				entries, err = store.ByRun(cmd.Context(), runID)
			} else {
				entries, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, historyJSON(entries))
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				result := string(e.Outcome)
				if e.ErrorKind != "" {
					result += " (" + string(e.ErrorKind) + ")"
				}
				output := "-"
				if e.OutputPath != "" {
					output = filepath.Base(e.OutputPath)
				}
				rows = append(rows, []string{
					e.CreatedAt.Local().Format("2006-01-02 15:04"),
					e.SourceName,
					e.SourceKind,
					result,
					strconv.Itoa(e.RemovedItems),
					output,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"When", "Source", "Kind", "Result", "Removed", "Output"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "Show every entry of one run")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print entries as JSON")

	cmd.AddCommand(newHistoryRunsCommand(ctx))
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Summarize recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.RunID,
					r.Started.Local().Format("2006-01-02 15:04"),
					strconv.Itoa(r.Total),
					strconv.Itoa(r.Completed),
					strconv.Itoa(r.Skipped),
					strconv.Itoa(r.Failed + r.Cancelled),
				})
			}
			right := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight}
			fmt.Fprintln(out, renderTable([]string{"Run", "Started", "Files", "Stripped", "Skipped", "Failed"}, rows, right))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			removed, err := store.PruneBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Age cutoff, e.g. 720h")
	return cmd
}

type historyEntryJSON struct {
	RunID        string `json:"run_id"`
	Source       string `json:"source"`
	SourceSHA256 string `json:"source_sha256"`
	Kind         string `json:"kind"`
	Outcome      string `json:"outcome"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Output       string `json:"output,omitempty"`
	RemovedItems int    `json:"removed_items"`
	CreatedAt    string `json:"created_at"`
}

func historyJSON(entries []ledger.Entry) []historyEntryJSON {
	out := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryJSON{
			RunID:        e.RunID,
			Source:       e.SourceName,
			SourceSHA256: e.SourceHash,
			Kind:         e.SourceKind,
			Outcome:      string(e.Outcome),
			ErrorKind:    string(e.ErrorKind),
			Output:       e.OutputPath,
			RemovedItems: e.RemovedItems,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
