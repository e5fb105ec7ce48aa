package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"kloak/internal/batch"
	"kloak/internal/config"
	"kloak/internal/ledger"
	"kloak/internal/media"
	"kloak/internal/preflight"
)

type stripFlags struct {
	outputDir string
	quality   float64
	jobs      int
	overwrite bool
	skipKnown bool
	recursive bool
	jsonOut   bool
}

func newStripCommand(ctx *commandContext) *cobra.Command {
	var flags stripFlags

	cmd := &cobra.Command{
		Use:     "strip <file-or-dir>...",
		Aliases: []string{"batch"},
		Short:   "Write metadata-free copies of photos and videos",
		Long:    "Strip re-encodes still images and remuxes MP4/MOV video so that no EXIF, XMP,\n" +
			"location, device, or timestamp metadata survives. Originals are never modified.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyStripFlags(cmd, cfg, &flags); err != nil {
				return err
			}

			if blocking, ok := preflight.FirstBlocking(preflight.RunAll(cmd.Context(), cfg)); ok {
				return fmt.Errorf("preflight %s failed: %s", strings.ToLower(blocking.Name), blocking.Detail)
			}

			inputs, err := collectInputs(args, flags.recursive)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return errors.New("no media files found")
			}

			s, err := ctx.newStripper(flags.quality)
			if err != nil {
				return err
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			runner, err := batch.NewRunner(batch.Options{
				Stripper:  s,
				OutputDir: cfg.Paths.OutputDir,
				Jobs:      cfg.Batch.Jobs,
				Overwrite: cfg.Batch.Overwrite,
				SkipKnown: flags.skipKnown,
				Ledger:    store,
				Logger:    ctx.loggerValue(),
				OnResult: func(r batch.FileResult) {
					if !flags.jsonOut {
						printFileResult(out, r)
					}
				},
			})
			if err != nil {
				return err
			}

			summary, runErr := runner.Run(cmd.Context(), inputs)
			if flags.jsonOut {
				if err := writeJSON(cmd, summaryJSON(summary)); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "\n%d stripped, %d skipped, %d failed, %d cancelled (run %s)\n",
					summary.Completed, summary.Skipped, summary.Failed, summary.Cancelled, summary.RunID)
			}
			if runErr != nil {
				return runErr
			}
			if !summary.OK() {
				return fmt.Errorf("%d of %d files were not stripped", summary.Failed+summary.Cancelled, len(inputs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "Directory for clean copies (overrides paths.output_dir)")
	cmd.Flags().Float64VarP(&flags.quality, "quality", "q", 0, "JPEG quality in (0, 1] (overrides image.quality)")
	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 0, "Files stripped in parallel (overrides batch.jobs)")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "Replace existing outputs instead of adding a numeric suffix")
	cmd.Flags().BoolVar(&flags.skipKnown, "skip-known", false, "Skip inputs already stripped in a previous run")
	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Print the run summary as JSON")
	return cmd
}

// applyStripFlags folds command-line overrides into cfg and validates them
// with the same rules as the config file.
func applyStripFlags(cmd *cobra.Command, cfg *config.Config, flags *stripFlags) error {
	if flags.outputDir != "" {
		dir, err := config.ExpandPath(flags.outputDir)
		if err != nil {
			return err
		}
		cfg.Paths.OutputDir = dir
	}
	if cmd.Flags().Changed("quality") {
		cfg.Image.Quality = flags.quality
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Batch.Jobs = flags.jobs
	}
	if flags.overwrite {
		cfg.Batch.Overwrite = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	flags.quality = cfg.Image.Quality
	return cfg.EnsureDirectories()
}

func printFileResult(out io.Writer, r batch.FileResult) {
	name := filepath.Base(r.Source)
	switch r.Outcome {
	case ledger.OutcomeCompleted:
		fmt.Fprintf(out, "stripped  %s -> %s (%d items removed)\n", name, r.Output, r.RemovedItems)
	case ledger.OutcomeSkipped:
		fmt.Fprintf(out, "skipped   %s (already stripped to %s)\n", name, r.Output)
	case ledger.OutcomeCancelled:
		fmt.Fprintf(out, "cancelled %s\n", name)
	default:
		fmt.Fprintf(out, "failed    %s: %s\n", name, media.UserMessage(r.Err))
	}
}

type fileResultJSON struct {
	Source       string `json:"source"`
	Output       string `json:"output,omitempty"`
	Kind         string `json:"kind"`
	Outcome      string `json:"outcome"`
	RemovedItems int    `json:"removed_items"`
	DurationMS   int64  `json:"duration_ms"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
}

type summaryJSONView struct {
	RunID     string           `json:"run_id"`
	Completed int              `json:"completed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Cancelled int              `json:"cancelled"`
	Files     []fileResultJSON `json:"files"`
}

func summaryJSON(s batch.Summary) summaryJSONView {
	view := summaryJSONView{
		RunID:     s.RunID,
		Completed: s.Completed,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Cancelled: s.Cancelled,
		Files:     make([]fileResultJSON, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		item := fileResultJSON{
			Source:       r.Source,
			Output:       r.Output,
			Kind:         r.Kind.String(),
			Outcome:      string(r.Outcome),
			RemovedItems: r.RemovedItems,
			DurationMS:   r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			item.ErrorKind = string(media.KindOf(r.Err))
			item.Error = r.Err.Error()
		}
		view.Files = append(view.Files, item)
	}
	return view
}
