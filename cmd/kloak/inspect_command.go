package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kloak/internal/fileutil"
	"kloak/internal/media"
	"kloak/internal/media/container"
	"kloak/internal/media/metascan"
)

type inspectView struct {
	Path      string          `json:"path"`
	Kind      string          `json:"kind"`
	Strategy  string          `json:"strategy"`
	SHA256    string          `json:"sha256"`
	Bytes     int             `json:"bytes"`
	Removable int             `json:"removable"`
	Items     []metascan.Item `json:"items"`
}

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var all bool

	cmd := &cobra.Command{
		Use:         "inspect <file>",
		Short:       "List the metadata a file carries without changing it",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			report, err := metascan.Scan(data)
			if err != nil {
				return fmt.Errorf("%s: %s (%w)", filepath.Base(path), media.UserMessage(err), err)
			}
			strategy, err := container.SelectStrategy(report.Kind)
			if err != nil {
				return err
			}

			items := report.Items
			if !all {
				items = report.Removable()
			}
			view := inspectView{
				Path:      path,
				Kind:      report.Kind.String(),
				Strategy:  strategy.String(),
				SHA256:    fileutil.HashBytes(data),
				Bytes:     len(data),
				Removable: len(report.Removable()),
				Items:     items,
			}
			if view.Items == nil {
				view.Items = []metascan.Item{}
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}
			renderInspect(cmd, view)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include items required for playback")
	return cmd
}

func renderInspect(cmd *cobra.Command, view inspectView) {
	out := cmd.OutOrStdout()
	title := cases.Title(language.Und)
	fmt.Fprintf(out, "%s\n", view.Path)
	fmt.Fprintf(out, "  Kind:      %s\n", title.String(view.Kind))
	fmt.Fprintf(out, "  Strategy:  %s\n", view.Strategy)
	fmt.Fprintf(out, "  Size:      %d bytes\n", view.Bytes)
	fmt.Fprintf(out, "  Removable: %d items\n", view.Removable)
	if len(view.Items) == 0 {
		fmt.Fprintln(out, "\nNo removable metadata found.")
		return
	}
	rows := make([][]string, 0, len(view.Items))
	for _, item := range view.Items {
		rows = append(rows, []string{title.String(item.Scope), item.Key, truncate(item.Value, 48), yesNo(item.Required)})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Scope", "Key", "Value", "Required"}, rows, nil))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
