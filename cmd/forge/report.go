package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var reportRaw bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the report of the last run",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "Print the Markdown source")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadState()
	if err != nil {
		return err
	}
	path := hostPath(cfg, cfg.Runtime.ReportPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("no report at %s: %w", path, err)
	}
	if reportRaw {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderMarkdown(string(data)))
	return nil
}

// renderMarkdown renders markdown text for terminal display.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}
