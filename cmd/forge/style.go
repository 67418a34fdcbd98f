package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleBanner  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var styleQuality = map[string]lipgloss.Style{
	"FULL":    styleSuccess,
	"PARTIAL": styleWarn,
	"NONE":    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
}

func renderQuality(q string) string {
	if s, ok := styleQuality[q]; ok {
		return s.Render("[" + q + "]")
	}
	return "[" + q + "]"
}

func printBanner(w io.Writer, title string) {
	fmt.Fprintln(w, styleBanner.Render(title))
}

func printOK(w io.Writer, name string, d time.Duration) {
	fmt.Fprintf(w, "%s %s %s\n", styleSuccess.Render("✓"), name, styleDim.Render(d.Round(time.Millisecond).String()))
}

func printSkip(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %s %s\n", styleDim.Render("-"), name, styleDim.Render("skipped"))
}

func printFail(w io.Writer, name string, err error) {
	fmt.Fprintf(w, "%s %s: %v\n", styleError.Render("✗"), name, err)
}
