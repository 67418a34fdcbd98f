// Package report renders the Markdown summary a run leaves behind at
// runtime.report_path.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/executor"
	"github.com/lyndonlyu/serverforge/internal/phase"
)

// Fact is the output of one host information command.
type Fact struct {
	Command string
	Output  string
}

// FactCommands are run in order; each one that fails or prints nothing is
// left out of the report.
var FactCommands = [][]string{
	{"uname", "-a"},
	{"lscpu"},
	{"free", "-h"},
}

type Data struct {
	RunID    string
	Config   *config.Config
	Started  time.Time
	Finished time.Time
	Result   phase.Result
	Facts    []Fact
}

// CollectFacts gathers host information through runner.
func CollectFacts(ctx context.Context, runner executor.Runner) []Fact {
	var facts []Fact
	for _, argv := range FactCommands {
		out, err := runner.Output(ctx, argv[0], argv[1:]...)
		if err != nil {
			continue
		}
		s := strings.TrimSpace(string(out))
		if s == "" {
			continue
		}
		facts = append(facts, Fact{Command: strings.Join(argv, " "), Output: s})
	}
	return facts
}

// Render returns the report as Markdown.
func Render(d Data) []byte {
	var b strings.Builder
	cfg := d.Config

	b.WriteString("# Server Setup Report\n\n")
	fmt.Fprintf(&b, "- Run ID: `%s`\n", d.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", d.Started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Finished: %s (%s)\n", d.Finished.UTC().Format(time.RFC3339), d.Finished.Sub(d.Started).Round(time.Second))
	fmt.Fprintf(&b, "- Outcome: **%s**\n", d.Result.State)
	if d.Result.FailedPhase != "" {
		fmt.Fprintf(&b, "- Failed phase: %s\n", d.Result.FailedPhase)
	}

	b.WriteString("\n## Configuration\n\n")
	b.WriteString("| Setting | Value |\n|---|---|\n")
	rows := [][2]string{
		{"Linux distribution", string(cfg.LinuxDistro)},
		{"Server role", string(cfg.ServerRole)},
		{"Security level", string(cfg.SecurityLevel)},
		{"Monitoring", fmt.Sprint(cfg.Monitoring)},
		{"Backup frequency", string(cfg.BackupFrequency)},
		{"Update schedule", string(cfg.UpdateSchedule)},
		{"Containers", fmt.Sprint(cfg.UseContainers)},
		{"Kubernetes", fmt.Sprint(cfg.UseKubernetes)},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", r[0], r[1])
	}

	b.WriteString("\n### Deployed applications\n\n")
	apps := make([]string, len(cfg.DeployedApps))
	for i, a := range cfg.DeployedApps {
		apps[i] = string(a)
	}
	writeList(&b, apps)

	b.WriteString("\n### Custom firewall rules\n\n")
	writeList(&b, cfg.CustomFirewallRules)

	b.WriteString("\n## Phases\n\n")
	b.WriteString("| Phase | Status | Duration | Error |\n|---|---|---|---|\n")
	for _, o := range d.Result.Phases {
		errMsg := ""
		if o.Err != nil {
			errMsg = cell(o.Err.Error())
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", o.Name, o.Status, o.Duration.Round(time.Millisecond), errMsg)
	}

	b.WriteString("\n## Rollback\n\n")
	if rep := d.Result.Rollback; rep == nil {
		b.WriteString("Not needed.\n")
	} else {
		fmt.Fprintf(&b, "Quality **%s**: %d undone, %d skipped, %d failed, %d not attempted.\n",
			rep.Quality, rep.Undone, rep.Skipped, len(rep.Failures), rep.NotAttempted)
		if len(rep.Failures) > 0 {
			b.WriteString("\n")
			for _, f := range rep.Failures {
				fmt.Fprintf(&b, "- %s\n", f.Error())
			}
		}
	}

	if len(d.Facts) > 0 {
		b.WriteString("\n## System information\n")
		for _, f := range d.Facts {
			fmt.Fprintf(&b, "\n### %s\n\n```\n%s\n```\n", f.Command, f.Output)
		}
	}
	return []byte(b.String())
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("_none_\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

// cell flattens s for a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// Write saves a rendered report at path with mode 0600.
func Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
