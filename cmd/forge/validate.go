package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/serverforge/internal/provision"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config and print the phase plan",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s config OK: %s\n", styleSuccess.Render("✓"), configPath)
	fmt.Fprintf(out, "  distro=%s role=%s security=%s\n", cfg.LinuxDistro, cfg.ServerRole, cfg.SecurityLevel)

	apps := make([]string, len(cfg.DeployedApps))
	for i, a := range cfg.DeployedApps {
		apps[i] = string(a)
	}
	if len(apps) > 0 {
		fmt.Fprintf(out, "  apps=%s\n", strings.Join(apps, ","))
	}

	// The plan needs no host; nothing runs until a phase body is invoked.
	plan := provision.New(cfg, nil).Phases()
	fmt.Fprintln(out, "Phases:")
	for i, ph := range plan {
		line := fmt.Sprintf("  %d. %s", i+1, ph.Name)
		if ph.SkipReason != "" {
			line += styleDim.Render(" (skipped: " + ph.SkipReason + ")")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
