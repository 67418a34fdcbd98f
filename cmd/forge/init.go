package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/lyndonlyu/serverforge/internal/config"
)

var (
	initDefaults bool
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file interactively",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initDefaults, "defaults", false, "Write the default config without prompting")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.Default()
	applyOverrides(cfg)
	if !initDefaults {
		if err := promptConfig(cfg); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return fmt.Errorf("cancelled by user")
			}
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveYAML(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", styleSuccess.Render("✓"), configPath)
	return nil
}

func enumOptions(values []string) []huh.Option[string] {
	return huh.NewOptions(values...)
}

// promptConfig fills cfg from an interactive form, starting from its values.
func promptConfig(cfg *config.Config) error {
	distro := string(cfg.LinuxDistro)
	role := string(cfg.ServerRole)
	security := string(cfg.SecurityLevel)
	backup := string(cfg.BackupFrequency)
	updates := string(cfg.UpdateSchedule)
	monitoring := cfg.Monitoring
	containers := cfg.UseContainers
	kubernetes := cfg.UseKubernetes
	rules := strings.Join(cfg.CustomFirewallRules, " ")

	apps := make([]string, len(cfg.DeployedApps))
	for i, a := range cfg.DeployedApps {
		apps[i] = string(a)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Linux distribution").
				Options(enumOptions(config.Options(config.Distros()))...).Value(&distro),
			huh.NewSelect[string]().Title("Server role").
				Options(enumOptions(config.Options(config.Roles()))...).Value(&role),
			huh.NewSelect[string]().Title("Security level").
				Options(enumOptions(config.Options(config.SecurityLevels()))...).Value(&security),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Install monitoring (Prometheus, Grafana, node_exporter)?").Value(&monitoring),
			huh.NewSelect[string]().Title("Backup frequency").
				Options(enumOptions(config.Options(config.BackupFrequencies()))...).Value(&backup),
			huh.NewSelect[string]().Title("Update schedule").
				Options(enumOptions(config.Options(config.UpdateSchedules()))...).Value(&updates),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().Title("Applications to deploy").
				Options(enumOptions(config.Options(config.AppKinds()))...).Value(&apps),
			huh.NewInput().Title("Extra firewall rules").
				Description("Space separated, e.g. 8080/tcp 53/udp http 80,443/tcp").
				Value(&rules).
				Validate(func(s string) error {
					for _, r := range strings.Fields(s) {
						if !config.ValidFirewallRule(r) {
							return fmt.Errorf("invalid rule %q", r)
						}
					}
					return nil
				}),
			huh.NewConfirm().Title("Run the applications in containers?").Value(&containers),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Use Kubernetes (minikube) for the containers?").Value(&kubernetes),
		).WithHideFunc(func() bool { return !containers }),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.LinuxDistro = config.Distro(distro)
	cfg.ServerRole = config.Role(role)
	cfg.SecurityLevel = config.SecurityLevel(security)
	cfg.Monitoring = monitoring
	cfg.BackupFrequency = config.BackupFrequency(backup)
	cfg.UpdateSchedule = config.UpdateSchedule(updates)
	cfg.DeployedApps = cfg.DeployedApps[:0]
	for _, a := range apps {
		cfg.DeployedApps = append(cfg.DeployedApps, config.AppKind(a))
	}
	cfg.CustomFirewallRules = strings.Fields(rules)
	cfg.UseContainers = containers
	cfg.UseKubernetes = containers && kubernetes
	return nil
}
