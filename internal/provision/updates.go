package provision

import (
	"context"
	"regexp"
	"strings"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/templates"
)

const (
	unattendedUpgradesPath = "/etc/apt/apt.conf.d/50unattended-upgrades"
	autoUpgradesPath       = "/etc/apt/apt.conf.d/20auto-upgrades"
	yumCronPath            = "/etc/yum/yum-cron.conf"
	dnfAutomaticPath       = "/etc/dnf/automatic.conf"
)

func (p *Provisioner) updates(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	switch p.cfg.LinuxDistro {
	case config.Ubuntu:
		return p.unattendedUpgrades(ctx, h)
	case config.CentOS:
		if err := h.Install(ctx, "yum-cron"); err != nil {
			return err
		}
		if err := ensureSetting(h, yumCronPath, "commands", "apply_updates", "yes"); err != nil {
			return err
		}
		return h.EnableNow(ctx, "yum-cron")
	default:
		if err := h.Install(ctx, "dnf-automatic"); err != nil {
			return err
		}
		if err := ensureSetting(h, dnfAutomaticPath, "commands", "apply_updates", "yes"); err != nil {
			return err
		}
		return h.EnableNow(ctx, "dnf-automatic.timer")
	}
}

func (p *Provisioner) unattendedUpgrades(ctx context.Context, h *host.Session) error {
	if err := h.Install(ctx, "unattended-upgrades", "apt-listchanges"); err != nil {
		return err
	}

	policy, err := templates.Render(templates.UnattendedUpgrades, nil)
	if err != nil {
		return err
	}
	if err := h.WriteFile(unattendedUpgradesPath, policy, 0644); err != nil {
		return err
	}
	periodic, err := templates.Render(templates.AutoUpgrades, templates.AutoUpgradesData{
		Interval: p.cfg.UpdateSchedule.IntervalDays(),
	})
	if err != nil {
		return err
	}
	if err := h.WriteFile(autoUpgradesPath, periodic, 0644); err != nil {
		return err
	}
	return h.EnableNow(ctx, "unattended-upgrades")
}

// ensureSetting sets "key = value" in an INI file, writing a minimal file
// under [section] when the package did not ship one.
func ensureSetting(h *host.Session, path, section, key, value string) error {
	line := key + " = " + value
	if !h.Exists(path) {
		return h.WriteFile(path, []byte("["+section+"]\n"+line+"\n"), 0644)
	}

	re := regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(key) + `[ \t]*=.*$`)
	return h.EditFile(path, func(content string) string {
		if re.MatchString(content) {
			return re.ReplaceAllLiteralString(content, line)
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		return content + line + "\n"
	})
}
