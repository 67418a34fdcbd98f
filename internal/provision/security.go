package provision

import (
	"context"
	"os"
	"strconv"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/templates"
)

const (
	jailLocalPath    = "/etc/fail2ban/jail.local"
	scanScriptPath   = "/usr/local/bin/security_scan.sh"
	scanCronPath     = "/etc/cron.d/security_scan"
	selinuxConfig    = "/etc/selinux/config"
	apparmorProfiles = "/etc/apparmor.d/*"
)

func (p *Provisioner) security(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	if err := p.fail2ban(ctx, h); err != nil {
		return err
	}
	if p.cfg.SecurityLevel == config.SecurityAdvanced {
		var err error
		if p.debian() {
			err = p.apparmor(ctx, h)
		} else {
			err = p.selinux(ctx, h)
		}
		if err != nil {
			return err
		}
	}
	if err := p.rootkitScanners(ctx, h); err != nil {
		return err
	}
	return p.scanSchedule(h)
}

func (p *Provisioner) fail2ban(ctx context.Context, h *host.Session) error {
	if err := h.Install(ctx, "fail2ban"); err != nil {
		return err
	}

	jail := templates.Jail{SSHPort: "ssh", LogPath: "/var/log/secure"}
	if port := p.cfg.Runtime.SSHPort; port != 22 {
		jail.SSHPort = strconv.Itoa(port)
	}
	if p.debian() {
		jail.LogPath = "/var/log/auth.log"
	}
	data, err := templates.Render(templates.JailLocal, jail)
	if err != nil {
		return err
	}
	if err := h.WriteFile(jailLocalPath, data, 0644); err != nil {
		return err
	}
	return h.EnableNow(ctx, "fail2ban")
}

func (p *Provisioner) apparmor(ctx context.Context, h *host.Session) error {
	if err := h.Install(ctx, "apparmor", "apparmor-utils"); err != nil {
		return err
	}
	if err := h.EnableNow(ctx, "apparmor"); err != nil {
		return err
	}

	matches, err := h.Glob(apparmorProfiles)
	if err != nil {
		return err
	}
	profiles := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(h.Path(m))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		profiles = append(profiles, h.Path(m))
	}
	if len(profiles) == 0 {
		return nil
	}
	return h.Run(ctx, "aa-enforce", profiles...)
}

func (p *Provisioner) selinux(ctx context.Context, h *host.Session) error {
	if err := h.Install(ctx, "selinux-policy", "selinux-policy-targeted", "policycoreutils"); err != nil {
		return err
	}
	data, err := templates.Render(templates.SELinuxConfig, nil)
	if err != nil {
		return err
	}
	if err := h.WriteFile(selinuxConfig, data, 0644); err != nil {
		return err
	}
	// Fails while SELinux is disabled in the running kernel; the config
	// above takes effect on the next boot.
	h.RunIgnoringFailure(ctx, "setenforce", "1")
	return nil
}

func (p *Provisioner) rootkitScanners(ctx context.Context, h *host.Session) error {
	if err := h.Install(ctx, "rkhunter", "chkrootkit"); err != nil {
		return err
	}
	// rkhunter --update exits non-zero when it downloaded new data files.
	h.RunIgnoringFailure(ctx, "rkhunter", "--update")
	return h.Run(ctx, "rkhunter", "--propupd")
}

func (p *Provisioner) scanSchedule(h *host.Session) error {
	script, err := templates.Render(templates.SecurityScanScript, nil)
	if err != nil {
		return err
	}
	if err := h.WriteFile(scanScriptPath, script, 0755); err != nil {
		return err
	}
	cron, err := templates.Render(templates.SecurityScanCron, nil)
	if err != nil {
		return err
	}
	return h.WriteFile(scanCronPath, cron, 0644)
}
