package provision

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
)

const sshdConfig = "/etc/ssh/sshd_config"

var commonPackages = []string{"curl", "wget", "vim"}

func essentialPackages(d config.Distro) []string {
	switch d {
	case config.Ubuntu:
		return slices.Concat(commonPackages, []string{"ufw", "fail2ban", "apt-listchanges", "needrestart", "debsums", "apt-show-versions"})
	case config.CentOS:
		return slices.Concat([]string{"epel-release"}, commonPackages, []string{"firewalld", "fail2ban"})
	default:
		return slices.Concat(commonPackages, []string{"firewalld", "fail2ban"})
	}
}

func (p *Provisioner) setup(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	if err := h.Update(ctx); err != nil {
		return err
	}
	if err := h.Install(ctx, essentialPackages(p.cfg.LinuxDistro)...); err != nil {
		return err
	}
	if err := p.firewall(ctx, h); err != nil {
		return err
	}
	return p.hardenSSH(ctx, h)
}

func (p *Provisioner) firewall(ctx context.Context, h *host.Session) error {
	port := p.cfg.Runtime.SSHPort
	if p.debian() {
		cmds := [][]string{
			{"default", "deny", "incoming"},
			{"default", "allow", "outgoing"},
		}
		if port == 22 {
			cmds = append(cmds, []string{"allow", "OpenSSH"})
		} else {
			cmds = append(cmds, []string{"allow", strconv.Itoa(port) + "/tcp"})
		}
		for _, r := range p.cfg.CustomFirewallRules {
			cmds = append(cmds, []string{"allow", r})
		}
		cmds = append(cmds, []string{"--force", "enable"})
		for _, c := range cmds {
			if err := h.Run(ctx, "ufw", c...); err != nil {
				return fmt.Errorf("firewall: %w", err)
			}
		}
		return nil
	}

	if err := h.EnableNow(ctx, "firewalld"); err != nil {
		return err
	}
	rules := make([]string, 0, len(p.cfg.CustomFirewallRules)+2)
	if port == 22 {
		rules = append(rules, "--add-service=ssh")
	} else {
		rules = append(rules, "--add-port="+strconv.Itoa(port)+"/tcp")
	}
	for _, r := range p.cfg.CustomFirewallRules {
		rule, err := config.ParseFirewallRule(r)
		if err != nil {
			return fmt.Errorf("firewall: rule %q: %w", r, err)
		}
		rules = append(rules, rule.FirewalldArgs()...)
	}
	for _, r := range rules {
		if err := h.Run(ctx, "firewall-cmd", "--permanent", "--zone=public", r); err != nil {
			return fmt.Errorf("firewall: %w", err)
		}
	}
	if err := h.Run(ctx, "firewall-cmd", "--reload"); err != nil {
		return fmt.Errorf("firewall: %w", err)
	}
	return nil
}

func (p *Provisioner) hardenSSH(ctx context.Context, h *host.Session) error {
	if !h.Exists(sshdConfig) {
		p.logger.Warn("sshd_config not found, skipping ssh hardening", zap.String("path", sshdConfig))
		return nil
	}

	settings := [][2]string{
		{"PermitRootLogin", "no"},
		{"PasswordAuthentication", "no"},
	}
	if port := p.cfg.Runtime.SSHPort; port != 22 {
		settings = append(settings, [2]string{"Port", strconv.Itoa(port)})
	}
	err := h.EditFile(sshdConfig, func(content string) string {
		for _, kv := range settings {
			content = setDirective(content, kv[0], kv[1])
		}
		return content
	})
	if err != nil {
		return err
	}
	return h.Restart(ctx, p.sshService())
}

func (p *Provisioner) sshService() string {
	if p.debian() {
		return "ssh"
	}
	return "sshd"
}

// setDirective sets "key value" in an sshd-style file, uncommenting an
// existing line or appending one.
func setDirective(content, key, value string) string {
	re := regexp.MustCompile(`(?m)^#?[ \t]*` + regexp.QuoteMeta(key) + `[ \t]+.*$`)
	line := key + " " + value
	if loc := re.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + line + content[loc[1]:]
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + line + "\n"
}
