package provision

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/templates"
)

const (
	prometheusVersion   = "2.53.2"
	nodeExporterVersion = "1.8.2"
	releaseArch         = "linux-amd64"

	prometheusConfigPath = "/etc/prometheus/prometheus.yml"
	prometheusUnitPath   = "/etc/systemd/system/prometheus.service"
	nodeExporterUnitPath = "/etc/systemd/system/node_exporter.service"
	grafanaKeyPath       = "/usr/share/keyrings/grafana.asc"
	grafanaAptListPath   = "/etc/apt/sources.list.d/grafana.list"
	grafanaYumRepoPath   = "/etc/yum.repos.d/grafana.repo"
)

func (p *Provisioner) monitoring(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	var err error
	if p.debian() {
		err = h.Install(ctx, "prometheus", "prometheus-node-exporter")
	} else {
		err = p.prometheusRelease(ctx, h)
	}
	if err != nil {
		return err
	}

	cfg, err := templates.Render(templates.PrometheusConfig, nil)
	if err != nil {
		return err
	}
	if err := h.WriteFile(prometheusConfigPath, cfg, 0644); err != nil {
		return err
	}
	if err := h.EnableNow(ctx, "prometheus"); err != nil {
		return err
	}
	if err := h.Restart(ctx, "prometheus"); err != nil {
		return err
	}

	if err := p.grafana(ctx, h); err != nil {
		return err
	}
	return p.nodeExporter(ctx, h)
}

// prometheusRelease installs the upstream release tarball, for distros
// without a packaged Prometheus.
func (p *Provisioner) prometheusRelease(ctx context.Context, h *host.Session) error {
	name := fmt.Sprintf("prometheus-%s.%s", prometheusVersion, releaseArch)
	url := fmt.Sprintf("https://github.com/prometheus/prometheus/releases/download/v%s/%s.tar.gz", prometheusVersion, name)
	if err := p.installRelease(ctx, h, url, name, "prometheus", "promtool"); err != nil {
		return err
	}

	h.RunIgnoringFailure(ctx, "useradd", "--no-create-home", "--shell", "/bin/false", "prometheus")
	dirs := []string{h.Path("/etc/prometheus"), h.Path("/var/lib/prometheus")}
	if err := h.Run(ctx, "mkdir", append([]string{"-p"}, dirs...)...); err != nil {
		return err
	}
	if err := h.Run(ctx, "chown", append([]string{"-R", "prometheus:prometheus"}, dirs...)...); err != nil {
		return err
	}

	unit, err := templates.Render(templates.PrometheusUnit, nil)
	if err != nil {
		return err
	}
	if err := h.WriteFile(prometheusUnitPath, unit, 0644); err != nil {
		return err
	}
	return h.DaemonReload(ctx)
}

func (p *Provisioner) grafana(ctx context.Context, h *host.Session) error {
	if p.debian() {
		if err := h.Install(ctx, "apt-transport-https", "software-properties-common"); err != nil {
			return err
		}
		if err := h.Download(ctx, "https://apt.grafana.com/gpg.key", grafanaKeyPath, 0644); err != nil {
			return err
		}
		list, err := templates.Render(templates.GrafanaAptList, nil)
		if err != nil {
			return err
		}
		if err := h.WriteFile(grafanaAptListPath, list, 0644); err != nil {
			return err
		}
		if err := h.Refresh(ctx); err != nil {
			return err
		}
	} else {
		repo, err := templates.Render(templates.GrafanaYumRepo, nil)
		if err != nil {
			return err
		}
		if err := h.WriteFile(grafanaYumRepoPath, repo, 0644); err != nil {
			return err
		}
	}

	if err := h.Install(ctx, "grafana"); err != nil {
		return err
	}
	return h.EnableNow(ctx, "grafana-server")
}

func (p *Provisioner) nodeExporter(ctx context.Context, h *host.Session) error {
	if p.debian() {
		// Installed alongside prometheus.
		return h.EnableNow(ctx, "prometheus-node-exporter")
	}

	name := fmt.Sprintf("node_exporter-%s.%s", nodeExporterVersion, releaseArch)
	url := fmt.Sprintf("https://github.com/prometheus/node_exporter/releases/download/v%s/%s.tar.gz", nodeExporterVersion, name)
	if err := p.installRelease(ctx, h, url, name, "node_exporter"); err != nil {
		return err
	}
	h.RunIgnoringFailure(ctx, "useradd", "--no-create-home", "--shell", "/bin/false", "node_exporter")

	var data templates.NodeExporter
	if tf := p.cfg.Runtime.MetricsTextfile; tf != "" {
		data.TextfileDir = filepath.Dir(tf)
	}
	unit, err := templates.Render(templates.NodeExporterUnit, data)
	if err != nil {
		return err
	}
	if err := h.WriteFile(nodeExporterUnitPath, unit, 0644); err != nil {
		return err
	}
	if err := h.DaemonReload(ctx); err != nil {
		return err
	}
	return h.EnableNow(ctx, "node_exporter")
}

// installRelease downloads a release tarball to /tmp, unpacks it and installs
// the named binaries into /usr/local/bin, recording each one first.
func (p *Provisioner) installRelease(ctx context.Context, h *host.Session, url, name string, bins ...string) error {
	tarball := "/tmp/" + name + ".tar.gz"
	if err := h.Download(ctx, url, tarball, 0644); err != nil {
		return err
	}
	if err := h.Run(ctx, "tar", "xzf", h.Path(tarball), "-C", h.Path("/tmp")); err != nil {
		return err
	}
	for _, b := range bins {
		dest := "/usr/local/bin/" + b
		if err := h.Track(dest); err != nil {
			return err
		}
		if err := h.Run(ctx, "install", "-m", "0755", h.Path("/tmp/"+name+"/"+b), h.Path(dest)); err != nil {
			return err
		}
	}
	return nil
}
