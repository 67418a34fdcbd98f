package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/templates"
)

const (
	dockerKeyringPath  = "/usr/share/keyrings/docker-archive-keyring.gpg"
	dockerAptListPath  = "/etc/apt/sources.list.d/docker.list"
	dockerDaemonPath   = "/etc/docker/daemon.json"
	kubectlPath        = "/usr/local/bin/kubectl"
	minikubePath       = "/usr/local/bin/minikube"
	kubectlCompletion  = "/etc/bash_completion.d/kubectl"
	kubectlFallback    = "v1.31.0"
	containerPwPattern = "/root/.%s_container_password"
)

var dockerPackages = []string{"docker-ce", "docker-ce-cli", "containerd.io"}

func (p *Provisioner) docker(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	var err error
	switch p.cfg.LinuxDistro {
	case config.Ubuntu:
		err = p.dockerAptRepo(ctx, h)
	case config.CentOS:
		err = p.dockerRPMRepo(ctx, h, "yum-utils", "yum-config-manager", "--add-repo", "https://download.docker.com/linux/centos/docker-ce.repo")
	default:
		err = p.dockerRPMRepo(ctx, h, "dnf-plugins-core", "dnf", "config-manager", "--add-repo", "https://download.docker.com/linux/fedora/docker-ce.repo")
	}
	if err != nil {
		return err
	}
	if err := h.Install(ctx, dockerPackages...); err != nil {
		return err
	}
	if err := h.EnableNow(ctx, "docker"); err != nil {
		return err
	}

	if err := h.Run(ctx, "groupadd", "-f", "docker"); err != nil {
		return err
	}
	if p.sudoUser != "" && p.sudoUser != "root" {
		if err := h.Run(ctx, "usermod", "-aG", "docker", p.sudoUser); err != nil {
			return err
		}
	}

	daemon, err := templates.Render(templates.DockerDaemon, nil)
	if err != nil {
		return err
	}
	if err := h.WriteFile(dockerDaemonPath, daemon, 0644); err != nil {
		return err
	}
	return h.Restart(ctx, "docker")
}

func (p *Provisioner) dockerAptRepo(ctx context.Context, h *host.Session) error {
	if err := h.Refresh(ctx); err != nil {
		return err
	}
	if err := h.Install(ctx, "apt-transport-https", "ca-certificates", "curl", "gnupg", "lsb-release"); err != nil {
		return err
	}

	armored := "/tmp/docker.gpg.asc"
	if err := h.Download(ctx, "https://download.docker.com/linux/ubuntu/gpg", armored, 0644); err != nil {
		return err
	}
	if err := h.Track(dockerKeyringPath); err != nil {
		return err
	}
	if err := h.Run(ctx, "gpg", "--batch", "--yes", "--dearmor", "-o", h.Path(dockerKeyringPath), h.Path(armored)); err != nil {
		return err
	}

	arch, err := h.Output(ctx, "dpkg", "--print-architecture")
	if err != nil {
		return err
	}
	codename, err := h.Output(ctx, "lsb_release", "-cs")
	if err != nil {
		return err
	}
	list, err := templates.Render(templates.DockerAptList, templates.DockerRepo{
		Arch:     orDefault(strings.TrimSpace(string(arch)), "amd64"),
		Codename: orDefault(strings.TrimSpace(string(codename)), "jammy"),
	})
	if err != nil {
		return err
	}
	if err := h.WriteFile(dockerAptListPath, list, 0644); err != nil {
		return err
	}
	return h.Refresh(ctx)
}

// dockerRPMRepo installs the config-manager plugin and adds the Docker repo
// file, which the command writes into /etc/yum.repos.d.
func (p *Provisioner) dockerRPMRepo(ctx context.Context, h *host.Session, plugin, name string, args ...string) error {
	if err := h.Install(ctx, plugin); err != nil {
		return err
	}
	if err := h.Track("/etc/yum.repos.d/docker-ce.repo"); err != nil {
		return err
	}
	return h.Run(ctx, name, args...)
}

func (p *Provisioner) kubernetes(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	out, err := h.Output(ctx, "curl", "-fsSL", "https://dl.k8s.io/release/stable.txt")
	if err != nil {
		return err
	}
	version := orDefault(strings.TrimSpace(string(out)), kubectlFallback)

	kubectlURL := fmt.Sprintf("https://dl.k8s.io/release/%s/bin/linux/amd64/kubectl", version)
	if err := h.Download(ctx, kubectlURL, kubectlPath, 0755); err != nil {
		return err
	}
	if err := h.Download(ctx, "https://storage.googleapis.com/minikube/releases/latest/minikube-linux-amd64", minikubePath, 0755); err != nil {
		return err
	}
	if err := h.Install(ctx, "conntrack"); err != nil {
		return err
	}

	steps := [][]string{
		{"start", "--driver=docker", "--force"},
		{"addons", "enable", "ingress"},
		{"addons", "enable", "dashboard"},
	}
	for _, args := range steps {
		if err := h.Run(ctx, h.Path(minikubePath), args...); err != nil {
			return err
		}
	}

	completion, err := h.Output(ctx, h.Path(kubectlPath), "completion", "bash")
	if err != nil {
		return err
	}
	return h.WriteFile(kubectlCompletion, completion, 0644)
}

func (p *Provisioner) containers(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)

	for _, kind := range p.cfg.DeployedApps {
		app, err := p.apps.Lookup(kind)
		if err != nil {
			return err
		}
		if app.Image == "" {
			return &config.UnsupportedError{Field: "deployed_apps", Value: string(kind)}
		}
		p.logger.Info("deploying container", zap.String("app", string(kind)), zap.String("image", app.Image))

		if p.cfg.UseKubernetes {
			err = p.kubeDeploy(ctx, h, app)
		} else {
			err = p.dockerRun(ctx, h, app)
		}
		if err != nil {
			return fmt.Errorf("container %s: %w", kind, err)
		}
	}
	return nil
}

func (p *Provisioner) kubeDeploy(ctx context.Context, h *host.Session, app App) error {
	name := string(app.Kind)
	manifest, err := templates.Render(templates.KubeDeployment, templates.Deployment{
		Name:     name,
		Image:    app.Image,
		Replicas: 1,
		Port:     app.Port,
	})
	if err != nil {
		return err
	}
	path := filepath.Join(p.cfg.ManifestDir(), name+"-deployment.yaml")
	if err := h.WriteFile(path, manifest, 0644); err != nil {
		return err
	}
	if err := h.Run(ctx, "kubectl", "apply", "-f", h.Path(path)); err != nil {
		return err
	}
	// Fails with AlreadyExists when an earlier run exposed the deployment.
	h.RunIgnoringFailure(ctx, "kubectl", "expose", "deployment", name,
		"--type=LoadBalancer", "--port="+strconv.Itoa(app.Port), "--name="+name)
	return nil
}

func (p *Provisioner) dockerRun(ctx context.Context, h *host.Session, app App) error {
	name := string(app.Kind)
	if err := h.Run(ctx, "docker", "pull", app.Image); err != nil {
		return err
	}
	h.RunIgnoringFailure(ctx, "docker", "stop", name)
	h.RunIgnoringFailure(ctx, "docker", "rm", name)

	port := strconv.Itoa(app.Port)
	args := []string{"run", "-d", "--name", name, "--restart", "unless-stopped", "-p", port + ":" + port}
	if app.ContainerEnv != "" {
		pw, err := p.containerPassword(h, name)
		if err != nil {
			return err
		}
		args = append(args, "-e", app.ContainerEnv+"="+pw)
	}
	args = append(args, app.Image)
	return h.Run(ctx, "docker", args...)
}

// containerPassword reuses the stored password for name or generates one.
func (p *Provisioner) containerPassword(h *host.Session, name string) (string, error) {
	path := fmt.Sprintf(containerPwPattern, name)
	if h.Exists(path) {
		data, err := h.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	pw, err := p.secrets(passwordLength)
	if err != nil {
		return "", err
	}
	if err := h.WriteFile(path, []byte(pw+"\n"), 0600); err != nil {
		return "", err
	}
	return pw, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
