// Package templates renders the configuration files the provisioning phases install.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed files/*.tmpl
var files embed.FS

var set = template.Must(template.New("").Option("missingkey=error").ParseFS(files, "files/*.tmpl"))

const (
	JailLocal          = "jail.local.tmpl"
	SecurityScanScript = "security_scan.sh.tmpl"
	SecurityScanCron   = "security_scan.cron.tmpl"
	UnattendedUpgrades = "50unattended-upgrades.tmpl"
	AutoUpgrades       = "20auto-upgrades.tmpl"
	PrometheusConfig   = "prometheus.yml.tmpl"
	PrometheusUnit     = "prometheus.service.tmpl"
	NodeExporterUnit   = "node_exporter.service.tmpl"
	GrafanaAptList     = "grafana.list.tmpl"
	GrafanaYumRepo     = "grafana.repo.tmpl"
	BackupScript       = "run-backup.sh.tmpl"
	BackupCron         = "restic-backup.cron.tmpl"
	NginxSite          = "nginx-site.conf.tmpl"
	ApacheSite         = "apache-site.conf.tmpl"
	SamplePHP          = "index.php.tmpl"
	SampleNode         = "app.js.tmpl"
	SamplePython       = "app.py.tmpl"
	DockerDaemon       = "docker-daemon.json.tmpl"
	DockerAptList      = "docker.list.tmpl"
	KubeDeployment     = "deployment.yaml.tmpl"
	SELinuxConfig      = "selinux.config.tmpl"
)

type Jail struct {
	SSHPort string // "ssh" or a port number
	LogPath string
}

type AutoUpgradesData struct {
	Interval int
}

type NodeExporter struct {
	TextfileDir string
}

type Backup struct {
	Repository   string
	PasswordFile string
	Paths        []string
}

type Cron struct {
	Schedule string
}

type Site struct {
	DocumentRoot string
	LogDir       string
	PHP          bool
}

type DockerRepo struct {
	Arch     string
	Codename string
}

type Deployment struct {
	Name     string
	Image    string
	Replicas int
	Port     int
}

// Render executes the named template with data. Templates without
// placeholders accept nil.
func Render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("templates: render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Names lists every embedded template.
func Names() []string {
	var out []string
	for _, t := range set.Templates() {
		if t.Name() != "" {
			out = append(out, t.Name())
		}
	}
	return out
}
