package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lyndonlyu/serverforge/internal/redact"
)

type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" json:"max_attempts" validate:"gte=1,lte=10"`
	InitDelaySeconds float64 `yaml:"init_delay_seconds" json:"init_delay_seconds" validate:"gte=0"`
	Multiplier       float64 `yaml:"multiplier" json:"multiplier" validate:"gte=1"`
	MaxDelaySeconds  float64 `yaml:"max_delay_seconds" json:"max_delay_seconds" validate:"gte=0"`
}

type BackupConfig struct {
	Repository   string `yaml:"repository" json:"repository" validate:"required"`
	PasswordFile string `yaml:"password_file" json:"password_file" validate:"required"`
}

// RuntimeConfig holds settings for forge itself rather than the host being provisioned.
type RuntimeConfig struct {
	BaseDir               string        `yaml:"base_dir" json:"base_dir" validate:"required"`
	Root                  string        `yaml:"root" json:"root" validate:"required"`
	LogDir                string        `yaml:"log_dir" json:"log_dir"`
	ConfigSnapshot        string        `yaml:"config_snapshot" json:"config_snapshot"`
	ReportPath            string        `yaml:"report_path" json:"report_path"`
	MetricsTextfile       string        `yaml:"metrics_textfile" json:"metrics_textfile"`
	CommandTimeoutSeconds int           `yaml:"command_timeout_seconds" json:"command_timeout_seconds" validate:"gte=0"`
	RollbackMode          RollbackMode  `yaml:"rollback_mode" json:"rollback_mode" validate:"oneof=best_effort abort"`
	SSHPort               int           `yaml:"ssh_port" json:"ssh_port" validate:"min=1,max=65535"`
	Retry                 RetryConfig   `yaml:"retry" json:"retry"`
	Backup                BackupConfig  `yaml:"backup" json:"backup"`
	Redact                redact.Config `yaml:"redact" json:"redact"`
}

// Config is the declarative description of the host to provision.
type Config struct {
	LinuxDistro         Distro          `yaml:"linux_distro" json:"linux_distro" validate:"required,oneof=ubuntu centos fedora"`
	ServerRole          Role            `yaml:"server_role" json:"server_role" validate:"required,oneof=web database application"`
	SecurityLevel       SecurityLevel   `yaml:"security_level" json:"security_level" validate:"required,oneof=basic intermediate advanced"`
	Monitoring          bool            `yaml:"monitoring" json:"monitoring"`
	BackupFrequency     BackupFrequency `yaml:"backup_frequency" json:"backup_frequency" validate:"required,oneof=hourly daily weekly"`
	DeployedApps        []AppKind       `yaml:"deployed_apps" json:"deployed_apps" validate:"dive,oneof=nginx apache mysql postgresql php nodejs python"`
	CustomFirewallRules []string        `yaml:"custom_firewall_rules" json:"custom_firewall_rules" validate:"dive,required,firewallrule"`
	UpdateSchedule      UpdateSchedule  `yaml:"update_schedule" json:"update_schedule" validate:"required,oneof=daily weekly monthly"`
	UseContainers       bool            `yaml:"use_containers" json:"use_containers"`
	UseKubernetes       bool            `yaml:"use_kubernetes" json:"use_kubernetes"`
	Runtime             RuntimeConfig   `yaml:"runtime" json:"runtime"`
}

const DefaultBaseDir = "/var/lib/serverforge"

func Default() *Config {
	return &Config{
		LinuxDistro:     Ubuntu,
		ServerRole:      RoleWeb,
		SecurityLevel:   SecurityIntermediate,
		Monitoring:      true,
		BackupFrequency: BackupDaily,
		DeployedApps:    []AppKind{AppNginx},
		UpdateSchedule:  UpdateWeekly,
		Runtime:         defaultRuntime(),
	}
}

func defaultRuntime() RuntimeConfig {
	return RuntimeConfig{
		BaseDir:        DefaultBaseDir,
		Root:           "/",
		LogDir:         "/var/log",
		ConfigSnapshot: "/etc/server_setup_config.json",
		ReportPath:     "/root/server_setup_report.md",
		RollbackMode:   RollbackBestEffort,
		SSHPort:        22,
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitDelaySeconds: 2,
			Multiplier:       2.0,
			MaxDelaySeconds:  30,
		},
		Backup: BackupConfig{
			Repository:   "/var/backups/restic",
			PasswordFile: "/root/.restic_password",
		},
		Redact: redact.DefaultConfig(),
	}
}

// Load reads a YAML or JSON (by extension) config file on top of the defaults.
// A missing file yields the defaults. The result is normalized and validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := Decode(path, data, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals data into cfg, choosing JSON for .json paths and YAML otherwise.
func Decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Ensure defaults for zero values
func (c *Config) fillDefaults() {
	d := defaultRuntime()
	r := &c.Runtime
	if r.BaseDir == "" {
		r.BaseDir = d.BaseDir
	}
	if r.Root == "" {
		r.Root = d.Root
	}
	if r.LogDir == "" {
		r.LogDir = d.LogDir
	}
	if r.RollbackMode == "" {
		r.RollbackMode = d.RollbackMode
	}
	if r.SSHPort == 0 {
		r.SSHPort = d.SSHPort
	}
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if r.Retry.Multiplier == 0 {
		r.Retry.Multiplier = d.Retry.Multiplier
	}
	if r.Backup.Repository == "" {
		r.Backup.Repository = d.Backup.Repository
	}
	if r.Backup.PasswordFile == "" {
		r.Backup.PasswordFile = d.Backup.PasswordFile
	}
	if r.Redact.RedactIPs == "" {
		r.Redact.RedactIPs = d.Redact.RedactIPs
	}
	if r.Redact.Placeholder == "" {
		r.Redact.Placeholder = d.Redact.Placeholder
	}
}

// SaveJSON writes the config as indented JSON, creating parent directories.
func (c *Config) SaveJSON(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	return nil
}

// SaveYAML writes the config in the format Load reads by default.
func (c *Config) SaveYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	return nil
}

func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Runtime.BaseDir,
		c.AuditDir(),
	}
	if c.Runtime.LogDir != "" {
		dirs = append(dirs, c.Runtime.LogDir)
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) AuditDir() string { return filepath.Join(c.Runtime.BaseDir, "audit") }

func (c *Config) DBPath() string { return filepath.Join(c.Runtime.BaseDir, "forge.db") }

func (c *Config) LockPath() string { return filepath.Join(c.Runtime.BaseDir, "forge.lock") }

func (c *Config) ManifestDir() string { return filepath.Join(c.Runtime.BaseDir, "manifests") }

// LogPath returns the per-run log file, or "" when file logging is disabled.
func (c *Config) LogPath(start time.Time) string {
	if c.Runtime.LogDir == "" {
		return ""
	}
	return filepath.Join(c.Runtime.LogDir, "server_setup_"+start.Format("20060102_150405")+".log")
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Runtime.CommandTimeoutSeconds) * time.Second
}

// HasApp reports whether kind is among the deployed apps.
func (c *Config) HasApp(kind AppKind) bool {
	for _, a := range c.DeployedApps {
		if a == kind {
			return true
		}
	}
	return false
}
