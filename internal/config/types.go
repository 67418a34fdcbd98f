package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is matched by every *UnsupportedError.
var ErrUnsupported = errors.New("config: unsupported value")

// UnsupportedError reports a config value that has no handling branch.
type UnsupportedError struct {
	Field string
	Value string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("config: unsupported %s %q", e.Field, e.Value)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

type Distro string

const (
	Ubuntu Distro = "ubuntu"
	CentOS Distro = "centos"
	Fedora Distro = "fedora"
)

var distros = []Distro{Ubuntu, CentOS, Fedora}

func ParseDistro(s string) (Distro, error) {
	return parseEnum("linux_distro", s, distros)
}

type Role string

const (
	RoleWeb         Role = "web"
	RoleDatabase    Role = "database"
	RoleApplication Role = "application"
)

var roles = []Role{RoleWeb, RoleDatabase, RoleApplication}

func ParseRole(s string) (Role, error) {
	return parseEnum("server_role", s, roles)
}

type SecurityLevel string

const (
	SecurityBasic        SecurityLevel = "basic"
	SecurityIntermediate SecurityLevel = "intermediate"
	SecurityAdvanced     SecurityLevel = "advanced"
)

var securityLevels = []SecurityLevel{SecurityBasic, SecurityIntermediate, SecurityAdvanced}

func ParseSecurityLevel(s string) (SecurityLevel, error) {
	return parseEnum("security_level", s, securityLevels)
}

type BackupFrequency string

const (
	BackupHourly BackupFrequency = "hourly"
	BackupDaily  BackupFrequency = "daily"
	BackupWeekly BackupFrequency = "weekly"
)

var backupFrequencies = []BackupFrequency{BackupHourly, BackupDaily, BackupWeekly}

func ParseBackupFrequency(s string) (BackupFrequency, error) {
	return parseEnum("backup_frequency", s, backupFrequencies)
}

// CronSchedule returns the cron expression the backup job runs on.
func (f BackupFrequency) CronSchedule() string {
	switch f {
	case BackupHourly:
		return "0 * * * *"
	case BackupWeekly:
		return "0 2 * * 0"
	default:
		return "0 2 * * *"
	}
}

type UpdateSchedule string

const (
	UpdateDaily   UpdateSchedule = "daily"
	UpdateWeekly  UpdateSchedule = "weekly"
	UpdateMonthly UpdateSchedule = "monthly"
)

var updateSchedules = []UpdateSchedule{UpdateDaily, UpdateWeekly, UpdateMonthly}

func ParseUpdateSchedule(s string) (UpdateSchedule, error) {
	return parseEnum("update_schedule", s, updateSchedules)
}

// IntervalDays is the APT::Periodic interval for the schedule.
func (u UpdateSchedule) IntervalDays() int {
	switch u {
	case UpdateWeekly:
		return 7
	case UpdateMonthly:
		return 30
	default:
		return 1
	}
}

// AppKind names a deployable application.
type AppKind string

const (
	AppNginx      AppKind = "nginx"
	AppApache     AppKind = "apache"
	AppMySQL      AppKind = "mysql"
	AppPostgreSQL AppKind = "postgresql"
	AppPHP        AppKind = "php"
	AppNodeJS     AppKind = "nodejs"
	AppPython     AppKind = "python"
)

var appKinds = []AppKind{AppNginx, AppApache, AppMySQL, AppPostgreSQL, AppPHP, AppNodeJS, AppPython}

func ParseAppKind(s string) (AppKind, error) {
	return parseEnum("deployed_apps", s, appKinds)
}

// AppKinds lists every known application in registry order.
func AppKinds() []AppKind {
	return append([]AppKind(nil), appKinds...)
}

type RollbackMode string

const (
	RollbackBestEffort RollbackMode = "best_effort"
	RollbackAbort      RollbackMode = "abort"
)

var rollbackModes = []RollbackMode{RollbackBestEffort, RollbackAbort}

func ParseRollbackMode(s string) (RollbackMode, error) {
	return parseEnum("runtime.rollback_mode", s, rollbackModes)
}

func parseEnum[T ~string](field, s string, allowed []T) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range allowed {
		if a == v {
			return a, nil
		}
	}
	var zero T
	return zero, &UnsupportedError{Field: field, Value: s}
}

// Options returns the allowed values of an enum as plain strings, in declaration order.
func Options[T ~string](allowed []T) []string {
	out := make([]string, len(allowed))
	for i, a := range allowed {
		out[i] = string(a)
	}
	return out
}

func Distros() []Distro                    { return append([]Distro(nil), distros...) }
func Roles() []Role                        { return append([]Role(nil), roles...) }
func SecurityLevels() []SecurityLevel      { return append([]SecurityLevel(nil), securityLevels...) }
func BackupFrequencies() []BackupFrequency { return append([]BackupFrequency(nil), backupFrequencies...) }
func UpdateSchedules() []UpdateSchedule    { return append([]UpdateSchedule(nil), updateSchedules...) }
