package provision

import (
	"context"
	"fmt"
	"path"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/templates"
)

const (
	backupScriptPath = "/usr/local/bin/run-backup.sh"
	backupCronPath   = "/etc/cron.d/restic-backup"
	passwordLength   = 20
)

// BackupPaths returns the directories backed up for a server role.
func BackupPaths(role config.Role) []string {
	switch role {
	case config.RoleDatabase:
		return []string{"/var/lib/mysql", "/var/lib/postgresql"}
	case config.RoleApplication:
		return []string{"/opt/myapp", "/etc/myapp"}
	default:
		return []string{"/var/www", "/etc/nginx", "/etc/apache2"}
	}
}

func (p *Provisioner) backup(ctx context.Context, s *phase.Scope) error {
	h := p.session(s)
	bc := p.cfg.Runtime.Backup

	if err := h.Install(ctx, "restic"); err != nil {
		return err
	}

	repoExists := h.Exists(path.Join(bc.Repository, "config"))
	if repoExists && !h.Exists(bc.PasswordFile) {
		return fmt.Errorf("backup: restic repository %s exists but its password file %s is missing", bc.Repository, bc.PasswordFile)
	}

	if !h.Exists(bc.PasswordFile) {
		pw, err := p.secrets(32)
		if err != nil {
			return err
		}
		if err := h.WriteFile(bc.PasswordFile, []byte(pw+"\n"), 0600); err != nil {
			return err
		}
	}
	if !repoExists {
		if err := h.MkdirAll(path.Dir(bc.Repository)); err != nil {
			return err
		}
		if err := h.TrackTree(bc.Repository); err != nil {
			return err
		}
		if err := h.Run(ctx, "restic", "init", "--repo", h.Path(bc.Repository), "--password-file", h.Path(bc.PasswordFile)); err != nil {
			return err
		}
	}

	script, err := templates.Render(templates.BackupScript, templates.Backup{
		Repository:   bc.Repository,
		PasswordFile: bc.PasswordFile,
		Paths:        BackupPaths(p.cfg.ServerRole),
	})
	if err != nil {
		return err
	}
	if err := h.WriteFile(backupScriptPath, script, 0755); err != nil {
		return err
	}

	cron, err := templates.Render(templates.BackupCron, templates.Cron{Schedule: p.cfg.BackupFrequency.CronSchedule()})
	if err != nil {
		return err
	}
	return h.WriteFile(backupCronPath, cron, 0644)
}
