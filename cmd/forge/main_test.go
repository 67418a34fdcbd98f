package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/precheck"
	"github.com/lyndonlyu/serverforge/internal/rollback"
	"github.com/lyndonlyu/serverforge/internal/statedb"
)

// resetFlags restores every flag variable, since cobra only assigns the
// flags present on the command line.
func resetFlags() {
	configPath, logLevel, rootFlag, baseDirFlag = defaultConfigPath, "error", "", ""
	runDryRun, runSkipPrecheck, runShowMetrics = false, false, false
	rollbackForce, rollbackDryRun = false, false
	runsFormat, runsLimit = "", 10
	initDefaults, initForce = false, false
	reportRaw = false
	doctorFormat = ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

type workspace struct {
	root, base, config string
}

func newWorkspace(t *testing.T, body string) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		root:   filepath.Join(dir, "root"),
		base:   filepath.Join(dir, "base"),
		config: filepath.Join(dir, "forge.yaml"),
	}
	body += "runtime:\n  log_dir: " + filepath.Join(dir, "log") + "\n"
	require.NoError(t, os.MkdirAll(ws.root, 0755))
	require.NoError(t, os.WriteFile(ws.config, []byte(body), 0644))
	return ws
}

func (w workspace) args(cmd ...string) []string {
	return append(cmd, "--config", w.config, "--root", w.root, "--base-dir", w.base)
}

const webConfig = `linux_distro: ubuntu
server_role: web
security_level: basic
monitoring: false
backup_frequency: daily
update_schedule: weekly
deployed_apps: [nginx]
`

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "forge v"+version+"\n", out)
}

func TestValidatePrintsPlan(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	out, err := execute(t, ws.args("validate")...)
	require.NoError(t, err)
	assert.Contains(t, out, "config OK")
	assert.Contains(t, out, "apps=nginx")
	assert.Contains(t, out, "1. setup")
	assert.Contains(t, out, "skipped: monitoring disabled")
	assert.Contains(t, out, "6. deployment")
}

func TestValidateRejectsUnknownDistro(t *testing.T) {
	ws := newWorkspace(t, "linux_distro: arch\n")
	_, err := execute(t, ws.args("validate")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrUnsupported)
}

func TestValidateMissingConfig(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forge init")
}

func TestInitDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "forge.yaml")
	out, err := execute(t, "init", "--defaults", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Ubuntu, cfg.LinuxDistro)

	_, err = execute(t, "init", "--defaults", "--config", path)
	require.Error(t, err)
	_, err = execute(t, "init", "--defaults", "--force", "--config", path)
	require.NoError(t, err)
}

func TestDryRunStagesIntoRoot(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	out, err := execute(t, ws.args("run", "--dry-run")...)
	require.NoError(t, err, out)

	assert.Contains(t, out, "provisioning complete")
	assert.Contains(t, out, "dry run:")
	assert.FileExists(t, filepath.Join(ws.root, "etc", "server_setup_config.json"))
	assert.FileExists(t, filepath.Join(ws.root, "root", "server_setup_report.md"))
	assert.FileExists(t, filepath.Join(ws.root, "etc", "fail2ban", "jail.local"))

	// Dry runs leave no history.
	out, err = execute(t, ws.args("runs", "list")...)
	require.NoError(t, err)
	assert.Equal(t, "No run records.\n", out)
}

func TestStageDryRunRebasesLiveRoot(t *testing.T) {
	cfg := config.Default()
	dir, err := stageDryRun(cfg)
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	assert.Equal(t, dir, cfg.Runtime.Root)
	assert.Equal(t, filepath.Join(dir, config.DefaultBaseDir), cfg.Runtime.BaseDir)
	assert.Equal(t, filepath.Join(dir, "/var/log"), cfg.Runtime.LogDir)

	cfg.Runtime.Root = "/srv/image"
	same, err := stageDryRun(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/srv/image", same)
}

// journalCrashedRun records a run that created one file and then died.
func journalCrashedRun(t *testing.T, ws workspace, status string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(ws.base, 0755))
	db, err := statedb.Open(filepath.Join(ws.base, "forge.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InsertRun(statedb.RunRecord{ID: "run-1", StartedAt: "2026-01-01T00:00:00Z"}))
	m := rollback.New(nil, rollback.WithJournal(db.Journal("run-1")))
	id, err := m.CreateSnapshot("setup")
	require.NoError(t, err)

	created := filepath.Join(ws.root, "etc", "motd")
	require.NoError(t, os.MkdirAll(filepath.Dir(created), 0755))
	require.NoError(t, m.RecordFileChange(id, created))
	require.NoError(t, os.WriteFile(created, []byte("hello\n"), 0644))
	if status != statedb.StatusRunning {
		require.NoError(t, db.FinishRun("run-1", status, "", ""))
	}
	return created
}

func TestRollbackCrashedRun(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	created := journalCrashedRun(t, ws, statedb.StatusRunning)

	out, err := execute(t, ws.args("rollback", "--dry-run")...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 pending undo(s)")
	assert.FileExists(t, created)

	out, err = execute(t, ws.args("rollback")...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 undone")
	assert.NoFileExists(t, created)

	out, err = execute(t, ws.args("rollback", "run-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to undo")

	out, err = execute(t, ws.args("runs", "show", "run-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, statedb.StatusRolledBack)
	assert.Contains(t, out, "[x] remove "+created)
}

func TestDoctorJSONReportsUnfinishedRun(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	journalCrashedRun(t, ws, statedb.StatusRunning)

	out, err := execute(t, ws.args("doctor", "--format", "json")...)
	require.NoError(t, err, out)

	var sections []precheck.Section
	require.NoError(t, json.Unmarshal([]byte(out), &sections), out)
	require.Len(t, sections, 2)

	state := sections[0]
	assert.Equal(t, "Forge state", state.Title)
	require.Len(t, state.Result.Results, 3)
	db := state.Result.Results[1]
	assert.Equal(t, "statedb", db.Name)
	assert.True(t, db.Passed)
	assert.Equal(t, "1 runs, 1 snapshots", db.Message)
	assert.Equal(t, "run run-1 never finished; undo it with 'forge rollback run-1'", db.Hint)
	assert.Equal(t, "FREE", state.Result.Results[2].Message)

	host := sections[1]
	assert.Equal(t, "Host prerequisites", host.Title)
	assert.Equal(t, "pkgmgr", host.Result.Results[0].Name)
	assert.False(t, host.Result.Results[0].Passed, "workspace root has no package manager")
}

func TestDoctorText(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	out, err := execute(t, ws.args("doctor")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Forge state:\n")
	assert.Regexp(t, `ok\s+audit\s+SKIP \(no audit directory\)`, out)
	assert.Regexp(t, `FAIL\s+pkgmgr\s+`, out)
}

func TestRollbackCompletedNeedsForce(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	created := journalCrashedRun(t, ws, statedb.StatusCompleted)

	_, err := execute(t, ws.args("rollback")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
	assert.FileExists(t, created)

	_, err = execute(t, ws.args("rollback", "--force")...)
	require.NoError(t, err)
	assert.NoFileExists(t, created)
}

func TestRollbackUnknownRun(t *testing.T) {
	ws := newWorkspace(t, webConfig)
	journalCrashedRun(t, ws, statedb.StatusRunning)
	_, err := execute(t, ws.args("rollback", "run-404")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such run")
}

func TestRunStatus(t *testing.T) {
	assert.Equal(t, statedb.StatusCompleted, runStatus(phase.Result{State: phase.Done}))
	assert.Equal(t, statedb.StatusRolledBack, runStatus(phase.Result{State: phase.RolledBack}))
	assert.Equal(t, statedb.StatusRollbackFailed, runStatus(phase.Result{State: phase.RollbackFailed}))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	p := retryPolicy(cfg)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, "2s", p.InitDelay.String())
	assert.Equal(t, "30s", p.MaxDelay.String())

	cfg.Runtime.RollbackMode = config.RollbackAbort
	assert.Equal(t, rollback.ModeAbort, rollbackMode(cfg))
}
