package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/serverforge/internal/audit"
	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/filelock"
	"github.com/lyndonlyu/serverforge/internal/precheck"
	"github.com/lyndonlyu/serverforge/internal/statedb"
)

var doctorFormat string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify forge's own state and the host prerequisites",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorFormat, "format", "", "Output format (json)")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadState()
	if err != nil {
		return err
	}

	sections := []precheck.Section{
		{Title: "Forge state", Result: stateRunner(cfg).Run()},
		{Title: "Host prerequisites", Result: precheck.DefaultRunner(cfg).Run()},
	}

	if doctorFormat == "json" {
		s, err := precheck.FormatSectionsJSON(sections...)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}

	fmt.Fprintln(out, "Forge Doctor")
	fmt.Fprintln(out, "============")
	for _, s := range sections {
		fmt.Fprintln(out)
		fmt.Fprint(out, precheck.FormatRunResult(s.Title, s.Result))
	}
	return nil
}

func stateRunner(cfg *config.Config) *precheck.Runner {
	r := precheck.NewRunner()
	r.Add(auditChainCheck{dir: cfg.AuditDir()})
	r.Add(stateDBCheck{path: cfg.DBPath()})
	r.Add(lockCheck{path: cfg.LockPath()})
	return r
}

type auditChainCheck struct{ dir string }

func (c auditChainCheck) Name() string { return "audit" }

func (c auditChainCheck) Run() precheck.CheckResult {
	res := precheck.CheckResult{Name: c.Name()}
	if _, err := os.Stat(c.dir); err != nil {
		res.Passed, res.Message = true, "SKIP (no audit directory)"
		return res
	}
	logger, err := audit.NewLogger(c.dir)
	if err != nil {
		res.Message = "ERROR: " + err.Error()
		return res
	}
	valid, brokenAt, err := logger.Verify()
	switch {
	case err != nil:
		res.Message = "ERROR: " + err.Error()
	case valid:
		res.Passed, res.Message = true, "hash chain OK"
	default:
		res.Message = fmt.Sprintf("BROKEN at record #%d", brokenAt)
		res.Hint = "the audit log may have been tampered with"
	}
	return res
}

type stateDBCheck struct{ path string }

func (c stateDBCheck) Name() string { return "statedb" }

func (c stateDBCheck) Run() precheck.CheckResult {
	res := precheck.CheckResult{Name: c.Name()}
	if _, err := os.Stat(c.path); err != nil {
		res.Passed, res.Message = true, "SKIP (no runs yet)"
		return res
	}
	db, err := statedb.Open(c.path)
	if err != nil {
		res.Message = "ERROR: " + err.Error()
		return res
	}
	defer db.Close()

	runs, snapshots, err := db.Counts()
	if err != nil {
		res.Message = "ERROR: " + err.Error()
		return res
	}
	res.Passed, res.Message = true, fmt.Sprintf("%d runs, %d snapshots", runs, snapshots)
	if last, err := db.LastRun(); err == nil && last.Status == statedb.StatusRunning {
		res.Hint = fmt.Sprintf("run %s never finished; undo it with 'forge rollback %s'", last.ID, last.ID)
	}
	return res
}

type lockCheck struct{ path string }

func (c lockCheck) Name() string { return "lock" }

func (c lockCheck) Run() precheck.CheckResult {
	res := precheck.CheckResult{Name: c.Name(), Passed: true}
	meta, err := filelock.ReadMeta(c.path)
	switch {
	case err != nil:
		res.Message = "FREE"
	case filelock.IsStale(c.path):
		res.Passed = false
		res.Message = fmt.Sprintf("STALE (PID %d no longer running)", meta.PID)
		res.Hint = "the next run takes the lock over"
	default:
		res.Message = fmt.Sprintf("held by PID %d since %s", meta.PID, meta.Timestamp)
	}
	return res
}
