package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/executor"
	"github.com/lyndonlyu/serverforge/internal/filelock"
	"github.com/lyndonlyu/serverforge/internal/host"
	"github.com/lyndonlyu/serverforge/internal/logging"
	"github.com/lyndonlyu/serverforge/internal/metrics"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/pkgmgr"
	"github.com/lyndonlyu/serverforge/internal/precheck"
	"github.com/lyndonlyu/serverforge/internal/provision"
	"github.com/lyndonlyu/serverforge/internal/redact"
	"github.com/lyndonlyu/serverforge/internal/report"
	"github.com/lyndonlyu/serverforge/internal/rollback"
	"github.com/lyndonlyu/serverforge/internal/statedb"
)

var (
	runDryRun       bool
	runSkipPrecheck bool
	runShowMetrics  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision the host",
	Long: "Run every phase for the config in order. A failing phase rolls back everything\n" +
		"recorded so far, newest first, and forge exits non-zero.",
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Log commands instead of running them; files are staged in a scratch root")
	runCmd.Flags().BoolVar(&runSkipPrecheck, "skip-precheck", false, "Do not verify root, binaries and package manager first")
	runCmd.Flags().BoolVar(&runShowMetrics, "show-metrics", false, "Print the run metrics when done")
}

// stageDryRun points a dry run provisioning "/" at a scratch tree so the
// files it writes never reach the live system.
func stageDryRun(cfg *config.Config) (string, error) {
	if filepath.Clean(cfg.Runtime.Root) != "/" {
		return cfg.Runtime.Root, nil
	}
	dir, err := os.MkdirTemp("", "forge-dry-run-")
	if err != nil {
		return "", err
	}
	cfg.Runtime.Root = dir
	cfg.Runtime.BaseDir = filepath.Join(dir, cfg.Runtime.BaseDir)
	if cfg.Runtime.LogDir != "" {
		cfg.Runtime.LogDir = filepath.Join(dir, cfg.Runtime.LogDir)
	}
	return dir, nil
}

func runProvision(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runDryRun {
		if _, err := stageDryRun(cfg); err != nil {
			return fmt.Errorf("stage dry run: %w", err)
		}
	}

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create dirs: %w", err)
	}

	start := time.Now()
	runID := uuid.New().String()

	logger, closeLog, err := logging.New(logging.Options{
		Level:   logLevel,
		Console: cmd.ErrOrStderr(),
		File:    cfg.LogPath(start),
	})
	if err != nil {
		return err
	}
	defer closeLog()
	logger = logger.With(zap.String("run_id", runID))

	if !runDryRun && !runSkipPrecheck {
		res := precheck.DefaultRunner(cfg).Run()
		if !res.AllPassed {
			fmt.Fprint(cmd.ErrOrStderr(), precheck.FormatRunResult("Host prerequisites", res))
			return fmt.Errorf("precheck failed: %d check(s)", len(res.Failed()))
		}
	}

	lock, err := filelock.Acquire(cfg.LockPath(), runID)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Runtime.ConfigSnapshot != "" {
		if err := cfg.SaveJSON(hostPath(cfg, cfg.Runtime.ConfigSnapshot)); err != nil {
			return err
		}
	}

	red := redact.New(cfg.Runtime.Redact)
	trail := newAuditTrail(cfg, runID, red, logger)
	m := metrics.New()

	kind, err := pkgmgr.ForDistro(cfg.LinuxDistro)
	if err != nil {
		return err
	}

	var (
		runner executor.Runner
		dry    *executor.DryRun
		rbOpts = []rollback.Option{
			rollback.WithLogger(logger),
			rollback.WithMode(rollbackMode(cfg)),
			rollback.WithObserver(func(ev rollback.UndoEvent) {
				m.ObserveUndo(ev)
				trail.undo(ev)
			}),
		}
		db *statedb.DB
	)
	if runDryRun {
		dry = executor.NewDryRun(logger, red.Func())
		runner = dry
	} else {
		runner = execRunner(cfg, logger, red, func(rec executor.Record) {
			m.ObserveCommand(rec)
			trail.command(rec)
		})

		db, err = statedb.Open(cfg.DBPath())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InsertRun(statedb.RunRecord{
			ID:         runID,
			Distro:     string(cfg.LinuxDistro),
			Role:       string(cfg.ServerRole),
			ConfigPath: configPath,
			StartedAt:  start.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		rbOpts = append(rbOpts, rollback.WithJournal(db.Journal(runID)))
	}

	h := host.New(cfg.Runtime.Root, runner, pkgmgr.New(kind, runner), logger)
	detect := h.Remover()
	if runDryRun {
		// The scratch root has no package manager binary to detect.
		detect = func(context.Context) (rollback.PackageRemover, error) { return pkgmgr.New(kind, runner), nil }
	}
	rb := rollback.New(detect, rbOpts...)

	prov := provision.New(cfg, h,
		provision.WithLogger(logger),
		provision.WithSudoUser(os.Getenv("SUDO_USER")),
	)

	printBanner(out, fmt.Sprintf("forge run %s (%s, %s)", runID, cfg.LinuxDistro, cfg.ServerRole))
	hooks := phase.Hooks{
		OnPhaseStart: func(name string, _ rollback.SnapshotID) {
			trail.setPhase(name)
		},
		OnPhaseEnd: func(o phase.Outcome) {
			m.ObservePhase(o)
			trail.phaseEnd(o.Name, o.Status, o.Duration, o.Err)
			switch o.Status {
			case phase.StatusCompleted:
				printOK(out, o.Name, o.Duration)
			case phase.StatusSkipped:
				printSkip(out, o.Name)
			default:
				printFail(out, o.Name, o.Err)
			}
		},
		OnRollback: func(rep rollback.Report, err error) {
			fmt.Fprintf(out, "rollback %s %d undone, %d failed\n", renderQuality(string(rep.Quality)), rep.Undone, len(rep.Failures))
		},
	}
	res := phase.NewRunner(rb, logger, hooks).Run(ctx, prov.Phases())
	end := time.Now()

	if db != nil {
		errMsg := ""
		if res.Err != nil {
			errMsg = red.Redact(res.Err.Error())
		}
		if err := db.FinishRun(runID, runStatus(res), res.FailedPhase, errMsg); err != nil {
			logger.Warn("record run status", zap.Error(err))
		}
	}

	m.Finish(res, start, end)
	if p := cfg.Runtime.MetricsTextfile; p != "" {
		if err := m.WriteTextfile(hostPath(cfg, p)); err != nil {
			logger.Warn("metrics textfile", zap.Error(err))
		}
	}
	if runShowMetrics {
		if table, err := metrics.FormatHuman(m.Registry()); err == nil {
			fmt.Fprint(out, table)
		}
	}

	if p := cfg.Runtime.ReportPath; p != "" {
		data := report.Render(report.Data{
			RunID:    runID,
			Config:   cfg,
			Started:  start,
			Finished: end,
			Result:   res,
			Facts:    report.CollectFacts(context.Background(), runner),
		})
		if err := report.Write(hostPath(cfg, p), data); err != nil {
			logger.Warn("write report", zap.Error(err))
		} else {
			logger.Info("report written", zap.String("path", hostPath(cfg, p)))
		}
	}

	if dry != nil {
		fmt.Fprintf(out, "dry run: %d command(s) logged, files staged under %s\n", len(dry.Lines()), cfg.Runtime.Root)
	}

	if err := res.Error(); err != nil {
		return err
	}
	fmt.Fprintln(out, styleSuccess.Render("provisioning complete"))
	return nil
}

func runStatus(res phase.Result) string {
	switch res.State {
	case phase.RolledBack:
		return statedb.StatusRolledBack
	case phase.RollbackFailed:
		return statedb.StatusRollbackFailed
	default:
		return statedb.StatusCompleted
	}
}
