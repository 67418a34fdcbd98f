package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/filelock"
	"github.com/lyndonlyu/serverforge/internal/logging"
	"github.com/lyndonlyu/serverforge/internal/pkgmgr"
	"github.com/lyndonlyu/serverforge/internal/redact"
	"github.com/lyndonlyu/serverforge/internal/rollback"
	"github.com/lyndonlyu/serverforge/internal/statedb"
)

var (
	rollbackForce  bool
	rollbackDryRun bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [run-id]",
	Short: "Undo a journalled run",
	Long: "Replay the rollback journal of a run (the last one by default) newest first.\n" +
		"Use it after a crash, or to undo a completed run with --force.",
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackForce, "force", false, "Allow undoing a run that completed")
	rollbackCmd.Flags().BoolVar(&rollbackDryRun, "dry-run", false, "List the pending undos without applying them")
}

func runRollback(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadState()
	if err != nil {
		return err
	}

	db, err := statedb.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	var run statedb.RunRecord
	if len(args) == 1 {
		run, err = db.GetRun(args[0])
	} else {
		run, err = db.LastRun()
	}
	if errors.Is(err, statedb.ErrNotFound) {
		return fmt.Errorf("no such run")
	}
	if err != nil {
		return err
	}

	infos, err := db.LoadSnapshots(run.ID)
	if err != nil {
		return err
	}
	pending := 0
	for _, s := range infos {
		pending += s.Pending()
	}
	if pending == 0 {
		fmt.Fprintf(out, "run %s: nothing to undo\n", run.ID)
		return nil
	}
	if rollbackDryRun {
		fmt.Fprintf(out, "run %s (%s): %d pending undo(s)\n", run.ID, run.Status, pending)
		fmt.Fprint(out, statedb.FormatSnapshots(infos))
		return nil
	}
	if run.Status == statedb.StatusCompleted && !rollbackForce {
		return fmt.Errorf("run %s completed; pass --force to undo it", run.ID)
	}

	lock, err := filelock.Acquire(cfg.LockPath(), run.ID)
	if err != nil {
		return err
	}
	defer lock.Release()

	logger, closeLog, err := logging.New(logging.Options{
		Level:   logLevel,
		Console: cmd.ErrOrStderr(),
		File:    cfg.LogPath(time.Now()),
	})
	if err != nil {
		return err
	}
	defer closeLog()
	logger = logger.With(zap.String("run_id", run.ID))

	red := redact.New(cfg.Runtime.Redact)
	trail := newAuditTrail(cfg, run.ID, red, logger)
	runner := execRunner(cfg, logger, red, trail.command)
	remover := pkgmgr.Remover{Root: cfg.Runtime.Root, Runner: runner}

	m, err := rollback.Restore(infos,
		func(ctx context.Context) (rollback.PackageRemover, error) { return remover.Detect(ctx) },
		rollback.WithJournal(db.Journal(run.ID)),
		rollback.WithLogger(logger),
		rollback.WithMode(rollbackMode(cfg)),
		rollback.WithObserver(trail.undo),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(out, fmt.Sprintf("forge rollback %s", run.ID))
	rep, rbErr := m.RollbackAll(ctx)
	fmt.Fprintf(out, "rollback %s %d undone, %d skipped, %d failed\n",
		renderQuality(string(rep.Quality)), rep.Undone, rep.Skipped, len(rep.Failures))

	status := statedb.StatusRolledBack
	if rbErr != nil {
		status = statedb.StatusRollbackFailed
	}
	if err := db.FinishRun(run.ID, status, run.FailedPhase, run.Error); err != nil {
		logger.Warn("record run status", zap.Error(err))
	}
	return rbErr
}
