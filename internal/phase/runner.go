// Package phase runs provisioning phases in order, one rollback snapshot per
// phase, and unwinds everything on the first failure.
package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/rollback"
)

// Scope is handed to a phase body: the snapshot it must record its effects into.
type Scope struct {
	ID       rollback.SnapshotID
	Phase    string
	Rollback *rollback.Manager
}

func (s *Scope) RecordFileChange(path string) error {
	return s.Rollback.RecordFileChange(s.ID, path)
}

func (s *Scope) RecordPackageInstalled(name string) error {
	return s.Rollback.RecordPackageInstalled(s.ID, name)
}

func (s *Scope) RecordMkdirAll(dir string) error {
	return s.Rollback.RecordMkdirAll(s.ID, dir)
}

func (s *Scope) RecordTreeCreated(dir string) error {
	return s.Rollback.RecordTreeCreated(s.ID, dir)
}

type Body func(ctx context.Context, s *Scope) error

type Phase struct {
	Name string
	Run  Body
	// SkipReason, when non-empty, skips the phase without creating a snapshot.
	SkipReason string
}

type State string

const (
	NotStarted     State = "NOT_STARTED"
	Running        State = "RUNNING"
	Done           State = "DONE"
	RolledBack     State = "ROLLED_BACK"
	RollbackFailed State = "ROLLBACK_FAILED"
)

// PhaseError attributes a run failure to the phase that caused it.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Outcome describes one phase that was reached.
type Outcome struct {
	Name     string
	Status   string // "completed", "failed", "skipped"
	Snapshot rollback.SnapshotID
	Duration time.Duration
	Err      error
}

type Result struct {
	State       State
	Phases      []Outcome
	FailedPhase string
	Err         error
	Rollback    *rollback.Report
	RollbackErr error
}

// Completed lists the phases that finished successfully.
func (r Result) Completed() []string {
	var out []string
	for _, o := range r.Phases {
		if o.Status == StatusCompleted {
			out = append(out, o.Name)
		}
	}
	return out
}

// Error returns nil for a successful run, otherwise a *PhaseError joined with
// any rollback failure.
func (r Result) Error() error {
	if r.State == Done {
		return nil
	}
	perr := &PhaseError{Phase: r.FailedPhase, Err: r.Err}
	if r.RollbackErr != nil {
		return errors.Join(perr, r.RollbackErr)
	}
	return perr
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Hooks observe the run; every field is optional.
type Hooks struct {
	OnPhaseStart func(name string, id rollback.SnapshotID)
	OnPhaseEnd   func(o Outcome)
	OnRollback   func(rep rollback.Report, err error)
}

type Runner struct {
	rb     *rollback.Manager
	logger *zap.Logger
	hooks  Hooks
	// rollbackTimeout bounds the rollback pass, which runs on a fresh context
	// so a cancelled run still unwinds.
	rollbackTimeout time.Duration
}

func NewRunner(rb *rollback.Manager, logger *zap.Logger, hooks Hooks) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{rb: rb, logger: logger, hooks: hooks, rollbackTimeout: 30 * time.Minute}
}

// Run executes phases in order. The first failure (including cancellation of
// ctx between phases) stops the run and rolls back every snapshot.
func (r *Runner) Run(ctx context.Context, phases []Phase) Result {
	res := Result{State: NotStarted}

	for _, p := range phases {
		if p.SkipReason != "" {
			r.logger.Info("phase skipped", zap.String("phase", p.Name), zap.String("reason", p.SkipReason))
			o := Outcome{Name: p.Name, Status: StatusSkipped, Snapshot: -1}
			res.Phases = append(res.Phases, o)
			r.phaseEnd(o)
			continue
		}

		res.State = Running
		if err := ctx.Err(); err != nil {
			return r.fail(res, Outcome{Name: p.Name, Status: StatusFailed, Snapshot: -1, Err: fmt.Errorf("cancelled: %w", err)})
		}

		id, err := r.rb.CreateSnapshot(p.Name)
		if err != nil {
			return r.fail(res, Outcome{Name: p.Name, Status: StatusFailed, Snapshot: id, Err: err})
		}

		r.logger.Info("phase started", zap.String("phase", p.Name), zap.Int("snapshot", int(id)))
		if r.hooks.OnPhaseStart != nil {
			r.hooks.OnPhaseStart(p.Name, id)
		}

		start := time.Now()
		err = p.Run(ctx, &Scope{ID: id, Phase: p.Name, Rollback: r.rb})
		if err == nil {
			err = r.rb.CommitSnapshot(id)
		}
		o := Outcome{Name: p.Name, Snapshot: id, Duration: time.Since(start)}
		if err != nil {
			o.Status, o.Err = StatusFailed, err
			return r.fail(res, o)
		}

		o.Status = StatusCompleted
		res.Phases = append(res.Phases, o)
		r.logger.Info("phase completed", zap.String("phase", p.Name), zap.Duration("duration", o.Duration))
		r.phaseEnd(o)
	}

	res.State = Done
	return res
}

func (r *Runner) fail(res Result, o Outcome) Result {
	res.Phases = append(res.Phases, o)
	res.FailedPhase = o.Name
	res.Err = o.Err
	r.logger.Error("phase failed, rolling back", zap.String("phase", o.Name), zap.Error(o.Err))
	r.phaseEnd(o)

	ctx, cancel := context.WithTimeout(context.Background(), r.rollbackTimeout)
	defer cancel()

	rep, err := r.rb.RollbackAll(ctx)
	res.Rollback = &rep
	res.RollbackErr = err
	if err != nil {
		res.State = RollbackFailed
		r.logger.Error("rollback incomplete", zap.String("quality", string(rep.Quality)), zap.Error(err))
	} else {
		res.State = RolledBack
		r.logger.Info("rollback complete", zap.Int("undone", rep.Undone))
	}
	if r.hooks.OnRollback != nil {
		r.hooks.OnRollback(rep, err)
	}
	return res
}

func (r *Runner) phaseEnd(o Outcome) {
	if r.hooks.OnPhaseEnd != nil {
		r.hooks.OnPhaseEnd(o)
	}
}
