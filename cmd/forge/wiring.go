package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/audit"
	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/executor"
	"github.com/lyndonlyu/serverforge/internal/redact"
	"github.com/lyndonlyu/serverforge/internal/retry"
	"github.com/lyndonlyu/serverforge/internal/rollback"
)

func retryPolicy(cfg *config.Config) retry.Policy {
	r := cfg.Runtime.Retry
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		InitDelay:   seconds(r.InitDelaySeconds),
		Multiplier:  r.Multiplier,
		MaxDelay:    seconds(r.MaxDelaySeconds),
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func rollbackMode(cfg *config.Config) rollback.Mode {
	if cfg.Runtime.RollbackMode == config.RollbackAbort {
		return rollback.ModeAbort
	}
	return rollback.ModeBestEffort
}

// execRunner builds the live command runner: os/exec with the configured
// timeout, redacted logging and observer, wrapped in the retry policy.
func execRunner(cfg *config.Config, logger *zap.Logger, red *redact.Redactor, observe func(executor.Record)) executor.Runner {
	base := executor.NewExec(executor.Options{
		Timeout:  cfg.CommandTimeout(),
		Logger:   logger,
		Redact:   red.Func(),
		Observer: observe,
	})
	return executor.NewRetrying(base, retryPolicy(cfg), logger)
}

// auditTrail logs commands and undos of one run to the hash-chained audit log.
// A nil trail drops everything.
type auditTrail struct {
	log    *audit.Logger
	runID  string
	phase  string
	logger *zap.Logger
}

func newAuditTrail(cfg *config.Config, runID string, red *redact.Redactor, logger *zap.Logger) *auditTrail {
	l, err := audit.NewLogger(cfg.AuditDir())
	if err != nil {
		logger.Warn("audit log unavailable", zap.Error(err))
		return nil
	}
	l.SetRedactor(red)
	return &auditTrail{log: l, runID: runID, logger: logger}
}

func (a *auditTrail) write(e audit.Entry) {
	if a == nil {
		return
	}
	e.RunID = a.runID
	if e.Phase == "" {
		e.Phase = a.phase
	}
	if err := a.log.Log(e); err != nil {
		a.logger.Warn("audit write failed", zap.Error(err))
	}
}

func (a *auditTrail) setPhase(name string) {
	if a != nil {
		a.phase = name
	}
}

func (a *auditTrail) command(rec executor.Record) {
	e := audit.Entry{
		Kind:     audit.KindCommand,
		Subject:  executor.CommandLine(rec.Name, rec.Args),
		Outcome:  audit.OutcomeOK,
		Duration: rec.Duration,
		ExitCode: rec.ExitCode,
	}
	if rec.Err != nil {
		e.Outcome, e.Error = audit.OutcomeFailed, rec.Err.Error()
	}
	a.write(e)
}

func (a *auditTrail) undo(ev rollback.UndoEvent) {
	e := audit.Entry{
		Kind:    audit.KindUndo,
		Phase:   ev.Phase,
		Subject: ev.Action.String(),
		Outcome: audit.OutcomeOK,
	}
	if ev.Err != nil {
		e.Outcome, e.Error = audit.OutcomeFailed, ev.Err.Error()
	}
	a.write(e)
}

func (a *auditTrail) phaseEnd(name, status string, d time.Duration, err error) {
	e := audit.Entry{Kind: audit.KindPhase, Phase: name, Subject: status, Outcome: audit.OutcomeOK, Duration: d}
	if err != nil {
		e.Outcome, e.Error = audit.OutcomeFailed, err.Error()
	}
	a.write(e)
}
