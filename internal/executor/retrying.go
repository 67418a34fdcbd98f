package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/retry"
)

// Retrying wraps a Runner so transient failures (package database locks,
// mirror hiccups) are retried with backoff before surfacing.
type Retrying struct {
	next   Runner
	policy retry.Policy
	logger *zap.Logger
}

func NewRetrying(next Runner, policy retry.Policy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

func (r *Retrying) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	p := r.policy
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("command failed, retrying",
			zap.String("cmd", name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	var out []byte
	err := p.Execute(ctx, func() (retry.ErrorKind, error) {
		var err error
		out, err = r.next.Output(ctx, name, args...)
		if err == nil {
			return retry.Retriable, nil
		}
		return classify(err), err
	})
	return out, err
}

func classify(err error) retry.ErrorKind {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return retry.Classify(cerr.Err, cerr.ExitCode, cerr.Stderr)
	}
	return retry.Classify(err, 0, "")
}

var _ Runner = (*Retrying)(nil)
