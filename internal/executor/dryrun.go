package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DryRun logs commands instead of executing them.
type DryRun struct {
	logger *zap.Logger
	redact func(string) string

	mu    sync.Mutex
	lines []string
}

func NewDryRun(logger *zap.Logger, redact func(string) string) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	if redact == nil {
		redact = func(s string) string { return s }
	}
	return &DryRun{logger: logger, redact: redact}
}

func (d *DryRun) Run(ctx context.Context, name string, args ...string) error {
	_, err := d.Output(ctx, name, args...)
	return err
}

func (d *DryRun) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line := d.redact(CommandLine(name, args))
	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
	d.logger.Info("dry-run", zap.String("cmd", line))
	return nil, nil
}

// Lines returns every command that would have been executed, in order.
func (d *DryRun) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

var _ Runner = (*DryRun)(nil)
