package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Runner invokes external processes. Every command the provisioner executes
// goes through a Runner so tests can substitute a Mock.
type Runner interface {
	// Run executes the command and discards stdout.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes the command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError reports a process that exited non-zero or failed to launch.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int // -1 when the process never started
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", CommandLine(e.Name, e.Args))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLines(s, 3)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Record describes one finished command invocation.
type Record struct {
	Name     string
	Args     []string
	ExitCode int
	Duration time.Duration
	Err      error
}

type Options struct {
	Timeout  time.Duration       // per command; 0 means no timeout
	Env      []string            // appended to the inherited environment
	Logger   *zap.Logger         // defaults to a no-op logger
	Redact   func(string) string // applied to command lines before logging
	Observer func(Record)        // called after every invocation
}

// Exec runs commands on the local host via os/exec.
type Exec struct {
	opts Options
}

func NewExec(opts Options) *Exec {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Redact == nil {
		opts.Redact = func(s string) string { return s }
	}
	return &Exec{opts: opts}
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) error {
	_, err := e.exec(ctx, name, args)
	return err
}

func (e *Exec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.exec(ctx, name, args)
}

func (e *Exec) exec(ctx context.Context, name string, args []string) ([]byte, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	line := e.opts.Redact(CommandLine(name, args))
	e.opts.Logger.Debug("exec", zap.String("cmd", line))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), e.opts.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	rec := Record{Name: name, Args: args, Duration: time.Since(start)}

	if err != nil {
		cerr := &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: -1,
			Stderr:   e.opts.Redact(stderr.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			cerr.Err = ctx.Err()
		}
		rec.ExitCode, rec.Err = cerr.ExitCode, cerr
		e.observe(rec)
		e.opts.Logger.Debug("exec failed",
			zap.String("cmd", line),
			zap.Int("exit_code", cerr.ExitCode),
			zap.Duration("duration", rec.Duration))
		return stdout.Bytes(), cerr
	}

	e.observe(rec)
	return stdout.Bytes(), nil
}

func (e *Exec) observe(rec Record) {
	if e.opts.Observer != nil {
		e.opts.Observer(rec)
	}
}

// CommandLine renders name and args as a single shell-like string for logs.
func CommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

var _ Runner = (*Exec)(nil)
