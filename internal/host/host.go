// Package host is the provisioning phases' view of the machine. Every file
// write and package install goes through a Session bound to the current
// phase's snapshot, so the effect is recorded for rollback.
package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/lyndonlyu/serverforge/internal/executor"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/pkgmgr"
	"github.com/lyndonlyu/serverforge/internal/rollback"
)

type Host struct {
	root   string
	runner executor.Runner
	pm     *pkgmgr.Manager
	logger *zap.Logger

	// installed holds packages known to be on the host: found there, or
	// installed and recorded by this run.
	installed map[string]bool
}

// New returns a Host rooted at root ("/" on a real machine).
func New(root string, runner executor.Runner, pm *pkgmgr.Manager, logger *zap.Logger) *Host {
	if root == "" {
		root = "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{root: root, runner: runner, pm: pm, logger: logger, installed: make(map[string]bool)}
}

func (h *Host) Root() string { return h.root }

func (h *Host) Runner() executor.Runner { return h.runner }

func (h *Host) PackageManager() pkgmgr.Kind { return h.pm.Kind() }

// Path maps an absolute host path into the host root.
func (h *Host) Path(p string) string {
	return filepath.Join(h.root, p)
}

// Session binds h to the snapshot of a running phase.
func (h *Host) Session(s *phase.Scope) *Session {
	return &Session{Host: h, scope: s, logger: h.logger.With(zap.String("phase", s.Phase))}
}

// Remover returns a rollback detector that inspects the host root at undo time.
func (h *Host) Remover() rollback.DetectFunc {
	r := pkgmgr.Remover{Root: h.root, Runner: h.runner}
	return func(ctx context.Context) (rollback.PackageRemover, error) {
		pm, err := r.Detect(ctx)
		if err != nil {
			return nil, err
		}
		return pm, nil
	}
}

type Session struct {
	*Host
	scope  *phase.Scope
	logger *zap.Logger
}

func (s *Session) Snapshot() rollback.SnapshotID { return s.scope.ID }

func (s *Session) Exists(p string) bool {
	_, err := os.Stat(s.Path(p))
	return err == nil
}

func (s *Session) ReadFile(p string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(p))
	if err != nil {
		return nil, &rollback.IOError{Op: "read", Path: p, Err: err}
	}
	return data, nil
}

// WriteFile records the current state of p and any parent directories it
// needs, then replaces it.
func (s *Session) WriteFile(p string, data []byte, perm fs.FileMode) error {
	full := s.Path(p)
	if err := s.MkdirAll(filepath.Dir(p)); err != nil {
		return err
	}
	if err := s.scope.RecordFileChange(full); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, perm); err != nil {
		return &rollback.IOError{Op: "write", Path: p, Err: err}
	}
	if err := os.Chmod(full, perm); err != nil {
		return &rollback.IOError{Op: "chmod", Path: p, Err: err}
	}
	s.logger.Debug("wrote file", zap.String("path", p), zap.Int("bytes", len(data)))
	return nil
}

// EditFile rewrites an existing file through fn, keeping its mode.
func (s *Session) EditFile(p string, fn func(string) string) error {
	full := s.Path(p)
	info, err := os.Stat(full)
	if err != nil {
		return &rollback.IOError{Op: "edit", Path: p, Err: err}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return &rollback.IOError{Op: "edit", Path: p, Err: err}
	}
	updated := fn(string(data))
	if updated == string(data) {
		return nil
	}
	return s.WriteFile(p, []byte(updated), info.Mode().Perm())
}

// Install installs pkgs and records each one once the install succeeded.
// Packages already on the host, or installed by an earlier phase of this run,
// are left alone, so rollback only removes what this run added.
func (s *Session) Install(ctx context.Context, pkgs ...string) error {
	var todo []string
	for _, p := range pkgs {
		if s.installed[p] || slices.Contains(todo, p) {
			continue
		}
		present, err := s.pm.Installed(ctx, p)
		if err != nil {
			return err
		}
		if present {
			s.installed[p] = true
			s.logger.Debug("already installed", zap.String("package", p))
			continue
		}
		todo = append(todo, p)
	}
	if len(todo) == 0 {
		return nil
	}

	if err := s.pm.Install(ctx, todo...); err != nil {
		return err
	}
	for _, p := range todo {
		if err := s.scope.RecordPackageInstalled(p); err != nil {
			return err
		}
		s.installed[p] = true
	}
	s.logger.Info("installed", zap.Strings("packages", todo))
	return nil
}

// Track records the current state of p for a file a command is about to create or replace.
func (s *Session) Track(p string) error {
	return s.scope.RecordFileChange(s.Path(p))
}

// TrackTree records dir, when it does not exist yet, as a directory a command
// is about to create and fill, so undo removes it with its contents.
func (s *Session) TrackTree(dir string) error {
	return s.scope.RecordTreeCreated(s.Path(dir))
}

// MkdirAll creates the host directory dir, recording each directory it adds.
func (s *Session) MkdirAll(dir string) error {
	full := s.Path(dir)
	if err := s.scope.RecordMkdirAll(full); err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return &rollback.IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

// Download fetches url into the host path dest with the given mode.
func (s *Session) Download(ctx context.Context, url, dest string, perm fs.FileMode) error {
	if err := s.MkdirAll(filepath.Dir(dest)); err != nil {
		return err
	}
	if err := s.Track(dest); err != nil {
		return err
	}
	full := s.Path(dest)
	if err := s.runner.Run(ctx, "curl", "-fsSL", "-o", full, url); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	// The file is absent only under a dry-run runner.
	if err := os.Chmod(full, perm); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &rollback.IOError{Op: "chmod", Path: dest, Err: err}
	}
	return nil
}

func (s *Session) Update(ctx context.Context) error { return s.pm.Update(ctx) }

func (s *Session) Refresh(ctx context.Context) error { return s.pm.Refresh(ctx) }

func (s *Session) Run(ctx context.Context, name string, args ...string) error {
	return s.runner.Run(ctx, name, args...)
}

func (s *Session) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return s.runner.Output(ctx, name, args...)
}

// RunIgnoringFailure runs a command whose failure is expected in normal
// operation (stopping a container that does not exist, for example).
func (s *Session) RunIgnoringFailure(ctx context.Context, name string, args ...string) {
	if err := s.runner.Run(ctx, name, args...); err != nil {
		var cerr *executor.CommandError
		if !errors.As(err, &cerr) {
			s.logger.Warn("command failed", zap.String("cmd", executor.CommandLine(name, args)), zap.Error(err))
			return
		}
		s.logger.Debug("ignored command failure", zap.String("cmd", executor.CommandLine(name, args)), zap.Int("exit_code", cerr.ExitCode))
	}
}

// Glob expands pattern inside the host root and returns host paths.
func (s *Session) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(s.Path(pattern))
	if err != nil {
		return nil, fmt.Errorf("host: glob %s: %w", pattern, err)
	}
	root := filepath.Clean(s.root)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel := strings.TrimPrefix(m, root)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		out = append(out, rel)
	}
	return out, nil
}
