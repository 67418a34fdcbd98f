// Package pkgmgr drives the host package manager (apt, yum or dnf).
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lyndonlyu/serverforge/internal/config"
	"github.com/lyndonlyu/serverforge/internal/executor"
)

type Kind string

const (
	Apt Kind = "apt"
	Yum Kind = "yum"
	Dnf Kind = "dnf"
)

// ErrNotDetected is returned when no supported package manager binary exists.
var ErrNotDetected = errors.New("pkgmgr: no supported package manager found")

// candidates in detection order; dnf before yum because Fedora also ships a yum shim.
var candidates = []struct {
	kind Kind
	bin  string
}{
	{Apt, "/usr/bin/apt-get"},
	{Dnf, "/usr/bin/dnf"},
	{Yum, "/usr/bin/yum"},
}

// Detect inspects root for a package manager binary.
func Detect(root string) (Kind, error) {
	for _, p := range candidates {
		if info, err := os.Stat(filepath.Join(root, p.bin)); err == nil && !info.IsDir() {
			return p.kind, nil
		}
	}
	return "", ErrNotDetected
}

// ForDistro returns the package manager a distro ships with.
func ForDistro(d config.Distro) (Kind, error) {
	switch d {
	case config.Ubuntu:
		return Apt, nil
	case config.CentOS:
		return Yum, nil
	case config.Fedora:
		return Dnf, nil
	}
	return "", &config.UnsupportedError{Field: "linux_distro", Value: string(d)}
}

// Manager runs package operations through an executor.Runner.
type Manager struct {
	kind   Kind
	runner executor.Runner
}

func New(kind Kind, runner executor.Runner) *Manager {
	return &Manager{kind: kind, runner: runner}
}

func (m *Manager) Kind() Kind { return m.kind }

func (m *Manager) bin() string {
	if m.kind == Apt {
		return "apt-get"
	}
	return string(m.kind)
}

// Install installs pkgs in a single transaction.
func (m *Manager) Install(ctx context.Context, pkgs ...string) error {
	if len(pkgs) == 0 {
		return nil
	}
	args := append([]string{"install", "-y"}, pkgs...)
	if err := m.runner.Run(ctx, m.bin(), args...); err != nil {
		return fmt.Errorf("pkgmgr: install %v: %w", pkgs, err)
	}
	return nil
}

// Installed reports whether pkg is installed on the host right now.
func (m *Manager) Installed(ctx context.Context, pkg string) (bool, error) {
	if m.kind == Apt {
		out, err := m.runner.Output(ctx, "dpkg-query", "-W", "-f=${Status}", pkg)
		if err != nil {
			// dpkg-query exits 1 for a package it has never heard of.
			var cerr *executor.CommandError
			if errors.As(err, &cerr) && cerr.ExitCode == 1 {
				return false, nil
			}
			return false, fmt.Errorf("pkgmgr: query %s: %w", pkg, err)
		}
		// "install ok installed", "deinstall ok config-files", ...
		f := strings.Fields(string(out))
		return len(f) == 3 && f[2] == "installed", nil
	}

	// rpm -qa exits 0 and prints nothing when the package is absent.
	out, err := m.runner.Output(ctx, "rpm", "-qa", "--queryformat=%{NAME}:", pkg)
	if err != nil {
		return false, fmt.Errorf("pkgmgr: query %s: %w", pkg, err)
	}
	for _, name := range strings.Split(string(out), ":") {
		if name == pkg {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) Uninstall(ctx context.Context, pkg string) error {
	if err := m.runner.Run(ctx, m.bin(), "remove", "-y", pkg); err != nil {
		return fmt.Errorf("pkgmgr: remove %s: %w", pkg, err)
	}
	return nil
}

// Refresh updates the package index without upgrading anything.
func (m *Manager) Refresh(ctx context.Context) error {
	var err error
	switch m.kind {
	case Apt:
		err = m.runner.Run(ctx, "apt-get", "update")
	default:
		err = m.runner.Run(ctx, m.bin(), "makecache")
	}
	if err != nil {
		return fmt.Errorf("pkgmgr: refresh: %w", err)
	}
	return nil
}

// Update refreshes the index and upgrades every installed package.
func (m *Manager) Update(ctx context.Context) error {
	if m.kind == Apt {
		if err := m.Refresh(ctx); err != nil {
			return err
		}
		if err := m.runner.Run(ctx, "apt-get", "upgrade", "-y"); err != nil {
			return fmt.Errorf("pkgmgr: upgrade: %w", err)
		}
		return nil
	}
	verb := "update"
	if m.kind == Dnf {
		verb = "upgrade"
	}
	if err := m.runner.Run(ctx, m.bin(), verb, "-y"); err != nil {
		return fmt.Errorf("pkgmgr: upgrade: %w", err)
	}
	return nil
}

// Remover adapts detection to the rollback engine: the package manager for
// an undo is looked up when the rollback runs, not when the package was installed.
type Remover struct {
	Root   string
	Runner executor.Runner
}

func (r Remover) Detect(ctx context.Context) (*Manager, error) {
	kind, err := Detect(r.Root)
	if err != nil {
		return nil, err
	}
	return New(kind, r.Runner), nil
}
