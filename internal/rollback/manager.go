// Package rollback records the reversible effects of each provisioning phase
// and undoes them, newest first, when a run fails.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PackageRemover uninstalls a package.
type PackageRemover interface {
	Uninstall(ctx context.Context, name string) error
}

// DetectFunc returns the package manager for the host as it is now.
type DetectFunc func(ctx context.Context) (PackageRemover, error)

// Journal persists snapshots so a crashed run can be unwound by a later process.
type Journal interface {
	SaveSnapshot(info SnapshotInfo) error
	AppendAction(id SnapshotID, seq int, a Action) error
	MarkUndone(id SnapshotID, seq int) error
}

// Mode selects what a rollback pass does when an undo fails.
type Mode int

const (
	// ModeBestEffort attempts every remaining undo and aggregates failures.
	ModeBestEffort Mode = iota
	// ModeAbort stops at the first failed undo.
	ModeAbort
)

// UndoEvent is reported to the observer after each undo attempt.
type UndoEvent struct {
	Snapshot SnapshotID
	Phase    string
	Seq      int
	Action   Action
	Err      error
}

type Option func(*Manager)

func WithJournal(j Journal) Option { return func(m *Manager) { m.journal = j } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMode(mode Mode) Option { return func(m *Manager) { m.mode = mode } }

// WithObserver registers fn to receive every undo attempt. fn must not call
// back into the Manager.
func WithObserver(fn func(UndoEvent)) Option { return func(m *Manager) { m.observer = fn } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// Manager owns the ordered snapshots of one provisioning run.
type Manager struct {
	mu        sync.Mutex
	snapshots []*snapshot

	detect   DetectFunc
	journal  Journal
	mode     Mode
	logger   *zap.Logger
	observer func(UndoEvent)
	now      func() time.Time
}

func New(detect DetectFunc, opts ...Option) *Manager {
	m := &Manager{
		detect: detect,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Restore rebuilds a Manager from journalled snapshots. Ids must run 0..n-1.
func Restore(infos []SnapshotInfo, detect DetectFunc, opts ...Option) (*Manager, error) {
	m := New(detect, opts...)
	for i, info := range infos {
		if int(info.ID) != i {
			return nil, fmt.Errorf("rollback: restore: snapshot %d found at position %d", info.ID, i)
		}
		s := &snapshot{
			phase:       info.Phase,
			state:       info.State,
			createdAt:   info.CreatedAt,
			committedAt: info.CommittedAt,
		}
		for _, a := range info.Actions {
			a.Original = append([]byte(nil), a.Original...)
			s.actions = append(s.actions, a)
		}
		m.snapshots = append(m.snapshots, s)
	}
	return m, nil
}

// CreateSnapshot appends an open, empty snapshot for phase and returns its id.
func (m *Manager) CreateSnapshot(phase string) (SnapshotID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &snapshot{phase: phase, state: StateOpen, createdAt: m.now()}
	m.snapshots = append(m.snapshots, s)
	id := SnapshotID(len(m.snapshots) - 1)

	if m.journal != nil {
		if err := m.journal.SaveSnapshot(s.info(id)); err != nil {
			return id, fmt.Errorf("rollback: journal snapshot %d: %w", id, err)
		}
	}
	return id, nil
}

// RecordFileChange captures the current state of path as the undo payload
// for snapshot id. Call it before mutating path. A path that does not exist
// yet is recorded as FileCreated.
func (m *Manager) RecordFileChange(id SnapshotID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}

	a, err := captureFile(path)
	if err != nil {
		return err
	}
	return m.append(id, s, a)
}

// RecordPackageInstalled records a package that was installed during snapshot id.
func (m *Manager) RecordPackageInstalled(id SnapshotID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}
	return m.append(id, s, Action{Kind: PackageInstalled, Package: name})
}

// RecordMkdirAll records every missing directory between the filesystem and
// dir, outermost first, so undo removes them innermost first. Call it before
// os.MkdirAll(dir).
func (m *Manager) RecordMkdirAll(id SnapshotID, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}
	missing, err := missingDirs(dir)
	if err != nil {
		return err
	}
	for _, d := range missing {
		if err := m.append(id, s, Action{Kind: DirCreated, Path: d}); err != nil {
			return err
		}
	}
	return nil
}

// RecordTreeCreated records dir as a directory a command is about to create
// and fill. An existing dir records nothing: its contents predate the run.
func (m *Manager) RecordTreeCreated(id SnapshotID, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}
	_, err = os.Lstat(dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "stat", Path: dir, Err: err}
	}
	return m.append(id, s, Action{Kind: TreeCreated, Path: filepath.Clean(dir)})
}

// CommitSnapshot marks snapshot id committed. A committed snapshot is still
// undone by RollbackAll and RollbackTo.
func (m *Manager) CommitSnapshot(id SnapshotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.state = StateCommitted
	s.committedAt = m.now()

	if m.journal != nil {
		if err := m.journal.SaveSnapshot(s.info(id)); err != nil {
			return fmt.Errorf("rollback: journal commit %d: %w", id, err)
		}
	}
	return nil
}

// RollbackAll undoes every snapshot, newest first.
func (m *Manager) RollbackAll(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollback(ctx, 0)
}

// RollbackTo undoes snapshots id through the newest, newest first.
func (m *Manager) RollbackTo(ctx context.Context, id SnapshotID) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.get(id); err != nil {
		return Report{From: id, Quality: QualityNone}, err
	}
	return m.rollback(ctx, int(id))
}

// Snapshots returns copies of every snapshot in creation order.
func (m *Manager) Snapshots() []SnapshotInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SnapshotInfo, len(m.snapshots))
	for i, s := range m.snapshots {
		out[i] = s.info(SnapshotID(i))
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func (m *Manager) get(id SnapshotID) (*snapshot, error) {
	if id < 0 || int(id) >= len(m.snapshots) {
		return nil, invalidSnapshot(id)
	}
	return m.snapshots[id], nil
}

func (m *Manager) append(id SnapshotID, s *snapshot, a Action) error {
	seq := len(s.actions)
	if m.journal != nil {
		if err := m.journal.AppendAction(id, seq, a); err != nil {
			return fmt.Errorf("rollback: journal action %d/%d: %w", id, seq, err)
		}
	}
	s.actions = append(s.actions, a)
	m.logger.Debug("recorded action",
		zap.Int("snapshot", int(id)),
		zap.String("phase", s.phase),
		zap.Stringer("action", a))
	return nil
}

func captureFile(path string) (Action, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Action{Kind: FileCreated, Path: path}, nil
	}
	if err != nil {
		return Action{}, &IOError{Op: "stat", Path: path, Err: err}
	}
	if info.IsDir() {
		return Action{}, &IOError{Op: "read", Path: path, Err: errors.New("is a directory")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Action{}, &IOError{Op: "read", Path: path, Err: err}
	}
	return Action{Kind: FileOverwritten, Path: path, Original: data, Mode: info.Mode() & modeBits}, nil
}

const modeBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// missingDirs lists the directories os.MkdirAll(dir) would create, outermost first.
func missingDirs(dir string) ([]string, error) {
	var missing []string
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		info, err := os.Stat(d)
		if err == nil {
			if !info.IsDir() {
				return nil, &IOError{Op: "mkdir", Path: d, Err: errors.New("not a directory")}
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &IOError{Op: "stat", Path: d, Err: err}
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	slices.Reverse(missing)
	return missing, nil
}

// rollback walks snapshots from the newest down to from. Callers hold m.mu.
func (m *Manager) rollback(ctx context.Context, from int) (Report, error) {
	rep := Report{From: SnapshotID(from), Snapshots: len(m.snapshots) - from}
	pkgs := &lazyRemover{detect: m.detect}

	aborted := false
	for i := len(m.snapshots) - 1; i >= from; i-- {
		s := m.snapshots[i]
		id := SnapshotID(i)
		for seq := len(s.actions) - 1; seq >= 0; seq-- {
			a := &s.actions[seq]
			if a.Undone {
				rep.Skipped++
				continue
			}
			if aborted {
				rep.NotAttempted++
				continue
			}

			err := undo(ctx, *a, pkgs)
			m.notify(UndoEvent{Snapshot: id, Phase: s.phase, Seq: seq, Action: *a, Err: err})
			if err != nil {
				m.logger.Warn("undo failed",
					zap.Int("snapshot", i),
					zap.String("phase", s.phase),
					zap.Stringer("action", *a),
					zap.Error(err))
				rep.Failures = append(rep.Failures, Failure{Snapshot: id, Seq: seq, Action: *a, Err: err})
				if m.mode == ModeAbort {
					aborted = true
				}
				continue
			}

			a.Undone = true
			rep.Undone++
			m.logger.Info("undone",
				zap.Int("snapshot", i),
				zap.String("phase", s.phase),
				zap.Stringer("action", *a))
			if m.journal != nil {
				if err := m.journal.MarkUndone(id, seq); err != nil {
					m.logger.Warn("journal mark undone failed", zap.Int("snapshot", i), zap.Int("seq", seq), zap.Error(err))
				}
			}
		}
	}

	rep.grade()
	return rep, rep.Err()
}

func (m *Manager) notify(ev UndoEvent) {
	if m.observer != nil {
		m.observer(ev)
	}
}

func undo(ctx context.Context, a Action, pkgs *lazyRemover) error {
	switch a.Kind {
	case FileOverwritten:
		if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
			return &IOError{Op: "restore", Path: a.Path, Err: err}
		}
		// The current mode may forbid writing; the recorded one goes back last.
		if err := os.Chmod(a.Path, 0600); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &IOError{Op: "chmod", Path: a.Path, Err: err}
		}
		if err := os.WriteFile(a.Path, a.Original, 0600); err != nil {
			return &IOError{Op: "restore", Path: a.Path, Err: err}
		}
		if err := os.Chmod(a.Path, a.Mode); err != nil {
			return &IOError{Op: "chmod", Path: a.Path, Err: err}
		}
		return nil
	case FileCreated:
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &IOError{Op: "remove", Path: a.Path, Err: err}
		}
		return nil
	case DirCreated:
		err := os.Remove(a.Path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		// Something outside the journal put files here; leave the directory.
		if entries, rerr := os.ReadDir(a.Path); rerr == nil && len(entries) > 0 {
			return nil
		}
		return &IOError{Op: "rmdir", Path: a.Path, Err: err}
	case TreeCreated:
		if err := os.RemoveAll(a.Path); err != nil {
			return &IOError{Op: "remove tree", Path: a.Path, Err: err}
		}
		return nil
	case PackageInstalled:
		r, err := pkgs.get(ctx)
		if err != nil {
			return err
		}
		return r.Uninstall(ctx, a.Package)
	}
	return fmt.Errorf("rollback: unknown action kind %q", a.Kind)
}

// lazyRemover detects the package manager on first use within one pass.
type lazyRemover struct {
	detect DetectFunc
	done   bool
	r      PackageRemover
	err    error
}

func (l *lazyRemover) get(ctx context.Context) (PackageRemover, error) {
	if !l.done {
		l.done = true
		if l.detect == nil {
			l.err = errors.New("no detector configured")
		} else {
			l.r, l.err = l.detect(ctx)
			if l.err == nil && l.r == nil {
				l.err = errors.New("no package manager")
			}
		}
		if l.err != nil {
			l.err = fmt.Errorf("rollback: detect package manager: %w", l.err)
		}
	}
	return l.r, l.err
}
