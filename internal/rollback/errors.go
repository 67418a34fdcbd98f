package rollback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSnapshot is returned for a snapshot id that was never created.
var ErrInvalidSnapshot = errors.New("rollback: invalid snapshot id")

func invalidSnapshot(id SnapshotID) error {
	return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
}

// IOError reports a file that could not be read for recording or written back on undo.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("rollback: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Failure is one undo that did not succeed.
type Failure struct {
	Snapshot SnapshotID `json:"snapshot"`
	Seq      int        `json:"seq"`
	Action   Action     `json:"action"`
	Err      error      `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("snapshot %d: %s: %v", f.Snapshot, f.Action, f.Err)
}

// UndoError aggregates every failed undo of one rollback pass.
type UndoError struct {
	Failures []Failure
}

func (e *UndoError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("rollback: %d undo(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *UndoError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
