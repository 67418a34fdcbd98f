package rollback

import (
	"fmt"
	"io/fs"
	"time"
)

// SnapshotID indexes a snapshot within one Manager. Ids start at 0 and are never reused.
type SnapshotID int

type ActionKind string

const (
	FileOverwritten  ActionKind = "file_overwritten"
	FileCreated      ActionKind = "file_created"
	PackageInstalled ActionKind = "package_installed"
	DirCreated       ActionKind = "dir_created"
	TreeCreated      ActionKind = "tree_created"
)

// Action is one reversible effect.
//
// FileOverwritten carries the pre-image of Path (Original and Mode); FileCreated
// records a path that did not exist before, so undo removes it; PackageInstalled
// names a package to uninstall. DirCreated is a directory the run created and
// is removed only once empty. TreeCreated is a directory a command populated
// from nothing, removed with everything under it.
type Action struct {
	Kind     ActionKind  `json:"kind"`
	Path     string      `json:"path,omitempty"`
	Original []byte      `json:"original,omitempty"`
	Mode     fs.FileMode `json:"mode,omitempty"`
	Package  string      `json:"package,omitempty"`
	Undone   bool        `json:"undone"`
}

func (a Action) String() string {
	switch a.Kind {
	case FileOverwritten:
		return fmt.Sprintf("restore %s (%d bytes)", a.Path, len(a.Original))
	case FileCreated:
		return "remove " + a.Path
	case PackageInstalled:
		return "uninstall " + a.Package
	case DirCreated:
		return "rmdir " + a.Path
	case TreeCreated:
		return "remove tree " + a.Path
	}
	return string(a.Kind)
}

type SnapshotState string

const (
	StateOpen      SnapshotState = "open"
	StateCommitted SnapshotState = "committed"
)

// SnapshotInfo is a copy of one snapshot's state.
type SnapshotInfo struct {
	ID          SnapshotID    `json:"id"`
	Phase       string        `json:"phase"`
	State       SnapshotState `json:"state"`
	Actions     []Action      `json:"actions"`
	CreatedAt   time.Time     `json:"created_at"`
	CommittedAt time.Time     `json:"committed_at,omitzero"`
}

// Pending counts actions not yet undone.
func (s SnapshotInfo) Pending() int {
	n := 0
	for _, a := range s.Actions {
		if !a.Undone {
			n++
		}
	}
	return n
}

type snapshot struct {
	phase       string
	state       SnapshotState
	actions     []Action
	createdAt   time.Time
	committedAt time.Time
}

func (s *snapshot) info(id SnapshotID) SnapshotInfo {
	actions := make([]Action, len(s.actions))
	for i, a := range s.actions {
		a.Original = append([]byte(nil), a.Original...)
		actions[i] = a
	}
	return SnapshotInfo{
		ID:          id,
		Phase:       s.phase,
		State:       s.state,
		Actions:     actions,
		CreatedAt:   s.createdAt,
		CommittedAt: s.committedAt,
	}
}
