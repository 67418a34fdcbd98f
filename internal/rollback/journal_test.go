package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memJournal keeps snapshots the way statedb would persist them.
type memJournal struct {
	snaps   map[SnapshotID]*SnapshotInfo
	failAdd error
}

func newMemJournal() *memJournal {
	return &memJournal{snaps: map[SnapshotID]*SnapshotInfo{}}
}

func (j *memJournal) SaveSnapshot(info SnapshotInfo) error {
	if cur, ok := j.snaps[info.ID]; ok {
		cur.State, cur.CommittedAt = info.State, info.CommittedAt
		return nil
	}
	info.Actions = nil
	j.snaps[info.ID] = &info
	return nil
}

func (j *memJournal) AppendAction(id SnapshotID, seq int, a Action) error {
	if j.failAdd != nil {
		return j.failAdd
	}
	s := j.snaps[id]
	if seq != len(s.Actions) {
		return errors.New("out of order")
	}
	s.Actions = append(s.Actions, a)
	return nil
}

func (j *memJournal) MarkUndone(id SnapshotID, seq int) error {
	j.snaps[id].Actions[seq].Undone = true
	return nil
}

func (j *memJournal) list() []SnapshotInfo {
	out := make([]SnapshotInfo, len(j.snaps))
	for id, s := range j.snaps {
		out[id] = *s
	}
	return out
}

func TestJournalReceivesEveryMutation(t *testing.T) {
	j := newMemJournal()
	m, _ := newTestManager(t, WithJournal(j))

	id, err := m.CreateSnapshot("setup")
	require.NoError(t, err)
	require.NoError(t, m.RecordPackageInstalled(id, "curl"))
	require.NoError(t, m.CommitSnapshot(id))

	require.Len(t, j.snaps, 1)
	assert.Equal(t, StateCommitted, j.snaps[0].State)
	require.Len(t, j.snaps[0].Actions, 1)
	assert.Equal(t, "curl", j.snaps[0].Actions[0].Package)

	_, err = m.RollbackAll(context.Background())
	require.NoError(t, err)
	assert.True(t, j.snaps[0].Actions[0].Undone)
}

func TestJournalFailureDoesNotRecordAction(t *testing.T) {
	j := newMemJournal()
	m, _ := newTestManager(t, WithJournal(j))
	id, _ := m.CreateSnapshot("setup")

	j.failAdd = errors.New("disk full")
	err := m.RecordPackageInstalled(id, "curl")
	require.Error(t, err)
	assert.Empty(t, m.Snapshots()[0].Actions)
}

func TestRestoreUnwindsCrashedRun(t *testing.T) {
	j := newMemJournal()
	path := filepath.Join(t.TempDir(), "jail.local")
	writeFile(t, path, "before")

	// First process: records and crashes before rolling back.
	first, _ := newTestManager(t, WithJournal(j))
	s0, _ := first.CreateSnapshot("setup")
	require.NoError(t, first.RecordPackageInstalled(s0, "fail2ban"))
	require.NoError(t, first.CommitSnapshot(s0))
	s1, _ := first.CreateSnapshot("security")
	require.NoError(t, first.RecordFileChange(s1, path))
	writeFile(t, path, "after")

	// Second process.
	r := &fakeRemover{}
	second, err := Restore(j.list(), detectWith(r), WithJournal(j))
	require.NoError(t, err)
	require.Equal(t, 2, second.Len())

	rep, err := second.RollbackAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Undone)
	assert.Equal(t, "before", readFile(t, path))
	assert.Equal(t, []string{"fail2ban"}, r.removed)

	// A third attempt finds nothing left to do.
	third, err := Restore(j.list(), detectWith(r))
	require.NoError(t, err)
	rep, err = third.RollbackAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Undone)
	assert.Equal(t, 2, rep.Skipped)
}

func TestRestoreRejectsGaps(t *testing.T) {
	_, err := Restore([]SnapshotInfo{{ID: 0}, {ID: 2}}, nil)
	require.Error(t, err)
}

func TestUndoErrorMessage(t *testing.T) {
	err := &UndoError{Failures: []Failure{
		{Snapshot: 1, Action: Action{Kind: PackageInstalled, Package: "nginx"}, Err: errors.New("exit 100")},
		{Snapshot: 0, Action: Action{Kind: FileCreated, Path: "/etc/x"}, Err: os.ErrPermission},
	}}
	assert.Equal(t,
		"rollback: 2 undo(s) failed: snapshot 1: uninstall nginx: exit 100; snapshot 0: remove /etc/x: permission denied",
		err.Error())
	assert.ErrorIs(t, err, os.ErrPermission)
}
