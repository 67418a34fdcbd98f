package statedb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/serverforge/internal/rollback"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	require.NotNil(t, db)

	// Verify WAL mode is active.
	var journalMode string
	err = db.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)

	assert.Equal(t, dbPath, db.Path())

	err = db.Close()
	require.NoError(t, err)
}

func TestSetGetState(t *testing.T) {
	db := openTestDB(t)

	before := time.Now().UTC().Add(-1 * time.Second)
	require.NoError(t, db.SetState("last_run", "run-1"))
	require.NoError(t, db.SetState("last_run", "run-2"))

	entry, err := db.GetState("last_run")
	require.NoError(t, err)
	assert.Equal(t, "run-2", entry.Value)

	ts, err := time.Parse(time.RFC3339, entry.UpdatedAt)
	require.NoError(t, err)
	assert.True(t, ts.After(before), "updated_at should be after test start")

	_, err = db.GetState("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertGetRun(t *testing.T) {
	db := openTestDB(t)

	record := RunRecord{
		ID:         "run-001",
		Distro:     "ubuntu",
		Role:       "web",
		ConfigPath: "/etc/forge.yaml",
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	require.NoError(t, db.InsertRun(record))

	got, err := db.GetRun("run-001")
	require.NoError(t, err)
	record.Status = StatusRunning
	assert.Equal(t, record, got)

	last, err := db.LastRun()
	require.NoError(t, err)
	assert.Equal(t, "run-001", last.ID)

	_, err = db.GetRun("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastRunEmpty(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LastRun()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishRunAndList(t *testing.T) {
	db := openTestDB(t)

	runs := []RunRecord{
		{ID: "run-a", StartedAt: "2025-01-01T10:00:00Z"},
		{ID: "run-b", StartedAt: "2025-01-01T11:00:00Z"},
		{ID: "run-c", StartedAt: "2025-01-01T12:00:00Z"},
	}
	for _, r := range runs {
		require.NoError(t, db.InsertRun(r))
	}

	require.NoError(t, db.FinishRun("run-b", StatusRolledBack, "security", "phase security failed"))

	got, err := db.GetRun("run-b")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, got.Status)
	assert.Equal(t, "security", got.FailedPhase)
	assert.Equal(t, "phase security failed", got.Error)
	_, err = time.Parse(time.RFC3339, got.EndedAt)
	require.NoError(t, err)

	// ListRuns returns most recent first (by started_at DESC).
	all, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].ID)
	assert.Equal(t, "run-b", all[1].ID)
	assert.Equal(t, "run-a", all[2].ID)

	limited, err := db.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-c", limited[0].ID)

	assert.ErrorIs(t, db.FinishRun("nonexistent", StatusCompleted, "", ""), ErrNotFound)

	nruns, nsnaps, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, nruns)
	assert.Equal(t, 0, nsnaps)
}

func TestJournalRoundTrip(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertRun(RunRecord{ID: "run-1", StartedAt: "2025-01-01T10:00:00Z"}))

	dir := t.TempDir()
	motd := filepath.Join(dir, "motd")
	require.NoError(t, os.WriteFile(motd, []byte("before"), 0640))

	j := db.Journal("run-1")
	m := rollback.New(nil, rollback.WithJournal(j))

	id, err := m.CreateSnapshot("setup")
	require.NoError(t, err)
	require.NoError(t, m.RecordFileChange(id, motd))
	require.NoError(t, m.RecordFileChange(id, filepath.Join(dir, "new.conf")))
	require.NoError(t, m.CommitSnapshot(id))
	id, err = m.CreateSnapshot("security")
	require.NoError(t, err)
	require.NoError(t, m.RecordPackageInstalled(id, "fail2ban"))

	infos, err := db.LoadSnapshots("run-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "setup", infos[0].Phase)
	assert.Equal(t, rollback.StateCommitted, infos[0].State)
	assert.False(t, infos[0].CommittedAt.IsZero())
	require.Len(t, infos[0].Actions, 2)
	assert.Equal(t, rollback.FileOverwritten, infos[0].Actions[0].Kind)
	assert.Equal(t, []byte("before"), infos[0].Actions[0].Original)
	assert.Equal(t, os.FileMode(0640), infos[0].Actions[0].Mode)
	assert.Equal(t, rollback.FileCreated, infos[0].Actions[1].Kind)
	assert.Empty(t, infos[0].Actions[1].Original)

	assert.Equal(t, rollback.StateOpen, infos[1].State)
	assert.True(t, infos[1].CommittedAt.IsZero())
	assert.Equal(t, []rollback.Action{{Kind: rollback.PackageInstalled, Package: "fail2ban"}}, infos[1].Actions)

	_, nsnaps, err := db.Counts()
	require.NoError(t, err)
	assert.Equal(t, 2, nsnaps)
}

type fakeRemover struct{ removed []string }

func (f *fakeRemover) Uninstall(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func TestJournalRestoreAfterCrash(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertRun(RunRecord{ID: "run-1", StartedAt: "2025-01-01T10:00:00Z"}))

	dir := t.TempDir()
	conf := filepath.Join(dir, "jail.local")

	// First process: records effects, then "crashes" without rolling back.
	m := rollback.New(nil, rollback.WithJournal(db.Journal("run-1")))
	id, err := m.CreateSnapshot("security")
	require.NoError(t, err)
	require.NoError(t, m.RecordPackageInstalled(id, "fail2ban"))
	require.NoError(t, m.RecordFileChange(id, conf))
	require.NoError(t, os.WriteFile(conf, []byte("[sshd]\n"), 0644))

	// Second process: restores from the journal and unwinds.
	infos, err := db.LoadSnapshots("run-1")
	require.NoError(t, err)
	rm := &fakeRemover{}
	detect := func(context.Context) (rollback.PackageRemover, error) { return rm, nil }
	restored, err := rollback.Restore(infos, detect, rollback.WithJournal(db.Journal("run-1")))
	require.NoError(t, err)

	rep, err := restored.RollbackAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Undone)
	assert.NoFileExists(t, conf)
	assert.Equal(t, []string{"fail2ban"}, rm.removed)

	// The undone flags were journalled, so a third pass has nothing to do.
	infos, err = db.LoadSnapshots("run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, infos[0].Pending())
	again, err := rollback.Restore(infos, detect)
	require.NoError(t, err)
	rep, err = again.RollbackAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 0, rep.Undone)
}

func TestMarkUndoneMissingAction(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertRun(RunRecord{ID: "run-1", StartedAt: "2025-01-01T10:00:00Z"}))
	assert.ErrorIs(t, db.Journal("run-1").MarkUndone(0, 0), ErrNotFound)
}

func TestJournalRequiresRun(t *testing.T) {
	db := openTestDB(t)
	m := rollback.New(nil, rollback.WithJournal(db.Journal("missing")))
	_, err := m.CreateSnapshot("setup")
	assert.Error(t, err)
}
