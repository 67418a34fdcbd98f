package statedb

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/lyndonlyu/serverforge/internal/rollback"
)

const timeFormat = time.RFC3339Nano

// Journal persists the rollback snapshots of one run.
type Journal struct {
	db    *DB
	runID string
}

// Journal returns the rollback journal for runID. The run record must exist.
func (d *DB) Journal(runID string) *Journal {
	return &Journal{db: d, runID: runID}
}

func (j *Journal) RunID() string { return j.runID }

func (j *Journal) SaveSnapshot(info rollback.SnapshotInfo) error {
	_, err := j.db.db.Exec(
		`INSERT INTO snapshots (run_id, id, phase, state, created_at, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, id) DO UPDATE SET state = excluded.state, committed_at = excluded.committed_at`,
		j.runID, int(info.ID), info.Phase, string(info.State), formatTime(info.CreatedAt), formatTime(info.CommittedAt),
	)
	if err != nil {
		return fmt.Errorf("statedb: save snapshot: %w", err)
	}
	return nil
}

func (j *Journal) AppendAction(id rollback.SnapshotID, seq int, a rollback.Action) error {
	_, err := j.db.db.Exec(
		`INSERT INTO actions (run_id, snapshot_id, seq, kind, path, original, mode, package, undone)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, int(id), seq, string(a.Kind), a.Path, a.Original, uint32(a.Mode), a.Package, a.Undone,
	)
	if err != nil {
		return fmt.Errorf("statedb: append action: %w", err)
	}
	return nil
}

func (j *Journal) MarkUndone(id rollback.SnapshotID, seq int) error {
	res, err := j.db.db.Exec(
		`UPDATE actions SET undone = 1 WHERE run_id = ? AND snapshot_id = ? AND seq = ?`,
		j.runID, int(id), seq,
	)
	if err != nil {
		return fmt.Errorf("statedb: mark undone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("statedb: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadSnapshots reads back every snapshot of runID in id order, ready for
// rollback.Restore.
func (d *DB) LoadSnapshots(runID string) ([]rollback.SnapshotInfo, error) {
	rows, err := d.db.Query(
		`SELECT id, phase, state, created_at, committed_at FROM snapshots WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("statedb: load snapshots: %w", err)
	}
	defer rows.Close()

	var infos []rollback.SnapshotInfo
	for rows.Next() {
		var (
			info               rollback.SnapshotInfo
			id                 int
			state              string
			created, committed string
		)
		if err := rows.Scan(&id, &info.Phase, &state, &created, &committed); err != nil {
			return nil, fmt.Errorf("statedb: scan snapshot: %w", err)
		}
		info.ID = rollback.SnapshotID(id)
		info.State = rollback.SnapshotState(state)
		info.CreatedAt = parseTime(created)
		info.CommittedAt = parseTime(committed)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows snapshots: %w", err)
	}

	if err := d.loadActions(runID, infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (d *DB) loadActions(runID string, infos []rollback.SnapshotInfo) error {
	rows, err := d.db.Query(
		`SELECT snapshot_id, kind, path, original, mode, package, undone
		 FROM actions WHERE run_id = ? ORDER BY snapshot_id, seq`, runID)
	if err != nil {
		return fmt.Errorf("statedb: load actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a        rollback.Action
			sid      int
			kind     string
			original []byte
			mode     uint32
		)
		if err := rows.Scan(&sid, &kind, &a.Path, &original, &mode, &a.Package, &a.Undone); err != nil {
			return fmt.Errorf("statedb: scan action: %w", err)
		}
		if sid < 0 || sid >= len(infos) || int(infos[sid].ID) != sid {
			return fmt.Errorf("statedb: action references missing snapshot %d", sid)
		}
		a.Kind = rollback.ActionKind(kind)
		a.Original = original
		a.Mode = fs.FileMode(mode)
		infos[sid].Actions = append(infos[sid].Actions, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("statedb: rows actions: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ rollback.Journal = (*Journal)(nil)
