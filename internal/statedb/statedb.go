package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("statedb: not found")

// Run statuses. A run left RUNNING by a crashed process can be unwound with
// forge rollback.
const (
	StatusRunning        = "RUNNING"
	StatusCompleted      = "COMPLETED"
	StatusRolledBack     = "ROLLED_BACK"
	StatusRollbackFailed = "ROLLBACK_FAILED"
)

// KeyLastRun holds the id of the most recently started run.
const KeyLastRun = "last_run"

type DB struct {
	db   *sql.DB
	path string
}

type StateEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"` // RFC3339
}

type RunRecord struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Distro      string `json:"distro"`
	Role        string `json:"role"`
	ConfigPath  string `json:"config_path"`
	FailedPhase string `json:"failed_phase,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"` // RFC3339
	EndedAt     string `json:"ended_at"`   // RFC3339 or empty
}

// Open creates or opens a SQLite database at path with WAL mode,
// busy timeout of 5 seconds, and foreign keys enabled. It creates
// the state, runs, snapshots and actions tables if they do not already exist.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS state (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL DEFAULT 'RUNNING',
			distro       TEXT NOT NULL DEFAULT '',
			role         TEXT NOT NULL DEFAULT '',
			config_path  TEXT NOT NULL DEFAULT '',
			failed_phase TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			started_at   TEXT NOT NULL,
			ended_at     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			id           INTEGER NOT NULL,
			phase        TEXT NOT NULL,
			state        TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			committed_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			run_id      TEXT NOT NULL,
			snapshot_id INTEGER NOT NULL,
			seq         INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			path        TEXT NOT NULL DEFAULT '',
			original    BLOB,
			mode        INTEGER NOT NULL DEFAULT 0,
			package     TEXT NOT NULL DEFAULT '',
			undone      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, snapshot_id, seq),
			FOREIGN KEY (run_id, snapshot_id) REFERENCES snapshots(run_id, id) ON DELETE CASCADE
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: create table: %w", err)
		}
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// SetState upserts a key-value state entry. The updated_at timestamp
// is set to the current UTC time in RFC3339 format.
func (d *DB) SetState(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO state (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("statedb: set state: %w", err)
	}
	return nil
}

// GetState retrieves a state entry by key. Returns ErrNotFound if the
// key does not exist.
func (d *DB) GetState(key string) (StateEntry, error) {
	var e StateEntry
	err := d.db.QueryRow(
		`SELECT key, value, updated_at FROM state WHERE key = ?`, key,
	).Scan(&e.Key, &e.Value, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StateEntry{}, ErrNotFound
		}
		return StateEntry{}, fmt.Errorf("statedb: get state: %w", err)
	}
	return e, nil
}

const runColumns = `id, status, distro, role, config_path, failed_phase, error, started_at, ended_at`

// InsertRun inserts a new run record and remembers it as the last run.
func (d *DB) InsertRun(r RunRecord) error {
	if r.Status == "" {
		r.Status = StatusRunning
	}
	_, err := d.db.Exec(
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Distro, r.Role, r.ConfigPath, r.FailedPhase, r.Error, r.StartedAt, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("statedb: insert run: %w", err)
	}
	return d.SetState(KeyLastRun, r.ID)
}

// GetRun retrieves a run record by ID. Returns ErrNotFound if the ID
// does not exist.
func (d *DB) GetRun(id string) (RunRecord, error) {
	r, err := scanRun(d.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("statedb: get run: %w", err)
	}
	return r, nil
}

// LastRun returns the most recently inserted run.
func (d *DB) LastRun() (RunRecord, error) {
	e, err := d.GetState(KeyLastRun)
	if err != nil {
		return RunRecord{}, err
	}
	return d.GetRun(e.Value)
}

// FinishRun sets the final status of a run. Any status other than RUNNING
// also sets ended_at to the current UTC time.
func (d *DB) FinishRun(id, status, failedPhase, errMsg string) error {
	endedAt := ""
	if status != StatusRunning {
		endedAt = time.Now().UTC().Format(time.RFC3339)
	}

	result, err := d.db.Exec(
		`UPDATE runs SET status = ?, failed_phase = ?, error = ?, ended_at = ? WHERE id = ?`,
		status, failedPhase, errMsg, endedAt, id,
	)
	if err != nil {
		return fmt.Errorf("statedb: finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("statedb: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent run records ordered by started_at
// descending. If limit is 0, all records are returned.
func (d *DB) ListRuns(limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = d.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = d.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("statedb: scan run: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows runs: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var r RunRecord
	err := s.Scan(&r.ID, &r.Status, &r.Distro, &r.Role, &r.ConfigPath, &r.FailedPhase, &r.Error, &r.StartedAt, &r.EndedAt)
	return r, err
}

// Counts returns the number of runs and journalled snapshots.
func (d *DB) Counts() (runs, snapshots int, err error) {
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
		return 0, 0, fmt.Errorf("statedb: count runs: %w", err)
	}
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&snapshots); err != nil {
		return 0, 0, fmt.Errorf("statedb: count snapshots: %w", err)
	}
	return runs, snapshots, nil
}
