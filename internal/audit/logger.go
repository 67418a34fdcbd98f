// Package audit keeps a tamper-evident JSONL trail of every command a run
// executed and every undo a rollback performed. Each record carries the hash
// of its predecessor so Verify can detect edited or dropped lines.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyndonlyu/serverforge/internal/redact"
)

// Record kinds.
const (
	KindCommand = "command"
	KindPhase   = "phase"
	KindUndo    = "undo"
)

// Outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// dateFileRe matches audit log files named YYYY-MM-DD.jsonl
var dateFileRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// auditFiles returns the date-named .jsonl files in dir, oldest first.
func auditFiles(dir string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	var filtered []string
	for _, f := range all {
		if dateFileRe.MatchString(filepath.Base(f)) {
			filtered = append(filtered, f)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

type Entry struct {
	RunID    string
	Kind     string
	Phase    string
	Subject  string // command line, undo description or phase name
	Outcome  string
	Duration time.Duration
	ExitCode int
	Error    string
}

type Record struct {
	Timestamp  string `json:"timestamp"`
	ActionID   string `json:"action_id"`
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	Phase      string `json:"phase,omitempty"`
	Subject    string `json:"subject"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code,omitempty"`
	Error      string `json:"error,omitempty"`
	PrevHash   string `json:"prev_hash,omitempty"`
	Hash       string `json:"hash,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	dir      string
	lastHash string
	redactor *redact.Redactor
	now      func() time.Time
}

func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	l := &Logger{dir: dir, now: time.Now}
	l.initLastHash()
	return l, nil
}

// initLastHash continues the chain from the newest record on disk.
func (l *Logger) initLastHash() {
	files, err := auditFiles(l.dir)
	if err != nil || len(files) == 0 {
		return
	}
	data, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	var r Record
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &r); err != nil {
		return
	}
	l.lastHash = r.Hash
}

func (l *Logger) SetRedactor(r *redact.Redactor) {
	l.redactor = r
}

func computeHash(r Record) string {
	r.Hash = ""
	data, _ := json.Marshal(r)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record := Record{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		ActionID:   uuid.New().String(),
		RunID:      entry.RunID,
		Kind:       entry.Kind,
		Phase:      entry.Phase,
		Subject:    entry.Subject,
		Outcome:    entry.Outcome,
		DurationMs: entry.Duration.Milliseconds(),
		ExitCode:   entry.ExitCode,
		Error:      entry.Error,
		PrevHash:   l.lastHash,
	}
	// Redact sensitive data before hashing
	if l.redactor != nil {
		record.Subject = l.redactor.Redact(record.Subject)
		record.Error = l.redactor.Redact(record.Error)
	}
	record.Hash = computeHash(record)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(l.dir, now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	l.lastHash = record.Hash
	return nil
}

// Recent returns up to n records, newest first.
func (l *Logger) Recent(n int) ([]Record, error) {
	files, err := auditFiles(l.dir)
	if err != nil {
		return nil, err
	}

	var records []Record
	for i := len(files) - 1; i >= 0 && len(records) < n; i-- {
		data, err := os.ReadFile(files[i])
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for j := len(lines) - 1; j >= 0 && len(records) < n; j-- {
			var r Record
			if err := json.Unmarshal([]byte(lines[j]), &r); err != nil {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}

// ForRun returns every record of runID in the order it was written.
func (l *Logger) ForRun(runID string) ([]Record, error) {
	var out []Record
	err := l.walk(func(r Record) bool {
		if r.RunID == runID {
			out = append(out, r)
		}
		return true
	})
	return out, err
}

// Verify walks the whole chain. It returns false and the index of the first
// record whose hash or link does not match.
func (l *Logger) Verify() (bool, int, error) {
	var expectedPrevHash string
	index, broken := 0, -1
	err := l.walk(func(r Record) bool {
		if computeHash(r) != r.Hash || r.PrevHash != expectedPrevHash {
			broken = index
			return false
		}
		expectedPrevHash = r.Hash
		index++
		return true
	})
	if err != nil {
		return false, -1, err
	}
	return broken < 0, broken, nil
}

func (l *Logger) walk(fn func(Record) bool) error {
	files, err := auditFiles(l.dir)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		for _, line := range strings.Split(content, "\n") {
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				return fmt.Errorf("audit: parse %s: %w", filepath.Base(f), err)
			}
			if !fn(r) {
				return nil
			}
		}
	}
	return nil
}

func (l *Logger) Dir() string {
	return l.dir
}
