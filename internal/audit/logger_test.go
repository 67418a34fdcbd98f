package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/serverforge/internal/redact"
)

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	logger, err := NewLogger(dir)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.DirExists(t, dir)
	assert.Equal(t, dir, logger.Dir())
}

func TestLogEntry(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	require.NoError(t, err)

	err = logger.Log(Entry{
		RunID:    "run-1",
		Kind:     KindCommand,
		Phase:    "setup",
		Subject:  "apt-get install -y curl",
		Outcome:  OutcomeOK,
		Duration: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	// Verify file was created with today's date
	logFile := filepath.Join(dir, time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "run-1", record.RunID)
	assert.Equal(t, KindCommand, record.Kind)
	assert.Equal(t, "apt-get install -y curl", record.Subject)
	assert.Equal(t, int64(100), record.DurationMs)
	assert.NotEmpty(t, record.ActionID)
	assert.Empty(t, record.PrevHash)
	assert.Len(t, record.Hash, 64)

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestHashChainAndVerify(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	require.NoError(t, err)

	for i, subject := range []string{"apt-get update", "ufw --force enable", "remove /etc/fail2ban/jail.local"} {
		kind := KindCommand
		if i == 2 {
			kind = KindUndo
		}
		require.NoError(t, logger.Log(Entry{RunID: "run-1", Kind: kind, Subject: subject, Outcome: OutcomeOK}))
	}

	records, err := logger.ForRun("run-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, records[0].Hash, records[1].PrevHash)
	assert.Equal(t, records[1].Hash, records[2].PrevHash)

	ok, idx, err := logger.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -1, idx)

	// Tamper with the second record.
	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "ufw --force enable", "ufw disable", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	ok, idx, err = logger.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, idx)
}

func TestChainContinuesAcrossLoggers(t *testing.T) {
	dir := t.TempDir()
	first, err := NewLogger(dir)
	require.NoError(t, err)
	require.NoError(t, first.Log(Entry{RunID: "run-1", Kind: KindPhase, Subject: "setup", Outcome: OutcomeOK}))

	second, err := NewLogger(dir)
	require.NoError(t, err)
	require.NoError(t, second.Log(Entry{RunID: "run-2", Kind: KindPhase, Subject: "setup", Outcome: OutcomeFailed, Error: "boom"}))

	recent, err := second.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-2", recent[0].RunID)
	assert.Equal(t, recent[1].Hash, recent[0].PrevHash)

	ok, _, err := second.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedactsBeforeHashing(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	require.NoError(t, err)
	logger.SetRedactor(redact.New(redact.DefaultConfig()))

	require.NoError(t, logger.Log(Entry{
		RunID:   "run-1",
		Kind:    KindCommand,
		Subject: "docker run -e MYSQL_ROOT_PASSWORD=hunter2 mysql:8.0",
		Outcome: OutcomeFailed,
		Error:   "exit 1: MYSQL_ROOT_PASSWORD=hunter2 rejected",
	}))

	recent, err := logger.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.NotContains(t, recent[0].Subject, "hunter2")
	assert.NotContains(t, recent[0].Error, "hunter2")

	ok, _, err := logger.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIgnoresNonDateFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("not json\n"), 0644))

	logger, err := NewLogger(dir)
	require.NoError(t, err)
	require.NoError(t, logger.Log(Entry{RunID: "r", Kind: KindCommand, Subject: "true", Outcome: OutcomeOK}))

	ok, _, err := logger.Verify()
	require.NoError(t, err)
	assert.True(t, ok)
}
