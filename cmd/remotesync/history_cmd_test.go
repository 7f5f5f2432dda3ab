package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/remotesync/internal/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHistory(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(append([]string{"history"}, args...), noConfig(t)...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestHistoryCommand_NoJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	out, err := runHistory(t, "--journal", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no uploads recorded")
	assert.NoFileExists(t, path)
}

func TestHistoryCommand_ListsNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := journal.Open(path)
	require.NoError(t, err)
	for _, p := range []string{"old.txt", "new.txt"} {
		require.NoError(t, j.Record(t.Context(), &journal.Entry{
			LocalPath:  "/src/" + p,
			RemotePath: p,
			Target:     "sftp://me@host:22/srv",
			Size:       2048,
			ModTime:    time.Now(),
			Duration:   150 * time.Millisecond,
		}))
	}
	runID := j.RunID()
	require.NoError(t, j.Close())

	out, err := runHistory(t, "--journal", path, "--limit", "1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "UPLOADED")
	assert.Contains(t, lines[1], "new.txt")
	assert.Contains(t, lines[1], "2.0 kB")
	assert.Contains(t, lines[1], "sftp://me@host:22/srv")
	assert.Contains(t, lines[1], runID[:8])
	assert.NotContains(t, out, "old.txt")
	assert.Contains(t, lines[2], "showing 1 of 2 uploads")
}

func TestHistoryCommand_JournalDisabled(t *testing.T) {
	_, err := runHistory(t, "--journal", "")
	assert.ErrorContains(t, err, "journal is disabled")
}
