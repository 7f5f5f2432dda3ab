// Package journal keeps a local history of completed uploads.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/remotesync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    local_path TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    target TEXT NOT NULL,
    size INTEGER NOT NULL,
    mod_time TEXT NOT NULL, -- RFC3339Nano
    uploaded_at TEXT NOT NULL, -- RFC3339Nano
    duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_uploads_uploaded_at ON uploads(uploaded_at);
CREATE INDEX IF NOT EXISTS idx_uploads_remote_path ON uploads(remote_path);
`

// Entry is one completed upload.
type Entry struct {
	ID         int64
	RunID      string
	LocalPath  string
	RemotePath string
	Target     string
	Size       int64
	ModTime    time.Time
	UploadedAt time.Time
	Duration   time.Duration
}

// dbEntry is the row layout; times are stored as TEXT
type dbEntry struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	LocalPath  string `db:"local_path"`
	RemotePath string `db:"remote_path"`
	Target     string `db:"target"`
	Size       int64  `db:"size"`
	ModTime    string `db:"mod_time"`
	UploadedAt string `db:"uploaded_at"`
	DurationMs int64  `db:"duration_ms"`
}

// Journal records uploads under a run id that is fixed for its lifetime.
type Journal struct {
	db    *sqlx.DB
	path  string
	runID string
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Journal, error) {
	conn, err := db.Open(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	j := &Journal{
		db:    conn,
		path:  path,
		runID: uuid.NewString(),
	}
	slog.Debug("journal open", "path", path, "run", j.runID)
	return j, nil
}

// RunID identifies the entries written by this process
func (j *Journal) RunID() string {
	return j.runID
}

// Record stores a completed upload. A zero UploadedAt means now.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e == nil {
		return fmt.Errorf("cannot record nil entry")
	}

	uploadedAt := e.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	row := dbEntry{
		RunID:      j.runID,
		LocalPath:  e.LocalPath,
		RemotePath: e.RemotePath,
		Target:     e.Target,
		Size:       e.Size,
		ModTime:    e.ModTime.UTC().Format(time.RFC3339Nano),
		UploadedAt: uploadedAt.UTC().Format(time.RFC3339Nano),
		DurationMs: e.Duration.Milliseconds(),
	}

	query := `INSERT INTO uploads (run_id, local_path, remote_path, target, size, mod_time, uploaded_at, duration_ms)
	          VALUES (:run_id, :local_path, :remote_path, :target, :size, :mod_time, :uploaded_at, :duration_ms)`
	if _, err := j.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("record upload %s: %w", e.RemotePath, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []dbEntry
	err := j.db.SelectContext(ctx, &rows, `
		SELECT id, run_id, local_path, remote_path, target, size, mod_time, uploaded_at, duration_ms
		FROM uploads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Count returns the number of recorded uploads
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM uploads"); err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}

func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		slog.Error("journal close", "error", err)
		return err
	}
	slog.Debug("journal closed", "path", j.path)
	return nil
}

func (r *dbEntry) toEntry() (*Entry, error) {
	modTime, err := time.Parse(time.RFC3339Nano, r.ModTime)
	if err != nil {
		return nil, fmt.Errorf("parse mod_time of %s: %w", r.RemotePath, err)
	}
	uploadedAt, err := time.Parse(time.RFC3339Nano, r.UploadedAt)
	if err != nil {
		return nil, fmt.Errorf("parse uploaded_at of %s: %w", r.RemotePath, err)
	}

	return &Entry{
		ID:         r.ID,
		RunID:      r.RunID,
		LocalPath:  r.LocalPath,
		RemotePath: r.RemotePath,
		Target:     r.Target,
		Size:       r.Size,
		ModTime:    modTime,
		UploadedAt: uploadedAt,
		Duration:   time.Duration(r.DurationMs) * time.Millisecond,
	}, nil
}
