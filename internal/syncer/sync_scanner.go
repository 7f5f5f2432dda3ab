package syncer

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/remotesync/internal/remote"
)

// Enqueuer is the part of the upload worker the scanner feeds
type Enqueuer interface {
	ValidateFile(localPath string) bool
	ResolveTargetFile(localPath string) string
	Add(localPath string, immediate bool) bool
}

type ScanStats struct {
	Scanned  int
	Queued   int
	Ignored  int
	Duration time.Duration
}

// Scanner walks the sync root once and queues every file that differs from
// its remote copy.
type Scanner struct {
	root    string
	queue   Enqueuer
	client  remote.Client
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration)
}

func NewScanner(root string, queue Enqueuer, client remote.Client, backoff time.Duration) *Scanner {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Scanner{
		root:    filepath.Clean(root),
		queue:   queue,
		client:  client,
		backoff: backoff,
		sleep:   sleepContext,
	}
}

// Run walks the tree. Remote lookups are retried until they succeed, so the
// only error returned is the context's.
func (s *Scanner) Run(ctx context.Context) (*ScanStats, error) {
	start := time.Now()
	stats := &ScanStats{}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			slog.Warn("scan", "path", path, "error", err)
			return nil
		}

		if d.IsDir() {
			if path != s.root && !s.queue.ValidateFile(path) {
				stats.Ignored++
				return filepath.SkipDir
			}
			return nil
		}

		if !s.queue.ValidateFile(path) {
			stats.Ignored++
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			// vanished since the directory was read
			return nil
		}
		if info.IsDir() {
			return nil
		}
		stats.Scanned++

		remoteInfo, err := s.remoteInfo(ctx, path)
		if err != nil {
			return err
		}

		if IsDirty(info, remoteInfo) {
			slog.Debug("scan dirty", "path", path)
			if s.queue.Add(path, false) {
				stats.Queued++
			}
		}
		return nil
	})

	stats.Duration = time.Since(start)
	return stats, err
}

// remoteInfo looks up path on the remote, retrying until it succeeds or ctx ends
func (s *Scanner) remoteInfo(ctx context.Context, path string) (*remote.FileInfo, error) {
	remotePath := s.queue.ResolveTargetFile(path)
	for {
		info, err := s.client.GetFileInfo(ctx, remotePath)
		if err == nil {
			return info, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Error("scan remote info", "path", remotePath, "error", err, "retry", s.backoff)
		if cerr := s.client.Close(); cerr != nil {
			slog.Debug("client close", "error", cerr)
		}
		s.sleep(ctx, s.backoff)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// IsDirty reports whether the remote copy differs from the local file: it is
// missing, its size is known and different, or its timestamp is known and
// older than the local one.
func IsDirty(local fs.FileInfo, remoteInfo *remote.FileInfo) bool {
	if remoteInfo == nil || !remoteInfo.Exists {
		return true
	}
	if remoteInfo.Size != nil && *remoteInfo.Size != local.Size() {
		return true
	}
	if remoteInfo.ModTime != nil && local.ModTime().After(*remoteInfo.ModTime) {
		return true
	}
	return false
}
