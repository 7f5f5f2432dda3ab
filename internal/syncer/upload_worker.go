package syncer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/remotesync/internal/journal"
	"github.com/openmined/remotesync/internal/queue"
	"github.com/openmined/remotesync/internal/remote"
)

// ValidateFunc decides whether a path, relative to the sync root with forward
// slashes, is synced at all.
type ValidateFunc func(relPath string) bool

// UploadRecorder receives every completed upload
type UploadRecorder interface {
	Record(ctx context.Context, e *journal.Entry) error
}

type WorkerConfig struct {
	Root         string
	Validate     ValidateFunc
	Client       remote.Client
	RetryBackoff time.Duration
	// Journal is optional.
	Journal UploadRecorder
	// Target is recorded with each journal entry.
	Target string
	// OnIdle is called whenever the queue drains.
	OnIdle func()
}

// UploadWorker uploads queued paths one at a time through a single client.
// At most one drain goroutine is active; Add starts one when needed.
type UploadWorker struct {
	ctx      context.Context
	root     string
	validate ValidateFunc
	client   remote.Client
	backoff  time.Duration
	journal  UploadRecorder
	target   string
	onIdle   func()
	sleep    func(ctx context.Context, d time.Duration)

	mu      sync.Mutex
	idle    *sync.Cond
	queue   *queue.Deque[string]
	running bool
}

// NewUploadWorker creates a worker whose drain loop stops once ctx ends.
func NewUploadWorker(ctx context.Context, cfg WorkerConfig) *UploadWorker {
	validate := cfg.Validate
	if validate == nil {
		validate = func(string) bool { return true }
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	w := &UploadWorker{
		ctx:      ctx,
		root:     filepath.Clean(cfg.Root),
		validate: validate,
		client:   cfg.Client,
		backoff:  backoff,
		journal:  cfg.Journal,
		target:   cfg.Target,
		onIdle:   cfg.OnIdle,
		sleep:    sleepContext,
		queue:    queue.NewDeque[string](),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

// ValidateFile reports whether localPath is inside the sync root and passes
// the validation predicate. The root itself is valid.
func (w *UploadWorker) ValidateFile(localPath string) bool {
	rel, err := filepath.Rel(w.root, localPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return w.validate(filepath.ToSlash(rel))
}

// ResolveTargetFile maps a local path to its path on the remote, relative to
// the target directory and separated by forward slashes.
func (w *UploadWorker) ResolveTargetFile(localPath string) string {
	rel := strings.TrimPrefix(localPath, w.root)
	rel = strings.TrimLeft(rel, string(filepath.Separator)+"/")
	return filepath.ToSlash(rel)
}

// Add queues localPath, at the front when immediate. A path that is already
// queued keeps its place. Returns false if the path is not valid.
func (w *UploadWorker) Add(localPath string, immediate bool) bool {
	if !w.ValidateFile(localPath) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if immediate {
		w.queue.PushFront(localPath)
	} else {
		w.queue.PushBack(localPath)
	}

	if !w.running {
		w.running = true
		go w.drain()
	}
	return true
}

// Len returns the number of queued paths
func (w *UploadWorker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queue.Len()
}

// Busy reports whether a drain loop is active
func (w *UploadWorker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Wait blocks until no drain loop is active.
func (w *UploadWorker) Wait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.running {
		w.idle.Wait()
	}
}

func (w *UploadWorker) drain() {
	for {
		w.mu.Lock()
		if w.ctx.Err() != nil {
			w.stopLocked()
			w.mu.Unlock()
			return
		}

		localPath, ok := w.queue.PopFront()
		if !ok {
			w.stopLocked()
			w.mu.Unlock()
			if w.onIdle != nil {
				w.onIdle()
			}
			return
		}
		remaining := w.queue.Len()
		w.mu.Unlock()

		w.process(localPath, remaining)
	}
}

// stopLocked marks the drain loop as finished; w.mu must be held
func (w *UploadWorker) stopLocked() {
	w.running = false
	w.idle.Broadcast()
}

func (w *UploadWorker) process(localPath string, remaining int) {
	info, err := os.Stat(localPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("upload skipped", "path", localPath, "error", err)
		}
		return
	}

	if info.IsDir() {
		w.expand(localPath)
		return
	}

	remotePath := w.ResolveTargetFile(localPath)
	slog.Info("upload", "path", remotePath, "size", humanize.Bytes(uint64(info.Size())), "remaining", remaining)

	start := time.Now()
	if err := w.client.Upload(w.ctx, localPath, remotePath); err != nil {
		slog.Error("upload failed", "path", remotePath, "error", err, "retry", w.backoff)
		if cerr := w.client.Close(); cerr != nil {
			slog.Debug("client close", "error", cerr)
		}
		w.sleep(w.ctx, w.backoff)

		w.mu.Lock()
		w.queue.PushBack(localPath)
		w.mu.Unlock()
		return
	}

	took := time.Since(start)
	slog.Debug("upload done", "path", remotePath, "took", took)
	w.record(localPath, remotePath, info, took)
}

// expand queues every entry of dir in place of dir itself
func (w *UploadWorker) expand(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("read dir", "path", dir, "error", err)
		return
	}

	for _, entry := range entries {
		w.Add(filepath.Join(dir, entry.Name()), false)
	}
}

func (w *UploadWorker) record(localPath, remotePath string, info fs.FileInfo, took time.Duration) {
	if w.journal == nil {
		return
	}

	err := w.journal.Record(context.WithoutCancel(w.ctx), &journal.Entry{
		LocalPath:  localPath,
		RemotePath: remotePath,
		Target:     w.target,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Duration:   took,
	})
	if err != nil {
		slog.Warn("journal record", "path", remotePath, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
