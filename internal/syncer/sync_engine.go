package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/openmined/remotesync/internal/changes"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/journal"
	"github.com/openmined/remotesync/internal/remote"
	"golang.org/x/sync/errgroup"
)

// Engine mirrors the sync root onto the remote target: one reconciliation
// scan at startup, then every change notification for as long as it runs.
type Engine struct {
	cfg     *config.Config
	root    string
	factory *remote.Factory
	ignore  *SyncIgnoreList
	journal *journal.Journal

	newClient  func() remote.Client
	openSource func(ctx context.Context) (changes.Source, changes.Kind, error)

	scanDone atomic.Bool
}

// NewEngine validates cfg and prepares everything that can fail before any
// connection is made.
func NewEngine(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory, err := remote.NewFactory(cfg.TargetType, cfg.Target, cfg.RemoteOptions())
	if err != nil {
		return nil, err
	}

	ignore := NewSyncIgnoreList(cfg.SourceDir)
	ignore.Load()

	var j *journal.Journal
	if cfg.JournalPath != "" {
		if j, err = journal.Open(cfg.JournalPath); err != nil {
			return nil, err
		}
	}

	root := filepath.Clean(cfg.SourceDir)
	watcherOpts := cfg.WatcherOptions()

	return &Engine{
		cfg:       cfg,
		root:      root,
		factory:   factory,
		ignore:    ignore,
		journal:   j,
		newClient: factory.New,
		openSource: func(ctx context.Context) (changes.Source, changes.Kind, error) {
			return changes.Open(ctx, root, watcherOpts)
		},
	}, nil
}

// Run syncs until ctx is cancelled or a fatal error occurs. Cancellation is
// not an error.
func (e *Engine) Run(ctx context.Context) error {
	lock, err := lockRoot(e.root)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	target := e.TargetName()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := e.newClient()
	defer client.Close()

	worker := NewUploadWorker(ctx, WorkerConfig{
		Root:         e.root,
		Validate:     e.ignore.ShouldSync,
		Client:       client,
		RetryBackoff: e.cfg.RetryBackoff,
		Journal:      e.recorder(),
		Target:       target,
		OnIdle:       e.onIdle,
	})
	defer worker.Wait()
	defer cancel()

	slog.Info("connecting", "target", target)
	if err := client.Test(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}

	src, kind, err := e.openSource(ctx)
	if err != nil {
		return fmt.Errorf("watch %s: %w", e.root, err)
	}
	defer src.Close()
	slog.Info("watching", "dir", e.root, "watcher", kind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.scan(gctx, worker)
	})
	g.Go(func() error {
		return e.listen(gctx, src, worker)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		slog.Info("sync stopped")
		return nil
	}
	return err
}

// Close releases the journal
func (e *Engine) Close() error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Close()
}

func (e *Engine) scan(ctx context.Context, worker *UploadWorker) error {
	client := e.newClient()
	defer client.Close()

	slog.Info("sync started", "dir", e.root)
	stats, err := NewScanner(e.root, worker, client, e.cfg.RetryBackoff).Run(ctx)
	if err != nil {
		return err
	}

	e.scanDone.Store(true)
	slog.Info("sync done",
		"scanned", stats.Scanned,
		"queued", stats.Queued,
		"ignored", stats.Ignored,
		"took", stats.Duration,
	)

	if !worker.Busy() {
		e.onIdle()
	}
	return nil
}

func (e *Engine) listen(ctx context.Context, src changes.Source, worker *UploadWorker) error {
	for {
		path, err := src.WaitForChanged(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watcher: %w", err)
		}

		// events on the root itself would requeue the whole tree
		if path == e.root {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}

		if worker.Add(path, true) {
			slog.Info("changed file", "path", worker.ResolveTargetFile(path))
		}
	}
}

func (e *Engine) onIdle() {
	if e.scanDone.Load() {
		slog.Info("idle")
	} else {
		slog.Info("still syncing")
	}
}

func (e *Engine) recorder() UploadRecorder {
	if e.journal == nil {
		return nil
	}
	return e.journal
}

// TargetName is the target as shown to users, without credentials.
func (e *Engine) TargetName() string {
	t := e.factory.Target()
	return fmt.Sprintf("%s://%s", e.factory.Kind(), t.String())
}
