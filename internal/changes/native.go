package changes

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/rjeczalik/notify"
)

const eventBufferSize = 1024

// NativeSource uses the operating system's recursive watch facility.
type NativeSource struct {
	dir       string
	events    chan notify.EventInfo
	done      chan struct{}
	closeOnce sync.Once
}

func NewNativeSource(dir string) (*NativeSource, error) {
	events := make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(dir, "..."), events, notify.All); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	slog.Info("native watcher start", "dir", dir)
	return &NativeSource{
		dir:    dir,
		events: events,
		done:   make(chan struct{}),
	}, nil
}

func (s *NativeSource) WaitForChanged(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", ErrClosed
	case ev := <-s.events:
		slog.Debug("native watcher", "event", ev.Event(), "path", ev.Path())
		return ev.Path(), nil
	}
}

func (s *NativeSource) Close() error {
	s.closeOnce.Do(func() {
		notify.Stop(s.events)
		close(s.done)
		slog.Info("native watcher stopped", "dir", s.dir)
	})
	return nil
}
