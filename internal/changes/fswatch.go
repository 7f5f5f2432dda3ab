package changes

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openmined/remotesync/internal/queue"
)

const probeTimeout = 5 * time.Second

// Probe checks that bin is a working fswatch by asking it for its usage.
func Probe(ctx context.Context, bin string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "--help")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probe %s: %w", bin, err)
	}
	return nil
}

// FswatchSource reads changed paths from a long-running fswatch process.
// A path already waiting to be consumed is not queued again.
type FswatchSource struct {
	dir string
	cmd *exec.Cmd

	mu      sync.Mutex
	pending *queue.Deque[string]

	ready     chan struct{}
	closed    chan struct{}
	exited    chan struct{}
	exitErr   error
	closeOnce sync.Once
}

func NewFswatchSource(dir, bin string) (*FswatchSource, error) {
	cmd := exec.Command(bin, "-r", ".")
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("fswatch stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("fswatch start: %w", err)
	}

	s := &FswatchSource{
		dir:     dir,
		cmd:     cmd,
		pending: queue.NewDeque[string](),
		ready:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
		exited:  make(chan struct{}),
	}

	slog.Info("fswatch watcher start", "dir", dir, "bin", bin, "pid", cmd.Process.Pid)

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			s.push(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			slog.Debug("fswatch read", "error", err)
		}
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()

	return s, nil
}

func (s *FswatchSource) push(line string) {
	p := s.resolveLine(line)
	if p == "" {
		return
	}

	s.mu.Lock()
	added := s.pending.PushBack(p)
	s.mu.Unlock()

	if added {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

// resolveLine turns a line of fswatch output into an absolute path
func (s *FswatchSource) resolveLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if filepath.IsAbs(line) {
		return filepath.Clean(line)
	}
	return filepath.Join(s.dir, line)
}

func (s *FswatchSource) WaitForChanged(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		p, ok := s.pending.PopFront()
		s.mu.Unlock()
		if ok {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.closed:
			return "", ErrClosed
		case <-s.exited:
			select {
			case <-s.closed:
				return "", ErrClosed
			default:
			}
			// drain whatever was read before the exit
			s.mu.Lock()
			empty := s.pending.Len() == 0
			s.mu.Unlock()
			if empty {
				return "", fmt.Errorf("%w: %v", ErrProcessExited, s.exitErr)
			}
		case <-s.ready:
		}
	}
}

func (s *FswatchSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.cmd.Process != nil {
			err = s.cmd.Process.Kill()
		}
		slog.Info("fswatch watcher stopped", "dir", s.dir)
	})

	select {
	case <-s.exited:
		// killed or already gone
		return nil
	case <-time.After(time.Second):
		return err
	}
}
