package syncer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openmined/remotesync/internal/changes"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory remote
type fakeClient struct {
	mu        sync.Mutex
	files     map[string]*remote.FileInfo
	uploads   []string
	lookups   []string
	uploadErr []error
	infoErr   []error
	testErr   error
	closes    int
	// gate, when set, blocks every upload until it receives a value
	gate    chan struct{}
	started chan string
}

func newFakeClient() *fakeClient {
	return &fakeClient{files: make(map[string]*remote.FileInfo)}
}

func (c *fakeClient) Test(ctx context.Context) error {
	return c.testErr
}

func (c *fakeClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if c.started != nil {
		c.started <- remotePath
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.uploadErr) > 0 {
		err := c.uploadErr[0]
		c.uploadErr = c.uploadErr[1:]
		if err != nil {
			return err
		}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		panic("directory uploaded: " + localPath)
	}

	size := info.Size()
	modTime := info.ModTime()
	c.files[remotePath] = &remote.FileInfo{Exists: true, Size: &size, ModTime: &modTime}
	c.uploads = append(c.uploads, remotePath)
	return nil
}

func (c *fakeClient) GetFileInfo(ctx context.Context, remotePath string) (*remote.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups = append(c.lookups, remotePath)
	if len(c.infoErr) > 0 {
		err := c.infoErr[0]
		c.infoErr = c.infoErr[1:]
		if err != nil {
			return nil, err
		}
	}

	if info, ok := c.files[remotePath]; ok {
		return info, nil
	}
	return &remote.FileInfo{Exists: false}, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeClient) Uploads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.uploads...)
}

func (c *fakeClient) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// fakeSource delivers whatever is sent on its channel
type fakeSource struct {
	paths  chan string
	err    chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		paths:  make(chan string, 16),
		err:    make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) WaitForChanged(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.closed:
		return "", changes.ErrClosed
	case err := <-s.err:
		return "", err
	case p := <-s.paths:
		return p, nil
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// recordingQueue captures what the scanner enqueues
type recordingQueue struct {
	*UploadWorker
	mu    sync.Mutex
	added []string
}

func (q *recordingQueue) Add(localPath string, immediate bool) bool {
	if !q.ValidateFile(localPath) {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added = append(q.added, q.ResolveTargetFile(localPath))
	return true
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func waitIdle(t *testing.T, w *UploadWorker) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "worker did not go idle")
	}
}

func (c *fakeClient) lookupsSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lookups...)
}
