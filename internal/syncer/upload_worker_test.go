package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, root string, client *fakeClient) *UploadWorker {
	t.Helper()
	ignore := NewSyncIgnoreList(root)
	ignore.Load()

	w := NewUploadWorker(t.Context(), WorkerConfig{
		Root:         root,
		Validate:     ignore.ShouldSync,
		Client:       client,
		RetryBackoff: time.Second,
	})
	w.sleep = func(ctx context.Context, d time.Duration) {}
	return w
}

func TestUploadWorker_ValidateFile(t *testing.T) {
	root := t.TempDir()
	w := newTestWorker(t, root, newFakeClient())

	assert.True(t, w.ValidateFile(root))
	assert.True(t, w.ValidateFile(filepath.Join(root, "a.txt")))
	assert.True(t, w.ValidateFile(filepath.Join(root, "dir", "b.txt")))

	assert.False(t, w.ValidateFile(filepath.Join(root, ".git", "config")))
	assert.False(t, w.ValidateFile(filepath.Join(root, SyncIgnoreFile)))
	assert.False(t, w.ValidateFile(filepath.Dir(root)))
	assert.False(t, w.ValidateFile(filepath.Join(filepath.Dir(root), "sibling.txt")))
}

func TestUploadWorker_ResolveTargetFile(t *testing.T) {
	root := filepath.FromSlash("/data/src")
	w := NewUploadWorker(t.Context(), WorkerConfig{Root: root, Client: newFakeClient()})

	for _, rel := range []string{"a.txt", "dir/b.txt", "x/y/z/deep.bin"} {
		local := filepath.Join(root, filepath.FromSlash(rel))
		assert.Equal(t, rel, w.ResolveTargetFile(local))
		assert.Equal(t, rel, w.ResolveTargetFile(root+string(filepath.Separator)+filepath.FromSlash(rel)))
	}
}

func TestUploadWorker_AddInvalidIsNoop(t *testing.T) {
	root := t.TempDir()
	client := newFakeClient()
	w := newTestWorker(t, root, client)

	assert.False(t, w.Add(filepath.Join(root, ".hidden"), true))
	assert.False(t, w.Add("/elsewhere/file.txt", false))
	assert.Equal(t, 0, w.Len())
	assert.False(t, w.Busy())
	assert.Empty(t, client.Uploads())
}

func TestUploadWorker_IdempotentEnqueue(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blocker.txt"), 1)
	writeFile(t, filepath.Join(root, "a.txt"), 1)

	client := newFakeClient()
	client.gate = make(chan struct{})
	client.started = make(chan string, 8)
	w := newTestWorker(t, root, client)

	require.True(t, w.Add(filepath.Join(root, "blocker.txt"), false))
	assert.Equal(t, "blocker.txt", <-client.started)

	// queued twice while the drain loop is busy
	assert.True(t, w.Add(filepath.Join(root, "a.txt"), false))
	assert.True(t, w.Add(filepath.Join(root, "a.txt"), false))
	assert.True(t, w.Add(filepath.Join(root, "a.txt"), true))
	assert.Equal(t, 1, w.Len())

	close(client.gate)
	waitIdle(t, w)
	assert.Equal(t, []string{"blocker.txt", "a.txt"}, client.Uploads())
}

func TestUploadWorker_ImmediateServicedFirst(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"blocker.txt", "backlog-1.txt", "backlog-2.txt", "changed.txt"} {
		writeFile(t, filepath.Join(root, name), 1)
	}

	client := newFakeClient()
	client.gate = make(chan struct{})
	client.started = make(chan string, 8)
	w := newTestWorker(t, root, client)

	require.True(t, w.Add(filepath.Join(root, "blocker.txt"), false))
	<-client.started

	w.Add(filepath.Join(root, "backlog-1.txt"), false)
	w.Add(filepath.Join(root, "backlog-2.txt"), false)
	w.Add(filepath.Join(root, "changed.txt"), true)

	close(client.gate)
	waitIdle(t, w)
	assert.Equal(t, []string{"blocker.txt", "changed.txt", "backlog-1.txt", "backlog-2.txt"}, client.Uploads())
}

func TestUploadWorker_DirectoryExpansion(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs")
	writeFile(t, filepath.Join(dir, "a.txt"), 3)
	writeFile(t, filepath.Join(dir, "b.txt"), 4)
	writeFile(t, filepath.Join(dir, "nested", "c.txt"), 5)
	writeFile(t, filepath.Join(dir, ".secret"), 6)

	client := newFakeClient()
	w := newTestWorker(t, root, client)

	require.True(t, w.Add(dir, true))
	waitIdle(t, w)

	assert.ElementsMatch(t, []string{"docs/a.txt", "docs/b.txt", "docs/nested/c.txt"}, client.Uploads())
	for _, p := range client.Uploads() {
		assert.NotEqual(t, "docs", p)
	}
}

func TestUploadWorker_VanishedPathDropped(t *testing.T) {
	root := t.TempDir()
	client := newFakeClient()
	w := newTestWorker(t, root, client)

	require.True(t, w.Add(filepath.Join(root, "gone.txt"), true))
	waitIdle(t, w)

	assert.Empty(t, client.Uploads())
	assert.Equal(t, 0, client.Closes())
}

func TestUploadWorker_RetryAfterFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)

	client := newFakeClient()
	client.uploadErr = []error{errors.New("connection reset")}
	w := newTestWorker(t, root, client)

	var mu sync.Mutex
	var slept []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		// the client must already be closed when backing off
		assert.Equal(t, 1, client.Closes())
		slept = append(slept, d)
	}

	require.True(t, w.Add(filepath.Join(root, "a.txt"), false))
	waitIdle(t, w)

	assert.Equal(t, []string{"a.txt"}, client.Uploads())
	assert.Equal(t, 1, client.Closes())
	mu.Lock()
	assert.Equal(t, []time.Duration{time.Second}, slept)
	mu.Unlock()
}

func TestUploadWorker_FailedPathGoesToBack(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "blocker.txt"), 1)
	writeFile(t, filepath.Join(root, "flaky.txt"), 1)
	writeFile(t, filepath.Join(root, "other.txt"), 1)

	client := newFakeClient()
	client.gate = make(chan struct{})
	client.started = make(chan string, 8)
	// blocker succeeds, flaky fails once
	client.uploadErr = []error{nil, errors.New("timeout")}
	w := newTestWorker(t, root, client)

	w.Add(filepath.Join(root, "blocker.txt"), false)
	<-client.started
	w.Add(filepath.Join(root, "flaky.txt"), false)
	w.Add(filepath.Join(root, "other.txt"), false)

	close(client.gate)
	waitIdle(t, w)
	assert.Equal(t, []string{"blocker.txt", "other.txt", "flaky.txt"}, client.Uploads())
}

func TestUploadWorker_OnIdleAndRestart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 1)
	writeFile(t, filepath.Join(root, "b.txt"), 1)

	idle := make(chan struct{}, 4)
	client := newFakeClient()
	w := NewUploadWorker(t.Context(), WorkerConfig{
		Root:   root,
		Client: client,
		OnIdle: func() { idle <- struct{}{} },
	})

	w.Add(filepath.Join(root, "a.txt"), false)
	<-idle
	assert.False(t, w.Busy())

	// a later add starts a fresh drain loop
	w.Add(filepath.Join(root, "b.txt"), false)
	<-idle
	assert.Equal(t, []string{"a.txt", "b.txt"}, client.Uploads())
}

func TestUploadWorker_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 1)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	client := newFakeClient()
	w := NewUploadWorker(ctx, WorkerConfig{Root: root, Client: client})
	w.Add(filepath.Join(root, "a.txt"), false)
	waitIdle(t, w)

	assert.Empty(t, client.Uploads())
	assert.Equal(t, 1, w.Len())
}

func TestUploadWorker_ConcurrentAdds(t *testing.T) {
	root := t.TempDir()
	var names []string
	for i := range 50 {
		name := strings.Repeat("f", i%5+1) + string(rune('a'+i%26)) + ".txt"
		writeFile(t, filepath.Join(root, name), 1)
		names = append(names, name)
	}

	client := newFakeClient()
	w := newTestWorker(t, root, client)

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Add(filepath.Join(root, name), true)
		}()
	}
	wg.Wait()
	waitIdle(t, w)

	uploaded := map[string]bool{}
	for _, p := range client.Uploads() {
		uploaded[p] = true
	}
	for _, name := range names {
		assert.True(t, uploaded[name], name)
	}
}
