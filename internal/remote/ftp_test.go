package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/openmined/remotesync/internal/watchdog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFileUnavailable(t *testing.T) {
	unavailable := &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file or directory"}
	assert.True(t, isFileUnavailable(unavailable))
	assert.True(t, isFileUnavailable(fmt.Errorf("ftp stor a.txt: %w", unavailable)))

	assert.False(t, isFileUnavailable(&textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "Not logged in"}))
	assert.False(t, isFileUnavailable(errors.New("550 lookalike")))
	assert.False(t, isFileUnavailable(nil))
}

func TestDirCache(t *testing.T) {
	cache := newDirCache()
	assert.False(t, cache.Has("a/b"))

	cache.Add("a/b")
	assert.True(t, cache.Has("a/b"))
	assert.False(t, cache.Has("a"))

	cache.Purge()
	assert.False(t, cache.Has("a/b"))
}

func TestFtpUpload_MissingLocalFile(t *testing.T) {
	c := NewFtpClient(&Target{User: "bob", Host: "127.0.0.1", Port: 1}, Options{})
	err := c.Upload(t.Context(), "/nonexistent/file.txt", "file.txt")
	assert.Error(t, err)
	// never dialed
	assert.Nil(t, c.conn)
}

// fakeFtpConn stores files in memory and answers 550 for files whose
// directory was never created.
type fakeFtpConn struct {
	mu     sync.Mutex
	dirs   map[string]bool
	files  map[string][]byte
	mkdirs []string
	stors  int
	quits  int

	// keepMissing ignores MakeDir, so every Stor answers 550
	keepMissing bool
	// stall, when set, blocks Stor without reading until Quit
	stall chan struct{}
}

func newFakeFtpConn() *fakeFtpConn {
	return &fakeFtpConn{
		dirs:  map[string]bool{".": true, "/": true},
		files: map[string][]byte{},
	}
}

func (f *fakeFtpConn) NoOp() error { return nil }

func (f *fakeFtpConn) Stor(p string, r io.Reader) error {
	f.mu.Lock()
	f.stors++
	stall := f.stall
	exists := f.dirs[path.Dir(p)]
	f.mu.Unlock()

	if stall != nil {
		<-stall
		return errors.New("connection closed")
	}
	if !exists {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file or directory"}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.files[p] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeFtpConn) MakeDir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirs = append(f.mkdirs, p)
	if !f.keepMissing {
		f.dirs[p] = true
	}
	return nil
}

func (f *fakeFtpConn) FileSize(p string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return 0, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"}
	}
	return int64(len(data)), nil
}

func (f *fakeFtpConn) IsGetTimeSupported() bool { return false }

func (f *fakeFtpConn) GetTime(p string) (time.Time, error) {
	return time.Time{}, errors.New("not supported")
}

func (f *fakeFtpConn) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	if f.stall != nil {
		close(f.stall)
		f.stall = nil
	}
	return nil
}

func newFakeFtpClient(t *testing.T, conn *fakeFtpConn, opts Options) *FtpClient {
	t.Helper()
	c := NewFtpClient(&Target{User: "bob", Host: "ftp.example.com", Port: 21, Dir: "uploads"}, opts)
	c.dial = func(ctx context.Context) (ftpConn, error) {
		return conn, nil
	}
	return c
}

func writeLocalFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestFtpUpload_CreatesParentsOn550(t *testing.T) {
	conn := newFakeFtpConn()
	c := newFakeFtpClient(t, conn, Options{})

	require.NoError(t, c.Upload(t.Context(), writeLocalFile(t, "hello ftp"), "a/b/c.txt"))

	assert.Equal(t, 2, conn.stors)
	assert.Equal(t, []string{"uploads", "uploads/a", "uploads/a/b"}, conn.mkdirs)
	assert.Equal(t, "hello ftp", string(conn.files["uploads/a/b/c.txt"]))

	info, err := c.GetFileInfo(t.Context(), "a/b/c.txt")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	require.NotNil(t, info.Size)
	assert.Equal(t, int64(9), *info.Size)
	assert.Nil(t, info.ModTime)
}

func TestFtpUpload_RetriesOnlyOnce(t *testing.T) {
	conn := newFakeFtpConn()
	conn.keepMissing = true
	c := newFakeFtpClient(t, conn, Options{})

	err := c.Upload(t.Context(), writeLocalFile(t, "x"), "a/c.txt")
	assert.True(t, isFileUnavailable(err), "got %v", err)
	assert.Equal(t, 2, conn.stors)
	assert.Equal(t, []string{"uploads", "uploads/a"}, conn.mkdirs)

	// directories already tried are not created again on this connection
	err = c.Upload(t.Context(), writeLocalFile(t, "x"), "a/c.txt")
	assert.True(t, isFileUnavailable(err), "got %v", err)
	assert.Equal(t, 4, conn.stors)
	assert.Len(t, conn.mkdirs, 2)
}

func TestFtpUpload_StallDisconnects(t *testing.T) {
	conn := newFakeFtpConn()
	conn.stall = make(chan struct{})
	c := newFakeFtpClient(t, conn, Options{WatchdogTimeout: 50 * time.Millisecond})

	err := c.Upload(t.Context(), writeLocalFile(t, "never read"), "c.txt")
	require.ErrorIs(t, err, watchdog.ErrTimeout)

	c.mu.Lock()
	assert.Nil(t, c.conn)
	c.mu.Unlock()
	conn.mu.Lock()
	assert.Equal(t, 1, conn.quits)
	conn.mu.Unlock()
}

func TestFtpGetFileInfo_Missing(t *testing.T) {
	c := newFakeFtpClient(t, newFakeFtpConn(), Options{})

	info, err := c.GetFileInfo(t.Context(), "nope.txt")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}
