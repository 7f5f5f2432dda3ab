// Package remote provides clients that push local files to a remote store.
//
// Every client connects lazily on first use and drops back to disconnected on
// Close, on unrecoverable errors, and when a transfer stalls past the watchdog
// timeout. A client instance is meant to be driven by one goroutine at a time;
// callers that work in parallel create one client each from the same Factory.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/openmined/remotesync/internal/watchdog"
)

const (
	defaultChunkSize  = 32 * 1024
	defaultSSHPort    = 22
	defaultFTPPort    = 21
	defaultDialTimout = 30 * time.Second
)

var (
	ErrUnknownTargetType = errors.New("unknown target type")
	ErrInvalidTarget     = errors.New("invalid target")
)

// Client is a connection to a remote store.
type Client interface {
	// Test connects to the remote, failing if it is unreachable.
	Test(ctx context.Context) error
	// Upload copies localPath to remotePath. A relative remotePath is
	// resolved against the target's base directory.
	Upload(ctx context.Context, localPath, remotePath string) error
	// GetFileInfo looks up remotePath. A missing file is not an error.
	GetFileInfo(ctx context.Context, remotePath string) (*FileInfo, error)
	// Close disconnects. The next call reconnects.
	Close() error
}

// FileInfo describes a remote file. Size and ModTime are nil when the remote
// could not report them.
type FileInfo struct {
	Exists  bool
	Size    *int64
	ModTime *time.Time
}

func missingFile() *FileInfo {
	return &FileInfo{Exists: false}
}

type SSHOptions struct {
	Port           int
	KeyDir         string
	KnownHostsFile string
	Timeout        time.Duration
}

type FTPOptions struct {
	Port    int
	Timeout time.Duration
}

type S3Options struct {
	Region   string
	Endpoint string
}

// Options tunes every client minted by a Factory.
type Options struct {
	// WatchdogTimeout bounds how long a transfer may go without progress.
	WatchdogTimeout time.Duration
	// ChunkSize is the unit of work for chunked copies.
	ChunkSize int

	SSH SSHOptions
	FTP FTPOptions
	S3  S3Options
}

func (o Options) withDefaults() Options {
	if o.WatchdogTimeout <= 0 {
		o.WatchdogTimeout = watchdog.DefaultTimeout
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.SSH.Port <= 0 {
		o.SSH.Port = defaultSSHPort
	}
	if o.SSH.Timeout <= 0 {
		o.SSH.Timeout = defaultDialTimout
	}
	if o.FTP.Timeout <= 0 {
		o.FTP.Timeout = defaultDialTimout
	}
	return o
}

// resolveRemotePath joins a relative remote path onto the base directory
func resolveRemotePath(baseDir, remotePath string) string {
	if strings.HasPrefix(remotePath, "/") || baseDir == "" {
		return remotePath
	}
	return path.Join(baseDir, remotePath)
}

// checkLocal fails early when the local file is gone, so that its absence is
// not mistaken for a missing remote directory.
func checkLocal(localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}
	return nil
}
