package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/openmined/remotesync/internal/watchdog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SftpClient uploads over the sftp subsystem of an ssh connection.
type SftpClient struct {
	target *Target
	opts   Options

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

func NewSftpClient(target *Target, opts Options) *SftpClient {
	return &SftpClient{
		target: target,
		opts:   opts.withDefaults(),
	}
}

func (c *SftpClient) Test(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Getwd(); err != nil {
		c.Close()
		return fmt.Errorf("sftp getwd: %w", err)
	}
	return nil
}

// Upload copies localPath to remotePath in chunks. A missing parent directory
// is created and an unwritable file removed, then the copy is retried once.
func (c *SftpClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := checkLocal(localPath); err != nil {
		return err
	}
	remotePath = resolveRemotePath(c.target.Dir, remotePath)

	for attempt := 0; ; attempt++ {
		err := c.copyFile(ctx, localPath, remotePath)
		if err == nil || attempt > 0 {
			return err
		}

		client, cerr := c.connect(ctx)
		if cerr != nil {
			return err
		}

		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("sftp creating parent", "path", remotePath)
			if merr := client.MkdirAll(path.Dir(remotePath)); merr != nil {
				return fmt.Errorf("sftp mkdir %s: %w", path.Dir(remotePath), merr)
			}
		case errors.Is(err, os.ErrPermission):
			slog.Debug("sftp removing unwritable file", "path", remotePath)
			if rerr := client.Remove(remotePath); rerr != nil {
				return fmt.Errorf("sftp remove %s: %w", remotePath, rerr)
			}
		default:
			return err
		}
	}
}

func (c *SftpClient) copyFile(ctx context.Context, localPath, remotePath string) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("sftp open %s: %w", remotePath, err)
	}

	buf := make([]byte, c.opts.ChunkSize)
	err = watchdog.RunSteps(ctx, c.opts.WatchdogTimeout, func() (bool, error) {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return false, werr
			}
		}
		if rerr == io.EOF {
			return false, dst.Close()
		}
		return rerr == nil, rerr
	})
	if err != nil {
		dst.Close()
		if errors.Is(err, watchdog.ErrTimeout) {
			c.Close()
		}
		return fmt.Errorf("sftp write %s: %w", remotePath, err)
	}

	if err := client.Chtimes(remotePath, info.ModTime(), info.ModTime()); err != nil {
		slog.Debug("sftp set times refused", "path", remotePath, "error", err)
	}
	return nil
}

func (c *SftpClient) GetFileInfo(ctx context.Context, remotePath string) (*FileInfo, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	remotePath = resolveRemotePath(c.target.Dir, remotePath)
	info, err := client.Stat(remotePath)
	if errors.Is(err, os.ErrNotExist) {
		return missingFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sftp stat %s: %w", remotePath, err)
	}

	size := info.Size()
	modTime := info.ModTime()
	return &FileInfo{Exists: true, Size: &size, ModTime: &modTime}, nil
}

func (c *SftpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
		c.sftp = nil
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	return errors.Join(errs...)
}

func (c *SftpClient) connect(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}

	conn, err := dialSSH(ctx, c.target, c.opts.SSH)
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp subsystem: %w", err)
	}

	c.conn = conn
	c.sftp = client
	return client, nil
}
