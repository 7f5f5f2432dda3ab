package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/openmined/remotesync/internal/watchdog"
)

// FtpClient uploads with STOR over a single control connection.
type FtpClient struct {
	target *Target
	opts   Options
	dirs   *dirCache

	mu   sync.Mutex
	conn ftpConn
	dial func(ctx context.Context) (ftpConn, error)
}

// ftpConn is the part of *ftp.ServerConn the client drives
type ftpConn interface {
	NoOp() error
	Stor(path string, r io.Reader) error
	MakeDir(path string) error
	FileSize(path string) (int64, error)
	IsGetTimeSupported() bool
	GetTime(path string) (time.Time, error)
	Quit() error
}

func NewFtpClient(target *Target, opts Options) *FtpClient {
	c := &FtpClient{
		target: target,
		opts:   opts.withDefaults(),
		dirs:   newDirCache(),
	}
	c.dial = c.dialServer
	return c
}

func (c *FtpClient) Test(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.NoOp(); err != nil {
		c.Close()
		return fmt.Errorf("ftp noop: %w", err)
	}
	return nil
}

// Upload streams localPath to remotePath. When the server refuses the file
// as unavailable the parent directories are created and the upload retried
// once.
func (c *FtpClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := checkLocal(localPath); err != nil {
		return err
	}
	remotePath = resolveRemotePath(c.target.Dir, remotePath)

	err := c.store(ctx, localPath, remotePath)
	if err == nil || !isFileUnavailable(err) {
		return err
	}

	slog.Debug("ftp creating parent", "path", remotePath, "error", err)
	if err := c.makeParents(ctx, remotePath); err != nil {
		return err
	}
	return c.store(ctx, localPath, remotePath)
}

func (c *FtpClient) store(ctx context.Context, localPath, remotePath string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	stream := openStorStream(conn, remotePath)
	buf := make([]byte, c.opts.ChunkSize)

	err = watchdog.RunSteps(ctx, c.opts.WatchdogTimeout, func() (bool, error) {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := stream.Write(buf[:n]); werr != nil {
				return false, werr
			}
		}
		if rerr == io.EOF {
			// waits for the server to acknowledge the transfer
			return false, stream.Close()
		}
		return rerr == nil, rerr
	})
	if err != nil {
		stream.Abort(err)
		if errors.Is(err, watchdog.ErrTimeout) {
			c.Close()
		}
		return fmt.Errorf("ftp stor %s: %w", remotePath, err)
	}
	return nil
}

// makeParents creates every directory leading up to remotePath that is not
// already known to exist.
func (c *FtpClient) makeParents(ctx context.Context, remotePath string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	dir := path.Dir(remotePath)
	if dir == "." || dir == "/" {
		return nil
	}

	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if c.dirs.Has(current) {
			continue
		}
		// an existing directory answers with an error too
		if err := conn.MakeDir(current); err != nil {
			slog.Debug("ftp mkdir", "dir", current, "error", err)
		}
		c.dirs.Add(current)
	}
	return nil
}

// GetFileInfo queries SIZE and, when the server supports it, MDTM.
func (c *FtpClient) GetFileInfo(ctx context.Context, remotePath string) (*FileInfo, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	remotePath = resolveRemotePath(c.target.Dir, remotePath)

	size, err := conn.FileSize(remotePath)
	if isFileUnavailable(err) {
		return missingFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ftp size %s: %w", remotePath, err)
	}

	info := &FileInfo{Exists: true, Size: &size}
	if conn.IsGetTimeSupported() {
		modTime, err := conn.GetTime(remotePath)
		if err != nil {
			slog.Debug("ftp mdtm", "path", remotePath, "error", err)
		} else {
			info.ModTime = &modTime
		}
	}
	return info, nil
}

func (c *FtpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	c.dirs.Purge()
	return err
}

func (c *FtpClient) connect(ctx context.Context) (ftpConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *FtpClient) dialServer(ctx context.Context) (ftpConn, error) {
	addr := c.target.Addr()
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.opts.FTP.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", addr, err)
	}

	if err := conn.Login(c.target.User, c.target.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login %s@%s: %w", c.target.User, addr, err)
	}

	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp binary mode: %w", err)
	}

	slog.Debug("ftp connected", "addr", addr, "user", c.target.User)
	return conn, nil
}

func isFileUnavailable(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

// storStream adapts the reader-driven Stor into a writer, so the upload can be
// pushed chunk by chunk.
type storStream struct {
	pw   *io.PipeWriter
	done chan error
}

func openStorStream(conn ftpConn, remotePath string) *storStream {
	pr, pw := io.Pipe()
	s := &storStream{pw: pw, done: make(chan error, 1)}

	go func() {
		err := conn.Stor(remotePath, pr)
		if err != nil {
			// unblocks pending writes with the server's answer
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		s.done <- err
	}()

	return s
}

func (s *storStream) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// Close ends the upload and waits for the server's verdict
func (s *storStream) Close() error {
	s.pw.Close()
	return <-s.done
}

// Abort ends the upload with err
func (s *storStream) Abort(err error) {
	s.pw.CloseWithError(err)
}
