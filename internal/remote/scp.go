package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	scp "github.com/bramvdbogaerde/go-scp"
	"github.com/openmined/remotesync/internal/watchdog"
	"golang.org/x/crypto/ssh"
)

const scpMaxRetries = 2

// ScpClient uploads over the scp protocol and inspects remote files by
// running stat over an ssh session.
type ScpClient struct {
	target *Target
	opts   Options

	mu   sync.Mutex
	conn *ssh.Client

	// the transfer and remote shell steps of Upload
	transfer func(ctx context.Context, localPath, remotePath string) error
	run      func(ctx context.Context, cmd string) (string, error)
}

func NewScpClient(target *Target, opts Options) *ScpClient {
	c := &ScpClient{
		target: target,
		opts:   opts.withDefaults(),
	}
	c.transfer = c.copyFile
	c.run = c.runCommand
	return c
}

func (c *ScpClient) Test(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// Upload copies localPath to remotePath. An upload refused with permission
// denied removes the remote file first, and one into a missing directory
// creates it first. Both are retried a bounded number of times.
func (c *ScpClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := checkLocal(localPath); err != nil {
		return err
	}
	remotePath = resolveRemotePath(c.target.Dir, remotePath)

	for attempt := 0; ; attempt++ {
		err := c.transfer(ctx, localPath, remotePath)
		if err == nil {
			return nil
		}

		if errors.Is(err, watchdog.ErrTimeout) {
			c.Close()
			return fmt.Errorf("scp %s: %w", remotePath, err)
		}

		// go-scp does not ask the sink to preserve times, but servers that
		// force -p report this once the data has landed
		if isSetTimesError(err) {
			slog.Debug("scp set times refused", "path", remotePath, "error", err)
			return nil
		}

		var fix string
		switch {
		case attempt >= scpMaxRetries:
		case isPermissionDenied(err):
			fix = "rm -f " + shellQuote(remotePath)
		case isNoSuchFile(err):
			fix = "mkdir -p " + shellQuote(path.Dir(remotePath))
		}
		if fix == "" {
			return fmt.Errorf("scp %s: %w", remotePath, err)
		}

		slog.Debug("scp retry", "path", remotePath, "attempt", attempt+1, "fix", fix, "error", err)
		if out, ferr := c.run(ctx, fix); ferr != nil {
			return fmt.Errorf("scp %s: %w (%s: %s)", remotePath, err, fix, strings.TrimSpace(out))
		}
	}
}

func (c *ScpClient) copyFile(ctx context.Context, localPath, remotePath string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	client, err := scp.NewClientBySSH(conn)
	if err != nil {
		return fmt.Errorf("scp session: %w", err)
	}

	// errors are returned as the server reported them, Upload classifies them
	perms := fmt.Sprintf("%04o", info.Mode().Perm())
	return watchdog.Run(ctx, c.opts.WatchdogTimeout, func(ctx context.Context, hb *watchdog.Heartbeat) error {
		return client.CopyPassThru(ctx, f, remotePath, perms, info.Size(), func(r io.Reader, total int64) io.Reader {
			return watchdog.Reader(r, hb)
		})
	})
}

// GetFileInfo runs stat on the remote. Output that cannot be parsed leaves
// the corresponding field unknown.
func (c *ScpClient) GetFileInfo(ctx context.Context, remotePath string) (*FileInfo, error) {
	remotePath = resolveRemotePath(c.target.Dir, remotePath)

	out, err := c.run(ctx, "LC_ALL=C stat "+shellQuote(remotePath))
	if strings.Contains(out, "No such file or directory") {
		return missingFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w: %s", remotePath, err, strings.TrimSpace(out))
	}
	return parseStat(out), nil
}

func (c *ScpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *ScpClient) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := dialSSH(ctx, c.target, c.opts.SSH)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// runCommand executes cmd in a new ssh session and returns its combined output
func (c *ScpClient) runCommand(ctx context.Context, cmd string) (string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return "", err
	}

	session, err := conn.NewSession()
	if err != nil {
		c.Close()
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

// scpReason returns the server's reason for a failure, the text after the
// last ": " of the error, so paths in the message are never matched.
func scpReason(err error) string {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func isPermissionDenied(err error) bool {
	return scpReason(err) == "permission denied"
}

func isNoSuchFile(err error) bool {
	return scpReason(err) == "no such file or directory"
}

func isSetTimesError(err error) bool {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.HasSuffix(msg, "set times: operation not permitted")
}

// shellQuote wraps s in single quotes for a POSIX shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
