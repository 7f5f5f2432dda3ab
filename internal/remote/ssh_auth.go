package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/openmined/remotesync/internal/utils"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// serialises appends to known_hosts across clients
var knownHostsMu sync.Mutex

// dialSSH opens an authenticated ssh connection to the target
func dialSSH(ctx context.Context, target *Target, opts SSHOptions) (*ssh.Client, error) {
	auth, err := sshAuthMethods(target, opts.KeyDir)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: trustOnFirstUse(opts.KnownHostsFile),
		Timeout:         opts.Timeout,
	}

	addr := target.Addr()
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}

	slog.Debug("ssh connected", "addr", addr, "user", target.User)
	return ssh.NewClient(c, chans, reqs), nil
}

// sshAuthMethods offers every private key in keyDir that has a matching .pub
// file, followed by the target password if there is one.
func sshAuthMethods(target *Target, keyDir string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if signers := loadSigners(keyDir); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if target.Password != "" {
		password := target.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh: no usable keys in %q and no password for %s", keyDir, target.User)
	}
	return methods, nil
}

func loadSigners(keyDir string) []ssh.Signer {
	if keyDir == "" {
		return nil
	}

	entries, err := os.ReadDir(keyDir)
	if err != nil {
		slog.Debug("ssh key dir unreadable", "dir", keyDir, "error", err)
		return nil
	}

	var signers []ssh.Signer
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".pub" {
			continue
		}

		keyPath := filepath.Join(keyDir, entry.Name())
		if !utils.FileExists(keyPath + ".pub") {
			continue
		}

		pem, err := os.ReadFile(keyPath)
		if err != nil {
			slog.Debug("ssh key unreadable", "path", keyPath, "error", err)
			continue
		}

		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			var passErr *ssh.PassphraseMissingError
			if errors.As(err, &passErr) {
				slog.Debug("ssh key skipped, passphrase protected", "path", keyPath)
			} else {
				slog.Debug("ssh key skipped", "path", keyPath, "error", err)
			}
			continue
		}

		signers = append(signers, signer)
	}
	return signers
}

// trustOnFirstUse verifies host keys against knownHostsFile, recording the
// key of any host seen for the first time. A changed key is rejected.
func trustOnFirstUse(knownHostsFile string) ssh.HostKeyCallback {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey()
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		if err := utils.EnsureParent(knownHostsFile); err != nil {
			return fmt.Errorf("known hosts: %w", err)
		}
		f, err := os.OpenFile(knownHostsFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("known hosts: %w", err)
		}
		defer f.Close()

		check, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return fmt.Errorf("known hosts: %w", err)
		}

		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
			return err
		}

		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("known hosts: %w", err)
		}

		slog.Info("ssh trusted new host", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
		return nil
	}
}
