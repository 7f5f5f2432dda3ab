package remote

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Target is a parsed connection string.
type Target struct {
	User     string
	Password string
	Host     string
	Port     int
	Dir      string
}

// Addr returns host:port
func (t *Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String renders the target without its password
func (t *Target) String() string {
	return fmt.Sprintf("%s@%s/%s", t.User, t.Addr(), strings.TrimPrefix(t.Dir, "/"))
}

// ParseSSHTarget parses `user[:password]@host:remoteDirectory`.
func ParseSSHTarget(s string, port int) (*Target, error) {
	creds, rest, ok := splitCredentials(s, ":")
	if !ok {
		return nil, fmt.Errorf("%w %q: expected user[:password]@host:directory", ErrInvalidTarget, s)
	}

	host, dir, _ := strings.Cut(rest, ":")
	user, password, _ := strings.Cut(creds, ":")
	if user == "" || host == "" {
		return nil, fmt.Errorf("%w %q: missing user or host", ErrInvalidTarget, s)
	}

	dir = strings.TrimSpace(dir)
	if dir != "/" {
		dir = strings.TrimRight(dir, "/")
	}

	return &Target{
		User:     user,
		Password: password,
		Host:     host,
		Port:     port,
		Dir:      dir,
	}, nil
}

// legacyFTPTarget is the `user@password:host/remoteDirectory` form.
var legacyFTPTarget = regexp.MustCompile(`^(.*)@(.*):([^/]*)/(.*)$`)

// ParseFTPTarget accepts two grammars:
//
//	user@password:host/remoteDirectory
//	user[:password]@host[:port]/remoteDirectory
//
// The first wins unless its host part is empty, all digits (then it is a
// port) or contains '@'. The directory is relative to the login directory
// unless it starts with a second slash.
func ParseFTPTarget(s string, defaultPort int) (*Target, error) {
	if t, ok := parseLegacyFTPTarget(s, defaultPort); ok {
		return t, nil
	}

	creds, rest, ok := splitCredentials(s, "/")
	if !ok {
		return nil, fmt.Errorf("%w %q: expected user@password:host/directory or user[:password]@host[:port]/directory", ErrInvalidTarget, s)
	}

	hostPort, dir, _ := strings.Cut(rest, "/")
	user, password, _ := strings.Cut(creds, ":")

	host := hostPort
	port := defaultPort
	if h, p, err := net.SplitHostPort(hostPort); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w %q: bad port %q", ErrInvalidTarget, s, p)
		}
		host, port = h, n
	}
	if user == "" || host == "" {
		return nil, fmt.Errorf("%w %q: missing user or host", ErrInvalidTarget, s)
	}

	return &Target{
		User:     user,
		Password: password,
		Host:     host,
		Port:     port,
		Dir:      trimFTPDir(dir),
	}, nil
}

func parseLegacyFTPTarget(s string, port int) (*Target, bool) {
	m := legacyFTPTarget.FindStringSubmatch(s)
	if m == nil {
		return nil, false
	}

	user, password, host, dir := m[1], m[2], m[3], m[4]
	if user == "" || host == "" || strings.Contains(host, "@") || isDigits(host) {
		return nil, false
	}

	return &Target{
		User:     user,
		Password: password,
		Host:     host,
		Port:     port,
		Dir:      trimFTPDir(dir),
	}, true
}

func trimFTPDir(dir string) string {
	if dir == "/" {
		return dir
	}
	return strings.TrimRight(dir, "/")
}

func isDigits(s string) bool {
	return strings.Trim(s, "0123456789") == ""
}

// ParseS3Target parses `[accessKey[:secretKey]@]bucket[/prefix]`. Without keys
// the default AWS credential chain is used.
func ParseS3Target(s string) (*Target, error) {
	creds, rest, ok := splitCredentials(s, "")
	if !ok {
		rest = s
	}

	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w %q: missing bucket", ErrInvalidTarget, s)
	}
	user, password, _ := strings.Cut(creds, ":")

	return &Target{
		User:     user,
		Password: password,
		Host:     bucket,
		Dir:      strings.Trim(prefix, "/"),
	}, nil
}

// splitCredentials splits s at the right-most '@' whose remainder contains
// sep, so user names and passwords may contain '@' themselves.
func splitCredentials(s, sep string) (creds, rest string, ok bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != '@' {
			continue
		}
		if sep == "" || strings.Contains(s[i+1:], sep) {
			return s[:i], s[i+1:], true
		}
	}
	return "", s, false
}
