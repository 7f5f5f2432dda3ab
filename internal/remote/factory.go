package remote

import (
	"fmt"
	"strings"
)

// Kind selects a client implementation.
type Kind string

const (
	KindSCP  Kind = "scp"
	KindFTP  Kind = "ftp"
	KindSFTP Kind = "sftp"
	KindS3   Kind = "s3"
)

// Kinds lists the supported target types in display order
func Kinds() []Kind {
	return []Kind{KindSCP, KindFTP, KindSFTP, KindS3}
}

// Factory mints independent clients for one parsed target.
type Factory struct {
	kind   Kind
	target *Target
	opts   Options
}

// NewFactory parses target according to kind.
func NewFactory(kind string, target string, opts Options) (*Factory, error) {
	opts = opts.withDefaults()

	var (
		t   *Target
		err error
	)

	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	switch k {
	case KindSCP, KindSFTP:
		t, err = ParseSSHTarget(target, opts.SSH.Port)
	case KindFTP:
		port := opts.FTP.Port
		if port <= 0 {
			port = defaultFTPPort
		}
		t, err = ParseFTPTarget(target, port)
	case KindS3:
		t, err = ParseS3Target(target)
	default:
		return nil, fmt.Errorf("%w %q (supported: %s)", ErrUnknownTargetType, kind, kindList())
	}
	if err != nil {
		return nil, err
	}

	return &Factory{kind: k, target: t, opts: opts}, nil
}

func (f *Factory) Kind() Kind {
	return f.kind
}

// Target returns a copy of the parsed target
func (f *Factory) Target() Target {
	return *f.target
}

// New returns a fresh, disconnected client.
func (f *Factory) New() Client {
	t := *f.target
	switch f.kind {
	case KindSCP:
		return NewScpClient(&t, f.opts)
	case KindFTP:
		return NewFtpClient(&t, f.opts)
	case KindSFTP:
		return NewSftpClient(&t, f.opts)
	case KindS3:
		return NewS3Client(&t, f.opts)
	}
	panic(fmt.Sprintf("remote: factory with unknown kind %q", f.kind))
}

func kindList() string {
	kinds := Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
