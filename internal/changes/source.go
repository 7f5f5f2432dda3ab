// Package changes reports paths that changed under a watched directory.
package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

var (
	ErrClosed        = errors.New("change source closed")
	ErrProcessExited = errors.New("watcher process exited")
)

// Source yields changed paths one at a time.
type Source interface {
	// WaitForChanged blocks until a changed path is available, ctx ends or
	// the source is closed. Paths are absolute.
	WaitForChanged(ctx context.Context) (string, error)
	// Close releases the watch and unblocks pending waits.
	Close() error
}

// Kind names a Source implementation
type Kind string

const (
	KindAuto    Kind = "auto"
	KindNative  Kind = "native"
	KindFswatch Kind = "fswatch"
)

const defaultFswatchFallback = "/usr/local/bin/fswatch"

type Options struct {
	// Mode forces a variant. Auto prefers fswatch and falls back to native.
	Mode Kind
	// FswatchPath overrides the fswatch binary lookup.
	FswatchPath string
}

// Open starts watching dir recursively and reports which variant is active.
func Open(ctx context.Context, dir string, opts Options) (Source, Kind, error) {
	mode := opts.Mode
	if mode == "" {
		mode = KindAuto
	}

	switch mode {
	case KindNative:
		src, err := NewNativeSource(dir)
		return src, KindNative, err

	case KindFswatch:
		bin := fswatchBinary(opts.FswatchPath)
		if err := Probe(ctx, bin); err != nil {
			return nil, "", fmt.Errorf("fswatch unavailable: %w", err)
		}
		src, err := NewFswatchSource(dir, bin)
		return src, KindFswatch, err

	case KindAuto:
		bin := fswatchBinary(opts.FswatchPath)
		err := Probe(ctx, bin)
		if err == nil {
			src, err := NewFswatchSource(dir, bin)
			return src, KindFswatch, err
		}
		slog.Debug("fswatch probe failed, using native watcher", "bin", bin, "error", err)
		src, err := NewNativeSource(dir)
		return src, KindNative, err
	}

	return nil, "", fmt.Errorf("unknown watcher %q", mode)
}

// fswatchBinary picks the configured binary, else fswatch on PATH, else the
// usual install location.
func fswatchBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if p, err := exec.LookPath("fswatch"); err == nil {
		return p
	}
	return defaultFswatchFallback
}
