// Package watchdog bounds blocking operations that have no timeout of their own.
//
// A guarded operation proves liveness by advancing a Heartbeat. If the heartbeat
// is not advanced within the configured timeout, the caller gets ErrTimeout back
// while the operation's goroutine is left behind. The operation's context is
// cancelled at that point, but nothing forces it to stop, so callers must close
// whatever connection the operation was using.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// DefaultTimeout is the liveness window used by the transfer clients.
const DefaultTimeout = 60 * time.Second

var (
	ErrTimeout = errors.New("watchdog timeout")
)

// Heartbeat is the last time a guarded operation reported progress.
type Heartbeat struct {
	last atomic.Int64
}

func NewHeartbeat() *Heartbeat {
	hb := &Heartbeat{}
	hb.Beat()
	return hb
}

// Beat records progress now.
func (hb *Heartbeat) Beat() {
	hb.last.Store(time.Now().UnixNano())
}

// Last returns the time of the most recent beat.
func (hb *Heartbeat) Last() time.Time {
	return time.Unix(0, hb.last.Load())
}

// Func is a unit of work guarded by Run.
type Func func(ctx context.Context, hb *Heartbeat) error

// Run executes fn on its own goroutine and waits for it to finish as long as fn
// keeps beating hb at least once per timeout.
func Run(ctx context.Context, timeout time.Duration, fn Func) error {
	hb := NewHeartbeat()

	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("watchdog: panic in guarded operation: %v", r)
			}
		}()
		done <- fn(workCtx, hb)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		deadline := hb.Last().Add(timeout)
		wait := time.Until(deadline)
		if wait <= 0 {
			cancel()
			return fmt.Errorf("%w: no progress for %s", ErrTimeout, time.Since(hb.Last()).Round(time.Millisecond))
		}
		timer.Reset(wait)

		select {
		case err := <-done:
			cancel()
			return err
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// StepFunc performs one bounded chunk of work. It returns more=false once the
// work is complete.
type StepFunc func() (more bool, err error)

// RunSteps calls step until it reports completion, beating after every
// successful step. A single step that blocks for longer than timeout fails the
// whole run with ErrTimeout.
func RunSteps(ctx context.Context, timeout time.Duration, step StepFunc) error {
	return Run(ctx, timeout, func(ctx context.Context, hb *Heartbeat) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			more, err := step()
			if err != nil {
				return err
			}
			hb.Beat()
			if !more {
				return nil
			}
		}
	})
}

// Reader beats hb on every successful read from r.
func Reader(r io.Reader, hb *Heartbeat) io.Reader {
	return &heartbeatReader{r: r, hb: hb}
}

type heartbeatReader struct {
	r  io.Reader
	hb *Heartbeat
}

func (h *heartbeatReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.hb.Beat()
	}
	return n, err
}

// ReadSeeker is Reader for bodies that must stay seekable, such as request
// payloads that get signed or retried.
func ReadSeeker(rs io.ReadSeeker, hb *Heartbeat) io.ReadSeeker {
	return &heartbeatReadSeeker{heartbeatReader: heartbeatReader{r: rs, hb: hb}, s: rs}
}

type heartbeatReadSeeker struct {
	heartbeatReader
	s io.Seeker
}

func (h *heartbeatReadSeeker) Seek(offset int64, whence int) (int64, error) {
	return h.s.Seek(offset, whence)
}
