// Package utils holds small filesystem and logging helpers.
package utils

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

// maxPartialLine bounds the bytes held back while waiting for a newline
const maxPartialLine = 1024 * 1024

// LogInterceptor prefixes every complete line written to it with a sequence
// number and a timestamp before passing it on. Incomplete trailing data is
// held until its newline arrives or Close is called.
type LogInterceptor struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	partial []byte
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target: target,
		now:    time.Now,
	}
}

// Write reports len(p) on success even though the stamped output is longer.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	data := p
	if len(i.partial) > 0 {
		data = append(i.partial, p...)
		i.partial = nil
	}

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		if err := i.writeLine(bytes.TrimSuffix(data[:idx], []byte("\r"))); err != nil {
			return 0, err
		}
		data = data[idx+1:]
	}

	if len(data) >= maxPartialLine {
		if err := i.writeLine(data); err != nil {
			return 0, err
		}
		data = nil
	}
	if len(data) > 0 {
		i.partial = append([]byte(nil), data...)
	}
	return len(p), nil
}

// Close flushes held back data. It does not close the target.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.partial) == 0 {
		return nil
	}
	err := i.writeLine(i.partial)
	i.partial = nil
	return err
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++

	var buf bytes.Buffer
	buf.Grow(len(line) + 48)
	buf.WriteString("line=")
	buf.WriteString(strconv.FormatUint(i.seq, 10))
	buf.WriteString(" time=")
	buf.WriteString(i.now().Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.Write(line)
	buf.WriteByte('\n')

	_, err := i.target.Write(buf.Bytes())
	return err
}
