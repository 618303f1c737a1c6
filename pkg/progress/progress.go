// Package progress turns streamed command output into lines, for
// reporting as progress events.
package progress

import (
	"bytes"
	"sync"
)

// Func receives each complete line of output, without its line ending.
type Func func(line string)

// Nop discards progress.
func Nop(string) {}

// Writer is an io.Writer that splits what is written into lines, on
// either `\n` or `\r` (git uses the latter to redraw its progress
// meters), and passes each non-empty line to a Func. It is safe to
// use as both the stdout and stderr of a command.
type Writer struct {
	mu     sync.Mutex
	buf    []byte
	report Func
}

func NewWriter(report Func) *Writer {
	if report == nil {
		report = Nop
	}
	return &Writer{report: report}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Close reports any trailing partial line.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *Writer) emit(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.report(string(line))
}
