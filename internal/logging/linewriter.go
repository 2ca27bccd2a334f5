package logging

import (
	"bytes"
	"context"
	"sync"
)

// LineWriter adapts a stream of process output into one log record per line.
// A trailing partial line is held until the next newline or Flush.
type LineWriter struct {
	logger *Logger
	level  Level
	mu     sync.Mutex
	buf    bytes.Buffer
}

// NewLineWriter returns an io.Writer that logs every complete line at level.
func NewLineWriter(logger *Logger, level Level) *LineWriter {
	if logger == nil {
		logger = Default()
	}
	return &LineWriter{logger: logger, level: level}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line []byte) {
	msg := string(bytes.TrimRight(line, "\r\n"))
	if msg == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, msg)
}
