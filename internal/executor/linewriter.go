package executor

import (
	"bytes"
	"log/slog"
	"sync"
)

// lineWriter logs each complete line written to it.
type lineWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	stream string
	buf    bytes.Buffer
}

func newLineWriter(logger *slog.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Partial line: keep it for the next write.
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	w.logger.Info("stage output", "stream", w.stream, "line", string(line))
}
