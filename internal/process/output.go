package process

import (
	"bytes"
	"strings"
)

// maxLineLength caps a buffered partial line.
const maxLineLength = 4096

// lineWriter logs child output one line at a time. Each stream gets its
// own writer, so no locking is needed.
type lineWriter struct {
	logger Logger
	name   string
	stream string
	buf    []byte
}

func newLineWriter(logger Logger, name, stream string) *lineWriter {
	return &lineWriter{logger: logger, name: name, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineWriter) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Debug("process output", "name", w.name, "stream", w.stream, "line", text)
}
