package supervisor

import (
	"bytes"
	"strings"
	"sync"
)

// logBuffer is a bounded ring of log lines fed by worker stdout/stderr. It
// is an io.Writer so it can be handed straight to the launcher.
type logBuffer struct {
	mu      sync.Mutex
	lines   []string
	cap     int
	partial bytes.Buffer
}

func newLogBuffer(capacity int) *logBuffer {
	return &logBuffer{cap: capacity}
}

// Write splits the chunk into lines, buffering any trailing partial line
// until its newline arrives.
func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(data[:idx]), "\r")
		b.partial.Next(idx + 1)
		b.append(line)
	}
	return len(p), nil
}

func (b *logBuffer) append(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.cap {
		b.lines = b.lines[len(b.lines)-b.cap:]
	}
}

// Tail returns up to n most recent lines, oldest first.
func (b *logBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}
