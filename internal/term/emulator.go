package term

import (
	"bytes"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// Emulator is the screen-buffer collaborator a Session feeds its output
// into. Implementations interpret (or at least retain) the raw byte stream
// and answer content queries. The default implementation below keeps raw
// bytes plus a plain-text view; a full VT100 grid emulator can be plugged
// in without touching the session.
type Emulator interface {
	// Advance consumes the next chunk of raw terminal output.
	Advance(p []byte)
	// Resize informs the emulator of the new terminal dimensions.
	Resize(cols, rows int)
	// Content returns the full retained output as plain text.
	Content() string
	// VisibleContent returns the plain text of the visible rows.
	VisibleContent() string
	// Snapshot returns the retained raw bytes, escape sequences included,
	// suitable for replaying into another terminal.
	Snapshot() []byte
}

// DefaultScrollbackBytes bounds how much raw output the plain emulator
// retains. Oldest output is dropped first, at a line boundary when one
// exists in the trimmed region.
const DefaultScrollbackBytes = 256 * 1024

// plainEmulator retains raw output and derives plain text on demand by
// stripping escape sequences. It does not maintain a cell grid, so cursor
// addressing is not interpreted; carriage-return overwrites within a line
// are resolved textually.
type plainEmulator struct {
	mu   sync.Mutex
	buf  []byte
	max  int
	cols int
	rows int
}

// NewPlainEmulator returns the default Emulator. maxBytes <= 0 selects
// DefaultScrollbackBytes.
func NewPlainEmulator(cols, rows, maxBytes int) Emulator {
	if maxBytes <= 0 {
		maxBytes = DefaultScrollbackBytes
	}
	return &plainEmulator{max: maxBytes, cols: cols, rows: rows}
}

func (e *plainEmulator) Advance(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = append(e.buf, p...)
	if len(e.buf) > e.max {
		cut := len(e.buf) - e.max
		// Prefer dropping whole lines so the head of Content stays sane.
		if nl := bytes.IndexByte(e.buf[cut:], '\n'); nl >= 0 && cut+nl+1 < len(e.buf) {
			cut += nl + 1
		}
		e.buf = append(e.buf[:0], e.buf[cut:]...)
	}
}

func (e *plainEmulator) Resize(cols, rows int) {
	e.mu.Lock()
	e.cols, e.rows = cols, rows
	e.mu.Unlock()
}

func (e *plainEmulator) Content() string {
	e.mu.Lock()
	raw := string(e.buf)
	e.mu.Unlock()
	return plainText(raw)
}

func (e *plainEmulator) VisibleContent() string {
	e.mu.Lock()
	raw := string(e.buf)
	rows := e.rows
	e.mu.Unlock()
	return lastLines(plainText(raw), rows)
}

// Reset drops all retained output.
func (e *plainEmulator) Reset() {
	e.mu.Lock()
	e.buf = e.buf[:0]
	e.mu.Unlock()
}

func (e *plainEmulator) Snapshot() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

// plainText strips escape sequences and resolves carriage-return
// overwrites line by line.
func plainText(raw string) string {
	s := ansi.Strip(raw)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.Contains(s, "\r") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if j := strings.LastIndexByte(line, '\r'); j >= 0 {
			lines[i] = line[j+1:]
		}
	}
	return strings.Join(lines, "\n")
}

// lastLines returns the trailing n lines of s.
func lastLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	end := len(s)
	// A trailing newline does not start a new visible row.
	if end > 0 && s[end-1] == '\n' {
		end--
	}
	seen := 0
	for i := end - 1; i >= 0; i-- {
		if s[i] == '\n' {
			seen++
			if seen == n {
				return s[i+1:]
			}
		}
	}
	return s
}
