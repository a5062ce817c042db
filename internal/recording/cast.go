package recording

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Event type codes in the asciicast v2 body.
const (
	eventOutput = "o"
	eventResize = "r"
)

// castHeader is the first line of an asciicast v2 file.
type castHeader struct {
	Version       int               `json:"version"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	Timestamp     int64             `json:"timestamp"`
	IdleTimeLimit float64           `json:"idle_time_limit,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// castWriter streams an asciicast v2 log to disk, optionally gzipped. The
// file exists from the first write, so a recording discarded at finalize
// must remove it via discard.
type castWriter struct {
	path string
	f    *os.File
	gz   *gzip.Writer
	bw   *bufio.Writer
}

func newCastWriter(path string, compress bool, hdr castHeader) (*castWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	w := &castWriter{path: path, f: f}
	var out io.Writer = f
	if compress {
		w.gz = gzip.NewWriter(f)
		out = w.gz
	}
	w.bw = bufio.NewWriter(out)

	hdr.Version = 2
	if err := w.writeLine(hdr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

// writeEvent appends one [offset, code, data] record.
func (w *castWriter) writeEvent(offset time.Duration, code, data string) error {
	return w.writeLine([]any{roundOffset(offset), code, data})
}

func (w *castWriter) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode recording event: %w", err)
	}
	if _, err := w.bw.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write recording event: %w", err)
	}
	return nil
}

// close flushes and keeps the file.
func (w *castWriter) close() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush recording: %w", err)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close recording file: %w", err)
	}
	return nil
}

// discard closes and removes the partial file.
func (w *castWriter) discard() error {
	w.f.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove discarded recording: %w", err)
	}
	return nil
}

// roundOffset converts an offset to seconds with microsecond precision,
// matching what asciinema emits.
func roundOffset(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1e6
}
