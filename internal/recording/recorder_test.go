package recording

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/termshare/termshare/pkg/types"
)

// fakeClock drives a recorder's idle-clamp logic deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newClockedRecorder builds a recorder whose event timing is controlled by
// the returned clock. The auto-stop timers still run on real time; tests
// that exercise them leave the clock alone.
func newClockedRecorder(t *testing.T, opts Options) (*Recorder, *fakeClock) {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	r, err := newRecorder(opts, 80, 24, map[string]string{"TERM": "xterm-256color"}, nil)
	if err != nil {
		t.Fatalf("newRecorder() error: %v", err)
	}
	clock := &fakeClock{t: time.Now()}
	r.mu.Lock()
	r.now = clock.Now
	r.start = clock.t
	r.lastWall = clock.t
	r.mu.Unlock()
	return r, clock
}

// readCast parses an artifact into its header and events.
func readCast(t *testing.T, path string, compressed bool) (map[string]any, [][]any) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		t.Fatal("artifact has no header line")
	}
	var header map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("parse header: %v", err)
	}
	var events [][]any
	for scanner.Scan() {
		var ev []any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("parse event %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return header, events
}

func eventOffset(t *testing.T, ev []any) float64 {
	t.Helper()
	off, ok := ev[0].(float64)
	if !ok {
		t.Fatalf("event offset not a number: %v", ev[0])
	}
	return off
}

func TestRecorderHeader(t *testing.T) {
	r, _ := newClockedRecorder(t, Options{Mode: types.RecordingAlways})
	if _, err := r.Finalize(0); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	header, _ := readCast(t, r.Path(), false)
	if header["version"].(float64) != 2 {
		t.Errorf("header version = %v, want 2", header["version"])
	}
	if header["width"].(float64) != 80 || header["height"].(float64) != 24 {
		t.Errorf("header size = %vx%v, want 80x24", header["width"], header["height"])
	}
	env := header["env"].(map[string]any)
	if env["TERM"] != "xterm-256color" {
		t.Errorf("header env TERM = %v", env["TERM"])
	}
}

func TestRecorderIdleTimeClamp(t *testing.T) {
	r, clock := newClockedRecorder(t, Options{
		Mode:          types.RecordingAlways,
		IdleTimeLimit: 2 * time.Second,
	})

	clock.Advance(100 * time.Millisecond)
	r.RecordOutput([]byte("a"))
	clock.Advance(5 * time.Second) // real gap above the clamp
	r.RecordOutput([]byte("b"))
	clock.Advance(100 * time.Millisecond)
	r.RecordOutput([]byte("c"))

	if _, err := r.Finalize(0); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}

	_, events := readCast(t, r.Path(), false)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	offsets := []float64{
		eventOffset(t, events[0]),
		eventOffset(t, events[1]),
		eventOffset(t, events[2]),
	}
	wantGaps := []float64{0.1, 2.0, 0.1}
	prev := 0.0
	for i, off := range offsets {
		gap := off - prev
		if math.Abs(gap-wantGaps[i]) > 1e-6 {
			t.Errorf("event %d gap = %v, want %v", i, gap, wantGaps[i])
		}
		prev = off
	}
}

func TestRecorderNoClampWithoutLimit(t *testing.T) {
	r, clock := newClockedRecorder(t, Options{Mode: types.RecordingAlways})
	clock.Advance(5 * time.Second)
	r.RecordOutput([]byte("a"))
	if _, err := r.Finalize(0); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	_, events := readCast(t, r.Path(), false)
	if off := eventOffset(t, events[0]); math.Abs(off-5.0) > 1e-6 {
		t.Errorf("offset = %v, want 5.0", off)
	}
}

func TestRecorderOnFailureDiscardsOnSuccess(t *testing.T) {
	r, _ := newClockedRecorder(t, Options{Mode: types.RecordingOnFailure})
	r.RecordOutput([]byte("output"))
	path := r.Path()

	meta, err := r.Finalize(0)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if meta.Saved {
		t.Error("meta.Saved = true for exit 0 in on-failure mode")
	}
	if meta.Path != "" {
		t.Errorf("meta.Path = %q, want empty for discarded recording", meta.Path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact still on disk after discard: %v", err)
	}
}

func TestRecorderOnFailureSavesOnFailure(t *testing.T) {
	r, _ := newClockedRecorder(t, Options{Mode: types.RecordingOnFailure})
	r.RecordOutput([]byte("output"))

	meta, err := r.Finalize(1)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	if !meta.Saved {
		t.Fatal("meta.Saved = false for non-zero exit in on-failure mode")
	}
	if _, err := os.Stat(meta.Path); err != nil {
		t.Errorf("saved artifact missing: %v", err)
	}
}

func TestRecorderFinalizeIdempotent(t *testing.T) {
	r, _ := newClockedRecorder(t, Options{Mode: types.RecordingAlways})
	first, err := r.Finalize(0)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	second, err := r.Finalize(7)
	if err != nil {
		t.Fatalf("second Finalize() error: %v", err)
	}
	if second != first {
		t.Errorf("second Finalize() = %+v, want %+v", second, first)
	}
	if r.State() != StateFinalized {
		t.Errorf("state = %v, want finalized", r.State())
	}
}

func TestRecorderEventsAfterFinalizeDropped(t *testing.T) {
	r, clock := newClockedRecorder(t, Options{Mode: types.RecordingAlways})
	r.RecordOutput([]byte("before"))
	if _, err := r.Finalize(0); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	clock.Advance(time.Second)
	r.RecordOutput([]byte("after")) // must be a silent no-op

	_, events := readCast(t, r.Path(), false)
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestRecorderInactivityTimeout(t *testing.T) {
	r, err := newRecorder(Options{
		Mode:              types.RecordingAlways,
		OutputDir:         t.TempDir(),
		InactivityTimeout: 50 * time.Millisecond,
	}, 80, 24, nil, nil)
	if err != nil {
		t.Fatalf("newRecorder() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.State() != StateFinalized {
		time.Sleep(10 * time.Millisecond)
	}
	if r.State() != StateFinalized {
		t.Fatal("recorder never auto-finalized on inactivity")
	}
	if _, err := os.Stat(r.Path()); err != nil {
		t.Errorf("artifact missing after auto-finalize: %v", err)
	}
}

func TestRecorderInactivityTimerResetByOutput(t *testing.T) {
	r, err := newRecorder(Options{
		Mode:              types.RecordingAlways,
		OutputDir:         t.TempDir(),
		InactivityTimeout: 200 * time.Millisecond,
	}, 80, 24, nil, nil)
	if err != nil {
		t.Fatalf("newRecorder() error: %v", err)
	}

	// Keep feeding events faster than the timeout; it must never fire.
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		r.RecordOutput([]byte("tick"))
	}
	if r.State() != StateRecording {
		t.Fatalf("state = %v, want recording", r.State())
	}
	if _, err := r.Finalize(0); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
}

func TestRecorderMaxDuration(t *testing.T) {
	r, err := newRecorder(Options{
		Mode:        types.RecordingAlways,
		OutputDir:   t.TempDir(),
		MaxDuration: 50 * time.Millisecond,
	}, 80, 24, nil, nil)
	if err != nil {
		t.Fatalf("newRecorder() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.State() != StateFinalized {
		time.Sleep(10 * time.Millisecond)
	}
	if r.State() != StateFinalized {
		t.Fatal("recorder never auto-finalized at max duration")
	}
}

func TestRecorderOffModeRejectedAtStart(t *testing.T) {
	_, err := newRecorder(Options{Mode: types.RecordingOff, OutputDir: t.TempDir()}, 80, 24, nil, nil)
	if !errors.Is(err, ErrRecordingOff) {
		t.Errorf("newRecorder(off) = %v, want ErrRecordingOff", err)
	}
}

func TestRecorderResizeEvent(t *testing.T) {
	r, clock := newClockedRecorder(t, Options{Mode: types.RecordingAlways})
	clock.Advance(time.Second)
	r.RecordResize(120, 40)
	if _, err := r.Finalize(0); err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	_, events := readCast(t, r.Path(), false)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0][1] != "r" || events[0][2] != "120x40" {
		t.Errorf("resize event = %v, want [1, r, 120x40]", events[0])
	}
}

func TestRecorderCompressedArtifact(t *testing.T) {
	r, _ := newClockedRecorder(t, Options{Mode: types.RecordingAlways, Compress: true})
	r.RecordOutput([]byte("compressed"))
	meta, err := r.Finalize(0)
	if err != nil {
		t.Fatalf("Finalize() error: %v", err)
	}
	header, events := readCast(t, meta.Path, true)
	if header["version"].(float64) != 2 {
		t.Errorf("header version = %v, want 2", header["version"])
	}
	if len(events) != 1 || events[0][2] != "compressed" {
		t.Errorf("events = %v", events)
	}
}
