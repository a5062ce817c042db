package recording

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termshare/termshare/pkg/types"
)

var (
	// ErrRecordingOff is returned by Start when the requested mode is
	// "off". Policy is checked at start, never at finalize.
	ErrRecordingOff = errors.New("recording disabled by mode")
	// ErrRecordingNotFound is returned by Stop for an unknown or already
	// finalized recording ID.
	ErrRecordingNotFound = errors.New("recording not found")
)

// State is a Recorder's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Options is one recording's policy.
type Options struct {
	Mode      types.RecordingMode
	OutputDir string

	// IdleTimeLimit clamps the stored gap between consecutive events.
	// It is a write-time transform, not a stop condition. Zero disables
	// clamping.
	IdleTimeLimit time.Duration
	// MaxDuration finalizes the recording unconditionally after this
	// long. Zero means unlimited.
	MaxDuration time.Duration
	// InactivityTimeout finalizes the recording if no output event
	// arrives for this long. Zero disables it.
	InactivityTimeout time.Duration

	// Compress gzips the artifact (path gains a .gz suffix).
	Compress bool
}

// Recorder is one timed capture of session output/resize events. It owns
// its lifecycle independently of the session: the session may outlive the
// recording and vice versa.
type Recorder struct {
	id   string
	opts Options

	mu          sync.Mutex
	state       State
	w           *castWriter
	start       time.Time
	lastWall    time.Time     // real wall clock of the previous event
	clock       time.Duration // clamped log position
	maxTimer    *time.Timer
	idleTimer   *time.Timer
	meta        types.RecordingMeta
	onFinalized func(id string)

	now func() time.Time // test seam
}

// newRecorder opens the artifact, writes the header, and arms the
// auto-stop timers.
func newRecorder(opts Options, cols, rows int, env map[string]string, onFinalized func(string)) (*Recorder, error) {
	if opts.Mode == "" {
		opts.Mode = types.RecordingAlways
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("invalid recording mode %q", opts.Mode)
	}
	if opts.Mode == types.RecordingOff {
		return nil, ErrRecordingOff
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if err := os.MkdirAll(opts.OutputDir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	r := &Recorder{
		id:          uuid.New().String()[:8],
		opts:        opts,
		onFinalized: onFinalized,
		now:         time.Now,
	}

	name := fmt.Sprintf("termshare-%s-%s.cast", time.Now().Format("20060102-150405"), r.id)
	if opts.Compress {
		name += ".gz"
	}
	path := filepath.Join(opts.OutputDir, name)

	w, err := newCastWriter(path, opts.Compress, castHeader{
		Width:         cols,
		Height:        rows,
		Timestamp:     r.now().Unix(),
		IdleTimeLimit: opts.IdleTimeLimit.Seconds(),
		Env:           env,
	})
	if err != nil {
		return nil, err
	}

	r.w = w
	r.state = StateRecording
	r.start = r.now()
	r.lastWall = r.start

	if opts.MaxDuration > 0 {
		r.maxTimer = time.AfterFunc(opts.MaxDuration, func() {
			if _, err := r.Finalize(0); err != nil {
				log.Printf("recording %s: max-duration finalize: %v", r.id, err)
			}
		})
	}
	if opts.InactivityTimeout > 0 {
		r.idleTimer = time.AfterFunc(opts.InactivityTimeout, func() {
			if _, err := r.Finalize(0); err != nil {
				log.Printf("recording %s: inactivity finalize: %v", r.id, err)
			}
		})
	}

	return r, nil
}

// ID returns the recorder's opaque identifier.
func (r *Recorder) ID() string { return r.id }

// Path returns where the artifact is (or would be) written.
func (r *Recorder) Path() string { return r.w.path }

// State returns the recorder's current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RecordOutput appends an output event. A no-op unless recording.
func (r *Recorder) RecordOutput(p []byte) {
	r.record(eventOutput, string(p), true)
}

// RecordResize appends a resize event. Resizes do not count as activity
// for the inactivity timeout.
func (r *Recorder) RecordResize(cols, rows int) {
	r.record(eventResize, fmt.Sprintf("%dx%d", cols, rows), false)
}

func (r *Recorder) record(code, data string, activity bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return
	}

	now := r.now()
	gap := now.Sub(r.lastWall)
	if gap < 0 {
		gap = 0
	}
	if r.opts.IdleTimeLimit > 0 && gap > r.opts.IdleTimeLimit {
		gap = r.opts.IdleTimeLimit
	}
	r.clock += gap
	r.lastWall = now

	if err := r.w.writeEvent(r.clock, code, data); err != nil {
		log.Printf("recording %s: %v", r.id, err)
	}

	if activity && r.idleTimer != nil {
		r.idleTimer.Reset(r.opts.InactivityTimeout)
	}
}

// Finalize cancels the timers, transitions to finalized, and applies the
// persistence policy. It is idempotent: later calls return the metadata
// decided by the first.
func (r *Recorder) Finalize(exitCode int) (types.RecordingMeta, error) {
	r.mu.Lock()
	if r.state == StateFinalized {
		meta := r.meta
		r.mu.Unlock()
		return meta, nil
	}
	r.state = StateFinalizing
	if r.maxTimer != nil {
		r.maxTimer.Stop()
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}

	save := r.opts.Mode == types.RecordingAlways ||
		(r.opts.Mode == types.RecordingOnFailure && exitCode != 0)

	var err error
	if save {
		err = r.w.close()
	} else {
		err = r.w.discard()
	}

	meta := types.RecordingMeta{
		ID:       r.id,
		Saved:    save && err == nil,
		Duration: r.now().Sub(r.start).Seconds(),
	}
	if meta.Saved {
		meta.Path = r.w.path
	}
	r.meta = meta
	r.state = StateFinalized
	r.mu.Unlock()

	if r.onFinalized != nil {
		r.onFinalized(r.id)
	}
	return meta, err
}
