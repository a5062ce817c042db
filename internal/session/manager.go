package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/termshare/termshare/internal/metrics"
	"github.com/termshare/termshare/internal/recording"
	"github.com/termshare/termshare/internal/term"
	"github.com/termshare/termshare/pkg/types"
)

// ErrNotInitialized is returned by operations that require a live session
// when none exists and construction was not requested.
var ErrNotInitialized = errors.New("session not initialized")

// Session is the slice of term.Session the manager depends on. Tests
// substitute a fake; production uses *term.Session via the default
// factory.
type Session interface {
	Write(p []byte) error
	Resize(cols, rows int) error
	Content() string
	VisibleContent() string
	Screenshot() []byte
	ClearBuffer()
	Size() (cols, rows int)
	Active() bool
	Pid() int
	ExitCode() int
	Done() <-chan struct{}
	Subscribe(fn func([]byte)) (cancel func())
	OnExit(fn func(code int)) (cancel func())
	Close() error
}

// Factory constructs the session. Nil selects term.Start.
type Factory func(cfg term.Config) (Session, error)

// Config wires a Manager.
type Config struct {
	Term       term.Config
	Recording  recording.Options // defaults for every recording
	AutoRecord bool              // start one recording at session creation

	Factory Factory
	// ReleaseSandbox releases the sandbox capability on dispose. Called
	// at most once.
	ReleaseSandbox func()
}

// Manager guarantees a single authoritative session and serializes access
// to it for all callers: the local interactive loop and the tool proxy.
type Manager struct {
	cfg        Config
	recordings *recording.Manager
	group      singleflight.Group

	mu       sync.Mutex
	session  Session
	released bool
}

// NewManager creates a session manager. The session itself is constructed
// lazily on first use.
func NewManager(cfg Config) *Manager {
	if cfg.Factory == nil {
		cfg.Factory = func(tc term.Config) (Session, error) { return term.Start(tc) }
	}
	return &Manager{
		cfg:        cfg,
		recordings: recording.NewManager(cfg.Recording),
	}
}

// Recordings exposes the recording manager, whose lifecycle the session
// manager owns.
func (m *Manager) Recordings() *recording.Manager { return m.recordings }

// Current returns the live session if one exists, else nil. It never
// constructs one.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Ensure returns the session, constructing it exactly once. Concurrent
// callers during an in-flight construction all receive the same instance;
// none races a second construction.
func (m *Manager) Ensure(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s := m.Current(); s != nil {
		return s, nil
	}
	v, err, _ := m.group.Do("session", func() (any, error) {
		if s := m.Current(); s != nil {
			return s, nil
		}
		return m.create()
	})
	if err != nil {
		return nil, err
	}
	return v.(Session), nil
}

// create builds the session, subscribes the recording fan-out before
// returning so no output event can slip by unrecorded, then starts the
// auto-recording if one was requested.
func (m *Manager) create() (Session, error) {
	sess, err := m.cfg.Factory(m.cfg.Term)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess.Subscribe(func(p []byte) {
		metrics.SessionBytesRead.Add(float64(len(p)))
		m.recordings.RecordOutput(p)
	})

	if m.cfg.AutoRecord && m.cfg.Recording.Mode != types.RecordingOff {
		cols, rows := sess.Size()
		r, err := m.recordings.Start(recording.Options{}, cols, rows, envSnapshot())
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("start auto-recording: %w", err)
		}
		log.Printf("recording %s -> %s", r.ID(), r.Path())
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	return sess, nil
}

// SubscribeOutput registers an output listener on the live session and
// returns the unsubscribe handle. It never constructs a session; callers
// Ensure first.
func (m *Manager) SubscribeOutput(ctx context.Context, fn func([]byte)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := m.Current()
	if sess == nil {
		return nil, ErrNotInitialized
	}
	return sess.Subscribe(fn), nil
}

// Write sends raw bytes to the session.
func (m *Manager) Write(ctx context.Context, p []byte) error {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return err
	}
	if err := sess.Write(p); err != nil {
		return err
	}
	metrics.SessionBytesWritten.Add(float64(len(p)))
	return nil
}

// TypeText types literal text into the session.
func (m *Manager) TypeText(ctx context.Context, text string) error {
	return m.Write(ctx, []byte(text))
}

// SendKey sends a named key ("Enter", "Ctrl+C", ...).
func (m *Manager) SendKey(ctx context.Context, key string) error {
	seq, err := term.KeySequence(key)
	if err != nil {
		return err
	}
	return m.Write(ctx, seq)
}

// Content returns the session's plain-text output, full scrollback or
// visible rows only.
func (m *Manager) Content(ctx context.Context, visibleOnly bool) (string, error) {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return "", err
	}
	if visibleOnly {
		return sess.VisibleContent(), nil
	}
	return sess.Content(), nil
}

// Screenshot returns the raw visible region with escape sequences.
func (m *Manager) Screenshot(ctx context.Context) (types.ScreenshotResult, error) {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return types.ScreenshotResult{}, err
	}
	cols, rows := sess.Size()
	return types.ScreenshotResult{
		Data: string(sess.Screenshot()),
		Cols: cols,
		Rows: rows,
	}, nil
}

// Clear drops retained scrollback and asks the shell to repaint.
func (m *Manager) Clear(ctx context.Context) error {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return err
	}
	sess.ClearBuffer()
	return sess.Write([]byte{0x0c}) // form feed
}

// Resize changes the terminal size and records the event.
func (m *Manager) Resize(ctx context.Context, cols, rows int) error {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return err
	}
	if err := sess.Resize(cols, rows); err != nil {
		return err
	}
	m.recordings.RecordResize(cols, rows)
	return nil
}

// StartRecording begins a new named recording against the live session.
func (m *Manager) StartRecording(ctx context.Context, params types.StartRecordingParams) (types.StartRecordingResult, error) {
	sess, err := m.Ensure(ctx)
	if err != nil {
		return types.StartRecordingResult{}, err
	}
	cols, rows := sess.Size()
	r, err := m.recordings.Start(recording.Options{
		Mode:              params.Mode,
		OutputDir:         params.OutputDir,
		IdleTimeLimit:     secondsToDuration(params.IdleTimeLimit),
		MaxDuration:       secondsToDuration(params.MaxDuration),
		InactivityTimeout: secondsToDuration(params.InactivityTimeout),
	}, cols, rows, envSnapshot())
	if err != nil {
		return types.StartRecordingResult{}, err
	}
	return types.StartRecordingResult{ID: r.ID(), Path: r.Path()}, nil
}

// StopRecording finalizes one recording. The session keeps running.
func (m *Manager) StopRecording(ctx context.Context, recordingID string) (types.RecordingMeta, error) {
	if err := ctx.Err(); err != nil {
		return types.RecordingMeta{}, err
	}
	return m.recordings.Stop(recordingID, 0)
}

// Status reports the session and recording state without constructing a
// session.
func (m *Manager) Status(ctx context.Context) (types.StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return types.StatusResult{}, err
	}
	st := types.StatusResult{Recordings: m.recordings.ActiveIDs()}
	if sess := m.Current(); sess != nil {
		st.Active = sess.Active()
		st.Cols, st.Rows = sess.Size()
		st.Pid = sess.Pid()
	}
	return st, nil
}

// Dispose tears down the session and releases the sandbox capability.
// Idempotent: a second call is a no-op, never an error.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	release := !m.released
	m.released = true
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
	}
	if release && m.cfg.ReleaseSandbox != nil {
		m.cfg.ReleaseSandbox()
	}
	return nil
}

// envSnapshot captures the environment subset recorded in artifact
// headers, matching what asciinema stores.
func envSnapshot() map[string]string {
	env := make(map[string]string, 2)
	if v := os.Getenv("SHELL"); v != "" {
		env["SHELL"] = v
	}
	env["TERM"] = "xterm-256color"
	return env
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
