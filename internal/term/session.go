package term

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	ptylib "github.com/creack/pty"

	"github.com/termshare/termshare/pkg/types"
)

// ErrSessionClosed is returned by operations on a session whose shell has
// exited or that has been closed. A closed session never re-activates.
var ErrSessionClosed = errors.New("session closed")

const (
	defaultCols = 80
	defaultRows = 24
)

// Config describes the shell process and terminal a Session is built
// around.
type Config struct {
	Shell string   // default $SHELL, then /bin/bash, then /bin/sh
	Args  []string // extra shell arguments
	Dir   string   // working directory, default inherited
	Env   []string // extra environment entries appended to os.Environ()
	Cols  int      // default 80
	Rows  int      // default 24

	// Permissions is the opaque sandbox capability handed to the process
	// launcher. Enforcement happens outside this package.
	Permissions *types.SandboxPermissions

	// Emulator receives all output. Nil selects NewPlainEmulator.
	Emulator Emulator
	// ScrollbackBytes bounds the default emulator's retention.
	ScrollbackBytes int
}

// Session is one live pseudo-terminal bound to a shell process and a
// screen-buffer emulator. All mutation funnels through its methods; the
// output stream fans out to subscribers in emission order.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File
	emu  Emulator

	mu       sync.Mutex
	cols     int
	rows     int
	active   bool
	closed   bool
	exitCode int
	nextSub  int
	outSubs  map[int]func([]byte)
	exitSubs map[int]func(int)

	done chan struct{}
}

// Start launches the shell under a new PTY and begins pumping output into
// the emulator and subscribers.
func Start(cfg Config) (*Session, error) {
	shell := cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		for _, sh := range []string{"/bin/bash", "/bin/sh"} {
			if _, err := os.Stat(sh); err == nil {
				shell = sh
				break
			}
		}
	}
	if shell == "" {
		return nil, fmt.Errorf("no shell found")
	}

	cols := cfg.Cols
	if cols <= 0 {
		cols = defaultCols
	}
	rows := cfg.Rows
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, cfg.Env...)

	ptmx, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	emu := cfg.Emulator
	if emu == nil {
		emu = NewPlainEmulator(cols, rows, cfg.ScrollbackBytes)
	}

	s := &Session{
		cmd:      cmd,
		ptmx:     ptmx,
		emu:      emu,
		cols:     cols,
		rows:     rows,
		active:   true,
		outSubs:  make(map[int]func([]byte)),
		exitSubs: make(map[int]func(int)),
		done:     make(chan struct{}),
	}

	go s.readLoop()
	go s.waitLoop()

	return s, nil
}

// readLoop is the single output pump: one goroutine reads the PTY master,
// so emulator updates and subscriber callbacks see chunks in emission
// order.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.emu.Advance(chunk)
			for _, fn := range s.outputSubscribers() {
				fn(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	s.active = false
	s.exitCode = code
	subs := make([]func(int), 0, len(s.exitSubs))
	for _, fn := range s.exitSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	close(s.done)
	for _, fn := range subs {
		fn(code)
	}
}

func (s *Session) outputSubscribers() []func([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]func([]byte), 0, len(s.outSubs))
	for _, fn := range s.outSubs {
		subs = append(subs, fn)
	}
	return subs
}

// Write sends input bytes to the shell.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	ok := s.active && !s.closed
	s.mu.Unlock()
	if !ok {
		return ErrSessionClosed
	}
	if _, err := s.ptmx.Write(p); err != nil {
		return fmt.Errorf("write pty: %w", err)
	}
	return nil
}

// Resize changes the PTY window size and informs the emulator.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.cols, s.rows = cols, rows
	s.mu.Unlock()

	if err := ptylib.Setsize(s.ptmx, &ptylib.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	s.emu.Resize(cols, rows)
	return nil
}

// Content returns the full retained plain-text output.
func (s *Session) Content() string { return s.emu.Content() }

// VisibleContent returns the plain text of the visible rows.
func (s *Session) VisibleContent() string { return s.emu.VisibleContent() }

// Screenshot returns the raw retained output, escape sequences included.
func (s *Session) Screenshot() []byte { return s.emu.Snapshot() }

// ClearBuffer drops retained emulator output. The shell itself is told to
// repaint by whoever called this (the manager writes a form feed).
func (s *Session) ClearBuffer() {
	if r, ok := s.emu.(interface{ Reset() }); ok {
		r.Reset()
	}
}

// Size returns the current terminal dimensions.
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Active reports whether the shell process is still running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.closed
}

// Pid returns the shell's process ID, or 0 if unknown.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// ExitCode returns the shell's exit code once the session has ended.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Done is closed when the shell process exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers an output listener and returns its unsubscribe
// handle. Listeners are invoked from the session's single output pump.
func (s *Session) Subscribe(fn func([]byte)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.outSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.outSubs, id)
		s.mu.Unlock()
	}
}

// OnExit registers an exit listener and returns its unsubscribe handle.
// If the session already exited, fn is invoked immediately.
func (s *Session) OnExit(fn func(code int)) (cancel func()) {
	s.mu.Lock()
	if !s.active {
		code := s.exitCode
		s.mu.Unlock()
		fn(code)
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.exitSubs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.exitSubs, id)
		s.mu.Unlock()
	}
}

// Close tears the session down: the shell is killed if still running and
// the PTY master is closed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := s.active
	s.mu.Unlock()

	if running && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.ptmx.Close()
	return nil
}
