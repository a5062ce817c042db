package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	xterm "golang.org/x/term"

	"github.com/termshare/termshare/internal/config"
	"github.com/termshare/termshare/internal/observe"
	"github.com/termshare/termshare/internal/proxy"
	"github.com/termshare/termshare/internal/sandbox"
	"github.com/termshare/termshare/internal/session"
	"github.com/termshare/termshare/internal/term"
	"github.com/termshare/termshare/pkg/types"
)

var (
	runRecordMode  string
	runRecordDir   string
	runObserveAddr string
	runShell       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Host an interactive session and expose it on the tool-proxy socket",
	RunE:  runHost,
}

func init() {
	runCmd.Flags().StringVar(&runRecordMode, "record", "", "auto-record the session: always or on-failure")
	runCmd.Flags().StringVar(&runRecordDir, "record-dir", "", "recording output directory")
	runCmd.Flags().StringVar(&runObserveAddr, "observe", "", "serve the read-only observer on this address (e.g. 127.0.0.1:7681)")
	runCmd.Flags().StringVar(&runShell, "shell", "", "shell to launch (default $SHELL)")
	rootCmd.AddCommand(runCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runRecordMode != "" {
		cfg.RecordMode = types.RecordingMode(runRecordMode)
		if !cfg.RecordMode.Valid() {
			return fmt.Errorf("invalid record mode %q", runRecordMode)
		}
	}
	if runRecordDir != "" {
		cfg.RecordDir = runRecordDir
	}
	if runObserveAddr != "" {
		cfg.ObserveAddr = runObserveAddr
	}
	if runShell != "" {
		cfg.Shell = runShell
	}
	if cmd.Flags().Changed("socket") || os.Getenv("TERMSHARE_SOCKET") != "" {
		cfg.SocketPath = socketPath
	}

	perms, err := sandbox.Normalize(cfg.Sandbox)
	if err != nil {
		return err
	}
	if st := sandbox.Status(perms); perms != nil && !st.Enabled {
		log.Printf("sandbox requested but not enforced: %s", st.Reason)
	}

	cols, rows := hostSize()
	autoRecord := cfg.RecordMode != "" && cfg.RecordMode != types.RecordingOff

	mgr := session.NewManager(session.Config{
		Term: term.Config{
			Shell:           cfg.Shell,
			Cols:            cols,
			Rows:            rows,
			Permissions:     perms,
			ScrollbackBytes: cfg.ScrollbackBytes,
		},
		Recording:  recordingDefaults(cfg),
		AutoRecord: autoRecord,
	})

	srv := proxy.NewServer(cfg.SocketPath, mgr)
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()
	log.Printf("tool proxy listening on %s", srv.Path())

	var obs *observe.Server
	if cfg.ObserveAddr != "" {
		obs = observe.NewServer(cfg.ObserveAddr, mgr)
		go func() {
			if err := obs.Start(); err != nil {
				log.Printf("observer stopped: %v", err)
			}
		}()
	}

	ctx := context.Background()
	sess, err := mgr.Ensure(ctx)
	if err != nil {
		return err
	}

	unsubscribe, err := mgr.SubscribeOutput(ctx, func(p []byte) {
		os.Stdout.Write(p)
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	// Put the hosting terminal in raw mode so keystrokes reach the shell
	// unmolested.
	var restore func()
	if xterm.IsTerminal(int(os.Stdin.Fd())) {
		state, err := xterm.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		restore = func() { xterm.Restore(int(os.Stdin.Fd()), state) }
		defer restore()
	}

	go propagateWinch(mgr, sess)
	go pumpStdin(sess)

	<-sess.Done()
	exitCode := sess.ExitCode()

	metas := mgr.Recordings().FinalizeAll(exitCode)
	if restore != nil {
		restore() // restore before printing summaries; a second call is harmless
	}
	for _, meta := range metas {
		if meta.Saved {
			fmt.Fprintf(os.Stderr, "recording %s saved to %s (%.1fs)\n", meta.ID, meta.Path, meta.Duration)
		}
	}

	srv.Close()
	if obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		obs.Shutdown(shutdownCtx)
		cancel()
	}
	if err := mgr.Dispose(ctx); err != nil {
		log.Printf("dispose: %v", err)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

// pumpStdin forwards local keystrokes into the session until stdin or the
// session ends. It writes to the session directly so a keystroke arriving
// after disposal can never construct a fresh one.
func pumpStdin(sess session.Session) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := sess.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("stdin: %v", err)
			}
			return
		}
	}
}

// propagateWinch mirrors the hosting terminal's size into the session.
func propagateWinch(mgr *session.Manager, sess session.Session) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	defer signal.Stop(ch)
	for range ch {
		cols, rows := hostSize()
		if err := sess.Resize(cols, rows); err != nil {
			return
		}
		mgr.Recordings().RecordResize(cols, rows)
	}
}

func hostSize() (cols, rows int) {
	cols, rows = 80, 24
	if xterm.IsTerminal(int(os.Stdout.Fd())) {
		if c, r, err := xterm.GetSize(int(os.Stdout.Fd())); err == nil && c > 0 && r > 0 {
			cols, rows = c, r
		}
	}
	return cols, rows
}
