package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/termshare/termshare/internal/config"
	"github.com/termshare/termshare/internal/proxy"
	"github.com/termshare/termshare/internal/recording"
	"github.com/termshare/termshare/internal/session"
	"github.com/termshare/termshare/internal/term"
	"github.com/termshare/termshare/pkg/client"
	"github.com/termshare/termshare/pkg/types"
)

var (
	socketPath string
	selfHost   bool
)

var rootCmd = &cobra.Command{
	Use:   "termshare",
	Short: "Share one live terminal session with tools and recordings",
	Long: `termshare hosts a single interactive shell session and exposes it to
out-of-process tools over a local socket. Tools can type into the session,
read its content, take screenshots, and start or stop recordings, while a
human keeps using the terminal directly.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket",
		envOrDefault("TERMSHARE_SOCKET", config.DefaultSocketPath()),
		"tool-proxy socket path")
	rootCmd.PersistentFlags().BoolVar(&selfHost, "self-host", false,
		"if no session endpoint exists, run the operation against a private standalone session")
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// withBackend runs fn against the shared session over the proxy, or, with
// --self-host and no endpoint present, against a freshly constructed
// private session (degraded standalone mode).
func withBackend(ctx context.Context, fn func(context.Context, proxy.Backend) error) error {
	c, err := client.Dial(socketPath)
	if err == nil {
		defer c.Close()
		return fn(ctx, c)
	}

	if selfHost && errors.Is(err, client.ErrEndpointAbsent) {
		cfg, cerr := config.Load()
		if cerr != nil {
			return cerr
		}
		mgr := session.NewManager(session.Config{
			Term:      term.Config{Shell: cfg.Shell, ScrollbackBytes: cfg.ScrollbackBytes},
			Recording: recordingDefaults(cfg),
		})
		defer mgr.Dispose(context.Background())
		defer mgr.Recordings().FinalizeAll(0)
		return fn(ctx, mgr)
	}

	switch {
	case errors.Is(err, client.ErrEndpointAbsent):
		return fmt.Errorf("no session found at %s (is `termshare run` active?)", socketPath)
	case errors.Is(err, client.ErrConnectionRefused):
		return fmt.Errorf("connection refused at %s, session may have crashed", socketPath)
	default:
		return err
	}
}

func recordingDefaults(cfg *config.Config) recording.Options {
	mode := cfg.RecordMode
	if mode == "" {
		mode = types.RecordingAlways
	}
	return recording.Options{
		Mode:              mode,
		OutputDir:         cfg.RecordDir,
		IdleTimeLimit:     secondsToDuration(cfg.IdleTimeLimit),
		MaxDuration:       secondsToDuration(cfg.MaxDuration),
		InactivityTimeout: secondsToDuration(cfg.InactivityTimeout),
		Compress:          cfg.CompressRecords,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
