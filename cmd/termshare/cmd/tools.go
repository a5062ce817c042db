package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/termshare/termshare/internal/proxy"
)

var typeCmd = &cobra.Command{
	Use:   "type <text>...",
	Short: "Type literal text into the shared session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			return b.TypeText(ctx, strings.Join(args, " "))
		})
	},
}

var keyCmd = &cobra.Command{
	Use:   "key <name>",
	Short: "Send a named key (Enter, Tab, Up, Ctrl+C, ...)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			return b.SendKey(ctx, args[0])
		})
	},
}

var contentVisibleOnly bool

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Print the session's plain-text output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			content, err := b.Content(ctx, contentVisibleOnly)
			if err != nil {
				return err
			}
			fmt.Print(content)
			if !strings.HasSuffix(content, "\n") {
				fmt.Println()
			}
			return nil
		})
	},
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Dump the raw visible region, escape sequences included",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			shot, err := b.Screenshot(ctx)
			if err != nil {
				return err
			}
			os.Stdout.WriteString(shot.Data)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the session's retained output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			return b.Clear(ctx)
		})
	},
}

var resizeCmd = &cobra.Command{
	Use:   "resize <cols> <rows>",
	Short: "Resize the shared terminal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid cols %q", args[0])
		}
		rows, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid rows %q", args[1])
		}
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			return b.Resize(ctx, cols, rows)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and recording status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			st, err := b.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("active: %v\n", st.Active)
			fmt.Printf("size: %dx%d\n", st.Cols, st.Rows)
			if st.Pid != 0 {
				fmt.Printf("pid: %d\n", st.Pid)
			}
			if len(st.Recordings) > 0 {
				fmt.Printf("recordings: %s\n", strings.Join(st.Recordings, ", "))
			}
			return nil
		})
	},
}

func init() {
	contentCmd.Flags().BoolVar(&contentVisibleOnly, "visible", false, "only the visible rows, not the full scrollback")
	rootCmd.AddCommand(typeCmd, keyCmd, contentCmd, screenshotCmd, clearCmd, resizeCmd, statusCmd)
}
