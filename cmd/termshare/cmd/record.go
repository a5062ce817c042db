package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termshare/termshare/internal/proxy"
	"github.com/termshare/termshare/pkg/types"
)

var (
	recordStartMode       string
	recordStartDir        string
	recordStartIdleLimit  float64
	recordStartMaxDur     float64
	recordStartInactivity float64
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage recordings of the shared session",
}

var recordStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			res, err := b.StartRecording(ctx, types.StartRecordingParams{
				Mode:              types.RecordingMode(recordStartMode),
				OutputDir:         recordStartDir,
				IdleTimeLimit:     recordStartIdleLimit,
				MaxDuration:       recordStartMaxDur,
				InactivityTimeout: recordStartInactivity,
			})
			if err != nil {
				return err
			}
			fmt.Printf("recording %s started", res.ID)
			if res.Path != "" {
				fmt.Printf(" -> %s", res.Path)
			}
			fmt.Println()
			return nil
		})
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop <recording-id>",
	Short: "Stop a recording and report whether it was saved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b proxy.Backend) error {
			meta, err := b.StopRecording(ctx, args[0])
			if err != nil {
				return err
			}
			if meta.Saved {
				fmt.Printf("saved %s (%.1fs)\n", meta.Path, meta.Duration)
			} else {
				fmt.Printf("discarded (%.1fs)\n", meta.Duration)
			}
			return nil
		})
	},
}

func init() {
	recordStartCmd.Flags().StringVar(&recordStartMode, "mode", "", "always or on-failure (default from config)")
	recordStartCmd.Flags().StringVar(&recordStartDir, "dir", "", "output directory (default from config)")
	recordStartCmd.Flags().Float64Var(&recordStartIdleLimit, "idle-time-limit", 0, "clamp recorded gaps to this many seconds")
	recordStartCmd.Flags().Float64Var(&recordStartMaxDur, "max-duration", 0, "stop automatically after this many seconds")
	recordStartCmd.Flags().Float64Var(&recordStartInactivity, "inactivity-timeout", 0, "stop after this many silent seconds")
	recordCmd.AddCommand(recordStartCmd, recordStopCmd)
	rootCmd.AddCommand(recordCmd)
}
