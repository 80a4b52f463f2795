package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bandctl/pkg/miband"
)

var heartRateStream bool

var heartRateCmd = &cobra.Command{
	Use:   "heart-rate",
	Short: "Measure heart rate once or stream it",
	Long: `Takes one heart rate measurement. With --stream, continuous monitoring is
started and every sample is printed until Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "Measuring heart rate on", func(ctx context.Context, env *commandEnv) error {
			w := cmd.OutOrStdout()
			if !heartRateStream {
				bpm, err := env.session.GetHeartRate(ctx)
				if err != nil {
					return err
				}
				printField(w, "Heart rate", fmt.Sprintf("%d bpm", bpm))
				return nil
			}

			samples := make(chan int, 16)
			stream, err := env.session.StartHeartRateStream(ctx, func(bpm int) {
				select {
				case samples <- bpm:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer stream.Stop()

			for {
				select {
				case bpm := <-samples:
					printField(w, time.Now().Format(time.TimeOnly), fmt.Sprintf("%d bpm", bpm))
				case <-stream.Done():
					return streamResult(ctx, stream)
				case <-ctx.Done():
					return nil
				}
			}
		})
	},
}

// streamResult converts the end of a stream into the command result.
func streamResult(ctx context.Context, stream *miband.Stream) error {
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func init() {
	heartRateCmd.Flags().BoolVar(&heartRateStream, "stream", false, "Stream samples until interrupted")
}
