package main

import (
	"context"

	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Wait for the band's find-device request",
	Long: `Listens for the band's "find device" screen. A line is printed when the
search starts on the band and the command exits once it is dismissed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "Listening on", func(ctx context.Context, env *commandEnv) error {
			w := cmd.OutOrStdout()
			stream, err := env.session.StartDeviceSearch(ctx,
				func() { printWarn(w, "Band is looking for this device") },
				func() { printField(w, "Device", "found") },
			)
			if err != nil {
				return err
			}
			defer stream.Stop()

			select {
			case <-stream.Done():
				return streamResult(ctx, stream)
			case <-ctx.Done():
				return nil
			}
		})
	},
}
