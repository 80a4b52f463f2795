package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bandctl/pkg/miband"
)

var (
	musicArtist   string
	musicAlbum    string
	musicTitle    string
	musicPlaying  bool
	musicDuration time.Duration
	musicVolume   int
)

var musicCmd = &cobra.Command{
	Use:   "music",
	Short: "Show a track on the music screen and print button presses",
	Long: `Pushes now-playing information to the band's music screen and prints
every button press until Ctrl+C. Opening the music screen re-sends the track.

Example:
  bandctl music --artist "Daft Punk" --title "Around the World" --playing --volume 60`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		track := miband.Track{
			Artist:   musicArtist,
			Album:    musicAlbum,
			Title:    musicTitle,
			Playing:  musicPlaying,
			Duration: musicDuration,
			Volume:   musicVolume,
		}
		return withSession(cmd, "Controlling music on", func(ctx context.Context, env *commandEnv) error {
			w := cmd.OutOrStdout()
			if err := env.session.SetTrack(ctx, track); err != nil {
				return err
			}

			stream, err := env.session.StartMusicControl(ctx, func(c miband.MusicCommand) {
				printField(w, "Button", c)
			})
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

func init() {
	musicCmd.Flags().StringVar(&musicArtist, "artist", "", "Artist")
	musicCmd.Flags().StringVar(&musicAlbum, "album", "", "Album")
	musicCmd.Flags().StringVar(&musicTitle, "title", "", "Track title")
	musicCmd.Flags().BoolVar(&musicPlaying, "playing", false, "Show the track as playing")
	musicCmd.Flags().DurationVar(&musicDuration, "duration", 0, "Track duration")
	musicCmd.Flags().IntVar(&musicVolume, "volume", 50, "Volume 0-100")
}
