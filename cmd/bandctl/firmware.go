package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/srg/bandctl/pkg/miband"
	"golang.org/x/term"
)

var firmwareYes bool

// isTerminal reports whether stdin is interactive. Tests replace it.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var firmwareCmd = &cobra.Command{
	Use:   "firmware <file>",
	Short: "Upload a firmware (.fw), resource pack (.res) or watchface (.bin)",
	Long: `Uploads a file to the band. A .fw firmware makes the band reboot once
the transfer completes; .res resource packs and .bin watchfaces do not.

A wrong file can leave the band unusable, so the upload must be confirmed
interactively or with --yes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		kind, err := miband.FirmwareKindFromPath(path)
		if err != nil {
			return err
		}
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("firmware file: %w", err)
		}

		if err := confirmUpload(cmd.InOrStdin(), cmd.ErrOrStderr(), kind, filepath.Base(path), fi.Size()); err != nil {
			return err
		}

		return withSession(cmd, "Uploading to", func(ctx context.Context, env *commandEnv) error {
			bar := progressbar.NewOptions64(
				fi.Size(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription(fmt.Sprintf("Uploading %s", kind)),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)
			err := env.session.StartFirmwareTransfer(ctx, path, func(sent, _ int64) {
				_ = bar.Set64(sent)
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}
			printField(cmd.OutOrStdout(), "Uploaded", fmt.Sprintf("%s (%d bytes)", filepath.Base(path), fi.Size()))
			return nil
		})
	},
}

// confirmUpload asks for confirmation on a terminal. Without a terminal the
// upload proceeds only with --yes.
func confirmUpload(in io.Reader, out io.Writer, kind miband.FirmwareKind, name string, size int64) error {
	if firmwareYes {
		return nil
	}
	if !isTerminal() {
		return fmt.Errorf("%w: pass --yes to upload without a terminal", ErrNotConfirmed)
	}

	fmt.Fprintf(out, "Upload %s %s (%d bytes) to the band? [y/N] ", kind, name, size)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return ErrNotConfirmed
}

func init() {
	firmwareCmd.Flags().BoolVarP(&firmwareYes, "yes", "y", false, "Upload without asking for confirmation")
}
