package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bandctl",
	Short: "Mi Band 4 command-line controller",
	Long: `Command-line controller for the Xiaomi Mi Band 4 over Bluetooth Low Energy:

- Scan for nearby bands
- Read device info, battery, steps and the band clock
- Set the band clock, send alerts and free-form messages
- Measure or stream heart rate, relay find-device and music screen events
- Download the per-minute activity log
- Upload firmware, resource packs and watchfaces
- Serve the latest pulse, battery and info readings over HTTP

Credentials come from --mac/--auth-key, a "MAC;AUTH_KEY" credentials file (--creds)
or the band section of the YAML config (--config). Without credentials the session
is freezed and every band command fails fast.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("bandctl {{.Version}} (commit %s, built %s)\n", commit, date))

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(batteryCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(timeCmd)
	rootCmd.AddCommand(alertCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(heartRateCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(musicCmd)
	rootCmd.AddCommand(firmwareCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(serveCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("creds", "", "Path to a credentials file holding MAC;AUTH_KEY")
	rootCmd.PersistentFlags().String("mac", "", "Band MAC address (AA:BB:CC:DD:EE:FF)")
	rootCmd.PersistentFlags().String("auth-key", "", "Band auth key (32 hex characters)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
