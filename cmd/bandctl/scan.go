package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	goble "github.com/srg/bandctl/internal/device/go-ble"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby Mi Bands",
	Long: `Listen for Bluetooth Low Energy advertisements and list the peripherals found.

By default only peripherals advertising the Mi Band service (fee0) are shown.
Use --all to list every advertising peripheral.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanAll       bool
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every advertising peripheral, not just Mi Bands")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&outputJSON, "json", false, "Print the result as JSON")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}

	logger, err := configureLogger(cmd, nil)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := goble.DefaultScanOptions()
	opts.Duration = scanDuration
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList
	if scanAll {
		opts.ServiceUUIDs = nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for bands", "Scanning", "Processing results")
	progress.Start()
	found, err := goble.NewScanner(logger).Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(w, found)
	}
	if len(found) == 0 {
		printWarn(w, "no devices found")
		return nil
	}
	return printScanTable(w, found)
}

func printScanTable(out io.Writer, found []goble.Advertisement) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tRSSI\tNAME\tSERVICES")
	for _, a := range found {
		name := a.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.Address, a.RSSI, name, strings.Join(a.Services, ","))
	}
	return w.Flush()
}
