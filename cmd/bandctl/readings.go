package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var outputJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show serial number, revisions, battery and band clock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "Reading info from", func(ctx context.Context, env *commandEnv) error {
			info, err := env.session.GetInfo(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(w, info)
			}
			printField(w, "Address", info.Address)
			printField(w, "Serial", info.Serial)
			printField(w, "Hardware revision", info.HardwareRevision)
			printField(w, "Software revision", info.SoftwareRevision)
			printField(w, "Battery", fmt.Sprintf("%d%%", info.Battery))
			printField(w, "Time", info.Time.Format(time.RFC3339))
			return nil
		})
	},
}

var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Show the battery level",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "Reading battery from", func(ctx context.Context, env *commandEnv) error {
			battery, err := env.session.GetBattery(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(w, battery)
			}
			printField(w, "Battery", fmt.Sprintf("%d%%", battery.Level))
			printField(w, "Charging", battery.Charging)
			return nil
		})
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Show today's steps, distance and calories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSession(cmd, "Reading steps from", func(ctx context.Context, env *commandEnv) error {
			steps, err := env.session.GetSteps(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if outputJSON {
				return printJSON(w, steps)
			}
			printField(w, "Steps", steps.Steps)
			printField(w, "Meters", steps.Meters)
			printField(w, "Calories", steps.Calories)
			printField(w, "Fat burned", steps.FatBurned)
			return nil
		})
	},
}

var timeSet string

var timeCmd = &cobra.Command{
	Use:   "time",
	Short: "Show or set the band clock",
	Long: `Shows the band clock. With --set the clock is set first; "now" uses the
local system time, anything else is parsed as RFC3339.

Examples:
  bandctl time
  bandctl time --set now
  bandctl time --set 2024-05-04T09:30:00+02:00`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var target time.Time
		switch timeSet {
		case "":
		case "now":
			target = time.Now()
		default:
			t, err := time.Parse(time.RFC3339, timeSet)
			if err != nil {
				return fmt.Errorf("invalid --set time: %w", err)
			}
			target = t
		}

		return withSession(cmd, "Reading time from", func(ctx context.Context, env *commandEnv) error {
			if !target.IsZero() {
				if err := env.session.SetTime(ctx, target); err != nil {
					return err
				}
			}
			t, err := env.session.GetCurrentTime(ctx)
			if err != nil {
				return err
			}
			printField(cmd.OutOrStdout(), "Time", t.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{infoCmd, batteryCmd, stepsCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	}
	timeCmd.Flags().StringVar(&timeSet, "set", "", `Set the clock first ("now" or an RFC3339 time)`)
}
