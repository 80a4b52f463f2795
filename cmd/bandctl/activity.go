package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bandctl/pkg/miband"
)

var (
	activitySince string
	activityUntil string
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Download per-minute activity records",
	Long: `Downloads per-minute activity records (category, intensity, steps,
heart rate) for [--since, --until). Times are RFC3339; --since also accepts a
duration back from now such as 2h.

Examples:
  bandctl activity --since 2h
  bandctl activity --since 2024-05-04T08:00:00+02:00 --until 2024-05-04T12:00:00+02:00 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now := time.Now()
		start, err := parseTimeFlag(activitySince, now)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		end := now
		if activityUntil != "" {
			if end, err = parseTimeFlag(activityUntil, now); err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
		}

		return withSession(cmd, "Fetching activity from", func(ctx context.Context, env *commandEnv) error {
			w := cmd.OutOrStdout()
			return env.session.GetActivityLog(ctx, start, end, func(e miband.ActivityEntry) {
				if outputJSON {
					_ = printJSON(w, e)
					return
				}
				fmt.Fprintf(w, "%s  category=%-3d intensity=%-3d steps=%-3d heart_rate=%d\n",
					e.Timestamp.Format("2006-01-02 15:04"), e.Category, e.Intensity, e.Steps, e.HeartRate)
			})
		})
	},
}

// parseTimeFlag accepts RFC3339 or a duration before now.
func parseTimeFlag(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, s)
}

func init() {
	activityCmd.Flags().StringVar(&activitySince, "since", "24h", "Start of the interval (RFC3339 or duration ago)")
	activityCmd.Flags().StringVar(&activityUntil, "until", "", "End of the interval (RFC3339 or duration ago, default now)")
	activityCmd.Flags().BoolVar(&outputJSON, "json", false, "Output one JSON object per record")
}
