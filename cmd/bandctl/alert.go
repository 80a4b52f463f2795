package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/bandctl/pkg/miband"
)

var alertTypes = map[string]miband.AlertType{
	"mail":        miband.AlertMail,
	"message":     miband.AlertMessage,
	"missed-call": miband.AlertMissedCall,
	"call":        miband.AlertCall,
}

// parseAlertType accepts a name or the 1..4 menu number.
func parseAlertType(s string) (miband.AlertType, error) {
	if t, ok := alertTypes[strings.ToLower(s)]; ok {
		return t, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return miband.AlertType(n), nil
	}
	return 0, fmt.Errorf("unknown alert type %q (want mail, message, missed-call, call or 1-4)", s)
}

var alertCmd = &cobra.Command{
	Use:   "alert <type> <title> <message>",
	Short: "Show a typed alert on the band",
	Long: `Shows an alert on the band. Type is mail, message, missed-call, call or
the menu number 1-4. A literal \n in the message becomes a line break.

Examples:
  bandctl alert call "Mom" "Incoming call"
  bandctl alert 1 "Inbox" "3 new messages\nfrom work"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parseAlertType(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, "Sending alert to", func(ctx context.Context, env *commandEnv) error {
			return env.session.SendAlert(ctx, typ, args[1], args[2])
		})
	},
}

var messageCmd = &cobra.Command{
	Use:   "message <text>",
	Short: "Show free-form text on the band",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return withSession(cmd, "Sending message to", func(ctx context.Context, env *commandEnv) error {
			return env.session.SendMessage(ctx, text)
		})
	},
}
