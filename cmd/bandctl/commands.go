package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/bandctl/pkg/miband"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List band commands and whether they need authentication",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts, err := cfg.SessionOptions()
		if err != nil {
			return err
		}

		policy := miband.DefaultAccessPolicy()
		for name, a := range opts.Access {
			policy.Set(name, a)
		}

		w := cmd.OutOrStdout()
		policy.Each(func(name string, a miband.Access) {
			printField(w, name, a)
		})
		return nil
	},
}
