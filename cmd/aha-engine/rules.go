package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-aha/internal/config"
	"github.com/miradorstack/mirador-aha/internal/engine"
)

func newRulesCmd(configPath *string) *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect diagnosis hint rule packs",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate a rule pack; defaults to rules.path from config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				path = cfg.Rules.Path
			}
			loaded, err := engine.LoadRules(path)
			if err != nil {
				return err
			}
			for _, r := range loaded {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d hint(s)\n", r.ID, len(r.Hints))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rule(s) OK\n", path, len(loaded))
			return nil
		},
	})
	return rules
}
