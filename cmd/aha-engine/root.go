package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "aha-engine",
		Short: "Agent health analysis: turns failed agent traces into diagnosed incidents",
		Long: `aha-engine receives LangSmith failure webhooks, fetches the failing trace,
asks a language model for a structured diagnosis and files a GitHub issue.
Incidents are kept in memory and served over HTTP and gRPC.`,
		Version:       version,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (env MIRADOR_AHA_CONFIG)")

	root.AddCommand(newServeCmd(&configPath), newRulesCmd(&configPath), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
