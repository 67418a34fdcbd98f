package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	configPath  string
	logLevel    string
	rootFlag    string
	baseDirFlag string
)

const defaultConfigPath = "/etc/serverforge/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "serverforge - provision a server with automatic rollback",
	Long: "forge provisions a Linux server from a declarative config. Every file it writes\n" +
		"and package it installs is journalled, and a failed phase undoes the whole run.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "forge v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Config file (YAML, or JSON by extension)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Console log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Provision this directory instead of / (overrides runtime.root)")
	rootCmd.PersistentFlags().StringVar(&baseDirFlag, "base-dir", "", "State directory (overrides runtime.base_dir)")

	rootCmd.AddCommand(
		versionCmd,
		runCmd,
		initCmd,
		validateCmd,
		rollbackCmd,
		runsCmd,
		doctorCmd,
		reportCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
