// Package main is the entry point for Vigil, the self-healing supervisor and
// auto-patch pipeline. It wires the configuration, audit database, event bus,
// Docker client, background loops and HTTP server.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Self-healing container supervisor and auto-patch pipeline",
	Long: `Vigil watches the containers of a compose deployment, restarts the ones
that fail, exposes diagnose and webhook endpoints, and applies, tests and
rolls back code patches for the supervised services.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, patchesCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		logrus.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
