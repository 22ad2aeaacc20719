// Command duprepair runs the repair coordinator against a local database
// and a remote backend, grounded on cobra's use across the pack (warren's
// cmd/warren single-binary-many-subcommands layout, rclone's cmd/ tree).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "duprepair",
	Short: "Repair a deduplicated, content-addressed backup's remote volumes",
	Long: `duprepair reconciles a local database against a remote backend of
data/index/fileset volumes: verifying uploaded volumes, cleaning up extras,
rebuilding anything missing, and recreating local state from whatever the
remote store still has.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(repairCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	asJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	if asJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
