package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/desipipe/desipipe/internal/logger"
)

// queueFlag backs -q/--queue, read as a glob by queues/delete and as an
// exact name by every other subcommand (spec.md §6).
var queueFlag string

var rootCmd = &cobra.Command{
	Use:     "desipipe",
	Short:   "Operate desipipe task queues",
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&queueFlag, "queue", "q", "", "queue name or glob")

	rootCmd.AddCommand(queuesCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
