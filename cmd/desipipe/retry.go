package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/desipipe/desipipe/internal/task"
)

var retryStateFlag string

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Move every task in the given state back to PENDING",
	Run: func(cmd *cobra.Command, args []string) {
		runRetry()
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryStateFlag, "state", "", "source state to retry (required)")
}

func runRetry() {
	name := requireQueueFlag()
	if retryStateFlag == "" {
		exitUser("--state is required", nil)
	}
	state, err := parseStateStrict(retryStateFlag)
	if err != nil {
		exitUser("invalid --state", err)
	}

	cfg := loadConfig()
	ctx := context.Background()

	st := openQueue(ctx, cfg, name)
	defer st.Close()

	if state == task.StateRunning {
		fmt.Fprintln(os.Stderr, "Warning: RUNNING tasks are held by workers; retry leaves them unchanged")
	}

	n, err := st.Retry(ctx, state)
	if err != nil {
		exitInternal("failed to retry tasks", err)
	}
	fmt.Printf("%d task(s) in %s moved to PENDING\n", n, retryStateFlag)
}
