package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/desipipe/desipipe/internal/task"
)

var tasksStateFlag string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Dump tasks in a queue, optionally filtered by state",
	Run: func(cmd *cobra.Command, args []string) {
		runTasks()
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStateFlag, "state", "", "filter by state (e.g. PENDING, FAILED)")
}

func runTasks() {
	name := requireQueueFlag()
	cfg := loadConfig()
	ctx := context.Background()

	st := openQueue(ctx, cfg, name)
	defer st.Close()

	var filter *task.State
	if tasksStateFlag != "" {
		s, err := parseStateStrict(tasksStateFlag)
		if err != nil {
			exitUser("invalid --state", err)
		}
		filter = &s
	}

	tasks, err := st.List(ctx, filter)
	if err != nil {
		exitInternal("failed to list tasks", err)
	}

	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return
	}

	for _, t := range tasks {
		fmt.Printf("%-36s %-20s %-10s errno=%-4d jobid=%s\n", t.ID, t.AppName, t.State, t.Errno, t.JobID)
	}
}

// parseStateStrict rejects anything that isn't one of the named states,
// unlike task.ParseState's defaulting-to-WAITING behavior (appropriate
// for decoding an on-disk row, not for validating operator input).
func parseStateStrict(s string) (task.State, error) {
	switch s {
	case "WAITING", "PENDING", "RUNNING", "SUCCEEDED", "FAILED", "KILLED", "UNKNOWN":
		return task.ParseState(s), nil
	default:
		return 0, fmt.Errorf("unknown state %q", s)
	}
}
