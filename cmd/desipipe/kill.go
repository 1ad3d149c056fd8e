package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Mark every non-terminal task KILLED (idempotent)",
	Run: func(cmd *cobra.Command, args []string) {
		runKill()
	},
}

func runKill() {
	name := requireQueueFlag()
	cfg := loadConfig()
	ctx := context.Background()

	st := openQueue(ctx, cfg, name)
	defer st.Close()

	// This only flips rows to KILLED; it does not reach into a provider to
	// signal live workers (spec.md §5 "signals workers (via provider) to
	// terminate"). A worker holding one of these rows keeps polling the
	// store until its own idle-timeout elapses, since its current task is
	// already terminal by the time it would next act on it.
	n, err := st.Kill(ctx, time.Now())
	if err != nil {
		exitInternal("failed to kill tasks", err)
	}
	fmt.Printf("%d task(s) killed in %q\n", n, name)
}
