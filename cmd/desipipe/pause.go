package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a queue: stop new claims, let in-flight tasks finish",
	Run: func(cmd *cobra.Command, args []string) {
		runPause()
	},
}

func runPause() {
	name := requireQueueFlag()
	cfg := loadConfig()
	ctx := context.Background()

	st := openQueue(ctx, cfg, name)
	defer st.Close()

	if err := st.Pause(ctx); err != nil {
		exitInternal("failed to pause queue", err)
	}
	fmt.Printf("queue %q paused\n", name)
}
