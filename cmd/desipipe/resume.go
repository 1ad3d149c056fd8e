package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resumeSpawnFlag bool

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused queue, optionally launching its spawn loop",
	Run: func(cmd *cobra.Command, args []string) {
		runResume()
	},
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeSpawnFlag, "spawn", false, "also launch a detached spawn loop for this queue")
}

func runResume() {
	name := requireQueueFlag()
	cfg := loadConfig()
	ctx := context.Background()

	st := openQueue(ctx, cfg, name)
	if err := st.Resume(ctx); err != nil {
		st.Close()
		exitInternal("failed to resume queue", err)
	}
	st.Close()
	fmt.Printf("queue %q resumed\n", name)

	if resumeSpawnFlag {
		pid, err := daemonizeSpawn(name, 0)
		if err != nil {
			exitInternal("failed to launch spawn loop", err)
		}
		fmt.Printf("spawn loop launched for %q, pid %d\n", name, pid)
	}
}
