package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deleteForceFlag bool

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete every queue matching a glob",
	Run: func(cmd *cobra.Command, args []string) {
		runDelete()
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteForceFlag, "force", false, "required: confirms a destructive delete")
}

func runDelete() {
	glob := requireQueueFlag()
	if !deleteForceFlag {
		exitUser("--force is required to delete a queue", nil)
	}

	cfg := loadConfig()
	names, err := matchQueues(cfg, glob)
	if err != nil {
		exitUser("invalid filter", err)
	}
	if len(names) == 0 {
		fmt.Println("no queues match", glob)
		return
	}

	for _, name := range names {
		path := queuePath(cfg, name)
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
				exitInternal(fmt.Sprintf("failed to delete %q", name), err)
			}
		}
		fmt.Printf("deleted queue %q\n", name)
	}
}
