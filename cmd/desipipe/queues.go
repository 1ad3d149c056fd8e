package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/desipipe/desipipe/internal/store"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "List matching queues with state counts",
	Run: func(cmd *cobra.Command, args []string) {
		runQueues()
	},
}

func runQueues() {
	glob := requireQueueFlag()
	cfg := loadConfig()
	ctx := context.Background()

	names, err := matchQueues(cfg, glob)
	if err != nil {
		exitUser("invalid filter", err)
	}
	if len(names) == 0 {
		fmt.Println("no queues match", glob)
		return
	}

	for _, name := range names {
		st, err := store.Open(ctx, queuePath(cfg, name))
		if err != nil {
			fmt.Printf("%-24s <failed to open: %v>\n", name, err)
			continue
		}

		counts, countsErr := st.StateCounts(ctx)
		paused, _ := st.IsPaused(ctx)
		st.Close()
		if countsErr != nil {
			fmt.Printf("%-24s <failed to read state: %v>\n", name, countsErr)
			continue
		}

		suffix := ""
		if paused {
			suffix = " [PAUSED]"
		}

		fmt.Printf("%-24s%s %s\n", name, suffix, formatCounts(counts))
	}
}

func formatCounts(counts map[string]int) string {
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Strings(states)

	out := ""
	for i, s := range states {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", s, counts[s])
	}
	if out == "" {
		return "(empty)"
	}
	return out
}
