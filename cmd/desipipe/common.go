// Command desipipe is the operator CLI over one or more queues: list,
// inspect, pause/resume, retry, spawn a scheduler, kill, and delete
// (spec.md §6). Grounded on firestige-Otus/cmd/root.go + cmd/status.go:
// a cobra root command with persistent flags, one file per subcommand,
// and a shared exitWithError helper — the teacher repo carries no CLI
// framework of its own (its cmd/*/main.go are flag-free servers), so
// this is enriched from the rest of the retrieval pack instead.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/desipipe/desipipe/internal/config"
	"github.com/desipipe/desipipe/internal/store"
)

const sqliteExt = ".sqlite"

// exitUser reports a user-visible error (queue not found, invalid
// filter, ...) and exits 1, per spec.md §6's exit code contract.
func exitUser(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// exitInternal reports a bug or environment failure and exits 2.
func exitInternal(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Internal error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Internal error: %s\n", msg)
	}
	os.Exit(2)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitInternal("failed to load config", err)
	}
	return cfg
}

// queuePath resolves a bare queue name to its sqlite file under cfg's
// base directory.
func queuePath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Queue.BaseDir, name+sqliteExt)
}

// openQueue opens the named queue's store, exiting 1 (spec.md §6
// "queue not found") if its file doesn't already exist — the CLI never
// silently creates a queue a TaskManager hasn't written to yet.
func openQueue(ctx context.Context, cfg *config.Config, name string) *store.Store {
	path := queuePath(cfg, name)
	if _, err := os.Stat(path); err != nil {
		exitUser(fmt.Sprintf("queue %q not found", name), nil)
	}
	st, err := store.Open(ctx, path)
	if err != nil {
		exitInternal(fmt.Sprintf("failed to open queue %q", name), err)
	}
	return st
}

// matchQueues lists queue names (without the .sqlite suffix) under
// cfg's base directory whose name matches glob (filepath.Match syntax).
func matchQueues(cfg *config.Config, glob string) ([]string, error) {
	entries, err := os.ReadDir(cfg.Queue.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sqliteExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), sqliteExt)
		ok, err := filepath.Match(glob, name)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func requireQueueFlag() string {
	if queueFlag == "" {
		exitUser("-q/--queue is required", nil)
	}
	return queueFlag
}
