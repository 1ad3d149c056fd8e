// Command desipipe-worker is the generic worker binary a local or batch
// Provider execs (spec.md §4.6: "each worker process is given
// (queue_path, tm_config_digest)"). It links no func-app handlers, so it
// can only execute bash_app tasks; a pipeline that calls func apps links
// its own worker binary that imports internal/manager.RegisterHandler
// before internal/worker.Run, reusing this file's flag and shutdown
// handling as a template. Grounded on the teacher's cmd/worker/main.go
// (flag/config load, signal handling, graceful shutdown-with-timeout),
// with the Redis queue + pool replaced by a store-backed worker.Config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desipipe/desipipe/internal/config"
	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/worker"
)

func main() {
	var (
		queuePath = flag.String("queue", "", "path to the queue's sqlite file")
		digest    = flag.String("digest", "", "tm_config digest this worker restricts claims to")
		heartbeat = flag.Duration("heartbeat", 5*time.Second, "heartbeat interval")
		idle      = flag.Duration("idle-timeout", 30*time.Second, "exit after this long without a claimable task")
	)
	flag.Parse()

	if *queuePath == "" {
		fmt.Fprintln(os.Stderr, "desipipe-worker: -queue is required")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "desipipe-worker: failed to load config: %v\n", err)
		os.Exit(2)
	}
	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, *queuePath)
	if err != nil {
		log.Fatal().Err(err).Str("queue", *queuePath).Msg("failed to open queue store")
	}
	defer st.Close()

	pub, err := newPublisher(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build events publisher")
	}
	defer pub.Close()

	jobID := fmt.Sprintf("local-%d", os.Getpid())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("worker received shutdown signal")
		cancel()
	}()

	runErr := worker.Run(ctx, worker.Config{
		Store:             st,
		Publisher:         pub,
		JobID:             jobID,
		Digest:            *digest,
		HeartbeatInterval: *heartbeat,
		IdleTimeout:       *idle,
	})
	if runErr != nil && runErr != context.Canceled {
		log.Error().Err(runErr).Msg("worker exited with error")
		os.Exit(1)
	}
}

func newPublisher(cfg config.RedisConfig) (events.Publisher, error) {
	if cfg.Addr == "" {
		return events.NoopPublisher{}, nil
	}
	return events.NewFromConfig(cfg), nil
}
