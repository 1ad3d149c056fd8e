// Package worker implements the single-task execution loop spec.md §4.7
// describes: claim -> execute -> finish, with panic recovery and a
// rolling stdout/stderr buffer flushed at least once per heartbeat.
package worker

import (
	"context"
	"time"

	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/metrics"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/task"
)

// claimPollInterval bounds how often an idle worker re-polls the store
// for a claimable task.
const claimPollInterval = 250 * time.Millisecond

// Config bundles everything Run needs for one worker process (spec.md
// §4.6: "each worker process is given (queue_path, tm_config_digest)").
type Config struct {
	Store     *store.Store
	Publisher events.Publisher

	// JobID is this worker's own identifier, stamped onto every task it
	// claims (spec.md §3 Task.jobid).
	JobID string
	// Digest restricts claims to tasks stamped with this tm_config
	// digest (store.ConfigDigest).
	Digest string

	HeartbeatInterval time.Duration
	// IdleTimeout is how long the worker keeps polling for a claimable
	// task before exiting (spec.md §4.6 worker_idle_timeout).
	IdleTimeout time.Duration
}

// Run claims and executes tasks until cfg.IdleTimeout elapses with
// nothing to claim, the queue is paused, or ctx is canceled. It is
// crash-safe to kill: an in-flight task stays RUNNING until the spawn
// loop's heartbeat sweep moves it to UNKNOWN.
func Run(ctx context.Context, cfg Config) error {
	log := logger.WithWorker(cfg.JobID)
	log.Info().Str("digest", cfg.Digest).Msg("worker starting")

	idleSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if paused, err := cfg.Store.IsPaused(ctx); err == nil && paused {
			log.Info().Msg("worker exiting: queue paused")
			return nil
		}

		t, err := cfg.Store.ClaimDigest(ctx, cfg.JobID, cfg.Digest, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			time.Sleep(claimPollInterval)
			continue
		}
		if t == nil {
			if time.Since(idleSince) > cfg.IdleTimeout {
				log.Info().Msg("worker exiting: idle timeout elapsed")
				return nil
			}
			time.Sleep(claimPollInterval)
			continue
		}

		idleSince = time.Now()
		executeOne(ctx, cfg, t)
	}
}

func executeOne(ctx context.Context, cfg Config, t *task.Task) {
	log := logger.WithTask(t.ID)
	log.Info().Str("app", t.AppName).Str("kind", t.Kind).Msg("task claimed")

	_ = cfg.Publisher.Publish(ctx, events.NewEvent(events.EventTaskRunning,
		events.TaskEventData(t.ID, t.AppName, map[string]any{"jobid": cfg.JobID})))

	buf := newOutputBuffer()
	stop := startHeartbeat(ctx, cfg, t.ID, buf)

	var (
		result     []byte
		errno      int
		errText    string
		final      task.State
		runErr     error
	)
	start := time.Now()

	switch t.Kind {
	case task.KindBash:
		result, errno, errText, runErr = runBash(ctx, cfg.Store, t, buf)
	default:
		result, errno, errText, runErr = runFunc(ctx, cfg.Store, t, buf)
	}

	stop()

	if runErr != nil {
		errno = -3
		errText = runErr.Error()
	}
	if errno == 0 && runErr == nil {
		final = task.StateSucceeded
	} else {
		final = task.StateFailed
	}

	now := time.Now()
	out, errOut := buf.drain()
	if err := cfg.Store.Finish(ctx, t.ID, final, errno, out, errOut, result, now); err != nil {
		log.Error().Err(err).Msg("failed to finalize task")
		return
	}

	metrics.RecordTaskCompletion(t.AppName, final.String(), now.Sub(start).Seconds())
	_ = cfg.Publisher.PublishDone(ctx, t.ID)

	eventType := events.EventTaskSucceeded
	if final == task.StateFailed {
		eventType = events.EventTaskFailed
	}
	_ = cfg.Publisher.Publish(ctx, events.NewEvent(eventType,
		events.TaskEventData(t.ID, t.AppName, map[string]any{"errno": errno})))

	log.Info().Str("state", final.String()).Int("errno", errno).Dur("duration", now.Sub(start)).Msg("task finished")
}

// startHeartbeat launches a ticker goroutine that stamps t_heartbeat and
// flushes buffered output at least once per interval (spec.md §4.7 "at
// least every heartbeat"). The returned func stops the ticker and waits
// for its goroutine to exit; it does not flush. Output written after the
// last tick is drained by the caller and passed to Store.Finish.
func startHeartbeat(ctx context.Context, cfg Config, taskID string, buf *outputBuffer) func() {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	done := make(chan struct{})
	ticking := make(chan struct{})

	go func() {
		defer close(ticking)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = cfg.Store.Heartbeat(ctx, taskID, time.Now())
				out, errOut := buf.flush()
				if out != "" || errOut != "" {
					_ = cfg.Store.FlushOutput(ctx, taskID, out, errOut)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-ticking
	}
}
