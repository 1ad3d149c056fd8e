// Package scheduler implements the spawn loop (spec.md §4.5): the
// process that scans the queue, enforces concurrency policy, and
// launches workers through a pluggable provider. It never executes user
// code itself.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/metrics"
	"github.com/desipipe/desipipe/internal/provider"
	"github.com/desipipe/desipipe/internal/store"
)

// Config bundles the spawn loop's cadence and resource policy (spec.md
// §4.5 "timestep, spawn flag").
type Config struct {
	Timestep          time.Duration
	IdleGrace         time.Duration
	HeartbeatTimeout  time.Duration
	MaxWorkers        int
	QueuePath         string
	WorkerBinary      string
	HeartbeatInterval time.Duration
	WorkerIdleTimeout time.Duration
	Env               map[string]string
}

// Scheduler runs the spawn loop against one Store through one Provider.
// Grounded on the teacher's queue.Scheduler.schedulerLoop
// (internal/queue/scheduler.go): same ticker + ctx.Done()/stopCh select
// control flow, new tick body (provider dispatch per distinct tm_config
// digest in place of ZRangeByScore due-task promotion).
type Scheduler struct {
	store     *store.Store
	publisher events.Publisher
	provider  provider.Provider
	cfg       Config
}

// New builds a Scheduler over st, dispatching work through p.
func New(st *store.Store, pub events.Publisher, p provider.Provider, cfg Config) *Scheduler {
	return &Scheduler{store: st, publisher: pub, provider: p, cfg: cfg}
}

// Run ticks every cfg.Timestep until ctx is canceled, or until the queue
// has been PAUSED for longer than cfg.IdleGrace with nothing left
// in-flight (spec.md §4.5 step 1).
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.WithComponent("scheduler")
	log.Info().Dur("timestep", s.cfg.Timestep).Msg("spawn loop starting")

	ticker := time.NewTicker(s.cfg.Timestep)
	defer ticker.Stop()

	var pausedSince time.Time

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("spawn loop stopping: context canceled")
			return nil
		case <-ticker.C:
		}

		start := time.Now()

		paused, err := s.store.IsPaused(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to read queue state")
			continue
		}

		if paused {
			if pausedSince.IsZero() {
				pausedSince = time.Now()
			}
			live, _ := s.provider.LiveWorkers(ctx, "")
			if live == 0 && time.Since(pausedSince) > s.cfg.IdleGrace {
				log.Info().Msg("spawn loop exiting: queue paused past idle grace with no live workers")
				return nil
			}
			metrics.RecordSchedulerTick(time.Since(start).Seconds())
			continue
		}
		pausedSince = time.Time{}

		if err := s.tick(ctx, log); err != nil {
			log.Error().Err(err).Msg("spawn loop tick failed")
		}

		metrics.RecordSchedulerTick(time.Since(start).Seconds())
	}
}

// tick runs one iteration of spec.md §4.5's steps 2-4: sweep stale
// workers, promote ready tasks, cascade failures, then dispatch workers
// per distinct pending TaskManager configuration.
func (s *Scheduler) tick(ctx context.Context, log zerolog.Logger) error {
	now := time.Now()

	swept, err := s.store.SweepStale(ctx, s.cfg.HeartbeatTimeout, now)
	if err != nil {
		return fmt.Errorf("scheduler: sweep stale: %w", err)
	}
	if swept > 0 {
		log.Warn().Int("count", swept).Msg("swept stale RUNNING tasks to UNKNOWN")

		killedAtTimeout := s.provider.KilledAtTimeout()
		reclassified, err := s.store.ReclassifyUnknown(ctx, killedAtTimeout, now)
		if err != nil {
			return fmt.Errorf("scheduler: reclassify unknown: %w", err)
		}
		if killedAtTimeout {
			log.Warn().Int("count", reclassified).Msg("provider killed_at_timeout: swept tasks marked KILLED")
		} else {
			log.Warn().Int("count", reclassified).Msg("provider killed_at_timeout=false: swept tasks requeued to PENDING")
		}
	}

	activated, err := s.store.ActivateReady(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: activate ready: %w", err)
	}
	if activated > 0 {
		log.Debug().Int("count", activated).Msg("activated WAITING tasks to PENDING")
		_ = s.publisher.Publish(ctx, events.NewEvent(events.EventTaskReady, map[string]any{"count": activated}))
	}

	failed, err := s.store.CascadeFailure(ctx, now)
	if err != nil {
		return fmt.Errorf("scheduler: cascade failure: %w", err)
	}
	if failed > 0 {
		log.Warn().Int("count", failed).Msg("cascaded dependency failures")
	}

	if err := s.reportQueueDepth(ctx); err != nil {
		log.Error().Err(err).Msg("failed to report queue depth")
	}

	return s.dispatch(ctx, log)
}

// dispatch computes desired_workers per distinct pending tm_config
// digest and asks the provider to launch the shortfall (spec.md §4.5
// step 4).
func (s *Scheduler) dispatch(ctx context.Context, log zerolog.Logger) error {
	pending, err := s.store.PendingDigests(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: pending digests: %w", err)
	}

	for digest, count := range pending {
		live, err := s.provider.LiveWorkers(ctx, digest)
		if err != nil {
			log.Error().Err(err).Str("digest", digest).Msg("failed to query live workers")
			continue
		}

		desired := count
		if s.cfg.MaxWorkers > 0 && desired > s.cfg.MaxWorkers {
			desired = s.cfg.MaxWorkers
		}
		desired -= live
		if desired <= 0 {
			continue
		}

		launchCfg := provider.LaunchConfig{
			QueuePath:         s.cfg.QueuePath,
			Digest:            digest,
			WorkerBinary:      s.cfg.WorkerBinary,
			Env:               s.cfg.Env,
			IdleTimeout:       s.cfg.WorkerIdleTimeout.String(),
			HeartbeatInterval: s.cfg.HeartbeatInterval.String(),
		}

		handles, err := s.provider.Launch(ctx, desired, launchCfg)
		if err != nil {
			log.Error().Err(err).Str("digest", digest).Msg("failed to launch workers")
			continue
		}
		for _, h := range handles {
			_ = s.publisher.Publish(ctx, events.NewEvent(events.EventWorkerLaunched,
				events.WorkerEventData(h.ID, digest, map[string]any{"provider": provider.Name(s.provider)})))
		}

		metrics.SetActiveWorkers(provider.Name(s.provider), float64(live+len(handles)))
		log.Info().Str("digest", digest).Int("launched", len(handles)).Int("pending", count).Msg("dispatched workers")
	}

	return nil
}

func (s *Scheduler) reportQueueDepth(ctx context.Context) error {
	counts, err := s.store.StateCounts(ctx)
	if err != nil {
		return err
	}
	depths := make(map[string]int, len(counts))
	for state, n := range counts {
		metrics.UpdateQueueDepth(state, float64(n))
		depths[state] = n
	}
	return s.publisher.Publish(ctx, events.NewEvent(events.EventQueueDepth, events.QueueDepthData(depths)))
}
