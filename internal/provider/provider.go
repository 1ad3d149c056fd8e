// Package provider implements the uniform contract spec.md §4.6 puts
// over "where a worker runs": a bounded local subprocess pool, or a
// Slurm-like batch system reached by shelling out to its submission and
// query commands. The scheduler only ever talks to this interface; it
// never knows whether a worker is a child process or a cluster job.
package provider

import (
	"context"
)

// JobHandle is the opaque identifier a Provider hands back for one
// launched worker (spec.md §4.6 "job_handle").
type JobHandle struct {
	ID string
}

// LaunchConfig is everything a Provider needs to start n workers for one
// TaskManager configuration.
type LaunchConfig struct {
	// QueuePath is the on-disk path of the queue store the worker should
	// open (spec.md §4.6: "each worker process is given (queue_path,
	// tm_config_digest)").
	QueuePath string
	// Digest is the tm_config digest (store.ConfigDigest) the worker
	// should restrict its claims to.
	Digest string
	// WorkerBinary is the executable to launch for a local worker.
	WorkerBinary string
	// Env is applied on top of the launching process's environment
	// (spec.md §4.3 "environment spec enumerates environment variables
	// ... to prepare before execution").
	Env map[string]string
	// IdleTimeout is forwarded to the worker so it knows when to exit
	// after finding no eligible task (spec.md §4.6 worker_idle_timeout).
	IdleTimeout string
	// HeartbeatInterval is forwarded to the worker for its heartbeat
	// cadence.
	HeartbeatInterval string
	// SubmitCommand, when set, overrides the batch provider's configured
	// submission command; the local provider ignores it. QueryCommand is
	// read by neither provider: BatchProvider.LiveWorkers always uses the
	// query command it was built with.
	SubmitCommand string
	QueryCommand  string
}

// Provider abstracts over local subprocesses and batch-system jobs
// (spec.md §4.6).
type Provider interface {
	// Launch allocates n worker processes for cfg, returning a handle
	// per worker actually started.
	Launch(ctx context.Context, n int, cfg LaunchConfig) ([]JobHandle, error)
	// LiveWorkers reports how many workers launched for digest still
	// hold a slot.
	LiveWorkers(ctx context.Context, digest string) (int, error)
	// KilledAtTimeout reports whether a worker that runs out of
	// allocated wall time should leave its task KILLED (true) or
	// re-queued as PENDING (false) — spec.md §4.6.
	KilledAtTimeout() bool
}

// Name identifies which Provider implementation is in play, for metrics
// labels and log fields.
func Name(p Provider) string {
	switch p.(type) {
	case *LocalProvider:
		return "local"
	case *BatchProvider:
		return "batch"
	default:
		return "unknown"
	}
}
