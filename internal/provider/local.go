package provider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/metrics"
)

// runningJob tracks one forked worker subprocess.
type runningJob struct {
	digest string
	cmd    *exec.Cmd
}

// LocalProvider launches workers as local subprocesses, grounded on the
// teacher's worker.Pool: a mutex-guarded map of in-flight work reaped by
// a per-job goroutine instead of the teacher's semaphore-bounded goroutine
// pool, since here each unit of concurrency is an OS process the
// scheduler decides to start rather than an in-process goroutine a pool
// keeps alive for its own lifetime.
type LocalProvider struct {
	killedAtTimeout bool

	mu   sync.Mutex
	jobs map[string]*runningJob
}

// NewLocalProvider builds a LocalProvider. killedAtTimeout mirrors
// spec.md §4.6's per-provider policy, even though a local subprocess has
// no external wall-time limit of its own to expire.
func NewLocalProvider(killedAtTimeout bool) *LocalProvider {
	return &LocalProvider{killedAtTimeout: killedAtTimeout, jobs: make(map[string]*runningJob)}
}

// Launch forks n copies of cfg.WorkerBinary, each given the queue path
// and config digest as flags and cfg.Env layered onto the current
// process's environment.
func (p *LocalProvider) Launch(ctx context.Context, n int, cfg LaunchConfig) ([]JobHandle, error) {
	log := logger.WithComponent("provider.local")
	handles := make([]JobHandle, 0, n)

	for i := 0; i < n; i++ {
		cmd := exec.Command(cfg.WorkerBinary,
			"-queue", cfg.QueuePath,
			"-digest", cfg.Digest,
			"-heartbeat", cfg.HeartbeatInterval,
			"-idle-timeout", cfg.IdleTimeout,
		)
		cmd.Env = append(os.Environ(), envPairs(cfg.Env)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return handles, fmt.Errorf("provider: start local worker: %w", err)
		}

		id := uuid.NewString()
		job := &runningJob{digest: cfg.Digest, cmd: cmd}

		p.mu.Lock()
		p.jobs[id] = job
		p.mu.Unlock()

		go p.reap(id, job)

		metrics.RecordWorkerLaunch("local")
		log.Debug().Str("jobid", id).Int("pid", cmd.Process.Pid).Msg("launched local worker")
		handles = append(handles, JobHandle{ID: id})
	}

	return handles, nil
}

func (p *LocalProvider) reap(id string, job *runningJob) {
	_ = job.cmd.Wait()
	p.mu.Lock()
	delete(p.jobs, id)
	p.mu.Unlock()
	metrics.SetActiveWorkers("local", float64(p.count("")))
}

// LiveWorkers counts still-running local workers, optionally restricted
// to one tm_config digest (empty digest means "all").
func (p *LocalProvider) LiveWorkers(ctx context.Context, digest string) (int, error) {
	return p.count(digest), nil
}

func (p *LocalProvider) count(digest string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if digest == "" {
		return len(p.jobs)
	}
	n := 0
	for _, j := range p.jobs {
		if j.digest == digest {
			n++
		}
	}
	return n
}

// KilledAtTimeout reports the configured policy.
func (p *LocalProvider) KilledAtTimeout() bool {
	return p.killedAtTimeout
}

func envPairs(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

var _ Provider = (*LocalProvider)(nil)
