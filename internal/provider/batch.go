package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/metrics"
)

// jobNamePrefix tags every job this process submits so LiveWorkers can
// recognize its own jobs in a query command's output that also lists
// other users' jobs.
const jobNamePrefix = "desipipe-"

// BatchProvider submits workers as jobs to an external batch system
// (Slurm-like: sbatch to submit, squeue to query) rather than forking
// them locally (spec.md §4.6 "batch"). No pack repo drives an external
// batch scheduler, so the shell-out-and-parse shape here is new domain
// logic; only the submit-retry jitter is grounded on the teacher's
// task.RetryPolicy.CalculateBackoff (internal/task/retry.go).
type BatchProvider struct {
	killedAtTimeout bool
	submitCommand   string
	queryCommand    string

	jitter     float64
	maxRetries int

	mu   sync.Mutex
	jobs map[string]string // jobID -> digest
}

// NewBatchProvider builds a BatchProvider that shells out to submitCmd
// (e.g. "sbatch") and queryCmd (e.g. "squeue").
func NewBatchProvider(submitCmd, queryCmd string, killedAtTimeout bool, jitter float64) *BatchProvider {
	return &BatchProvider{
		killedAtTimeout: killedAtTimeout,
		submitCommand:   submitCmd,
		queryCommand:    queryCmd,
		jitter:          jitter,
		maxRetries:      3,
		jobs:            make(map[string]string),
	}
}

// Launch submits n jobs via cfg.SubmitCommand (falling back to the
// provider's configured default), one at a time, retrying a failed
// submission with jittered backoff. A submission that still fails after
// maxRetries attempts ends the launch: the remaining jobs are not
// submitted, and the handles submitted so far are returned with the error.
func (p *BatchProvider) Launch(ctx context.Context, n int, cfg LaunchConfig) ([]JobHandle, error) {
	submit := p.submitCommand
	if cfg.SubmitCommand != "" {
		submit = cfg.SubmitCommand
	}

	log := logger.WithComponent("provider.batch")
	handles := make([]JobHandle, 0, n)

	for i := 0; i < n; i++ {
		jobID, err := p.submitOne(ctx, submit, cfg)
		if err != nil {
			log.Error().Err(err).Msg("batch submission failed after retries")
			return handles, err
		}

		p.mu.Lock()
		p.jobs[jobID] = cfg.Digest
		p.mu.Unlock()

		metrics.RecordWorkerLaunch("batch")
		log.Debug().Str("jobid", jobID).Msg("submitted batch worker")
		handles = append(handles, JobHandle{ID: jobID})
	}

	return handles, nil
}

func (p *BatchProvider) submitOne(ctx context.Context, submit string, cfg LaunchConfig) (string, error) {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(calculateBackoff(attempt, p.jitter)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		name := jobNamePrefix + cfg.Digest[:minInt(12, len(cfg.Digest))]
		args := []string{
			"--job-name=" + name,
			"--wrap",
			fmt.Sprintf("%s -queue %s -digest %s -heartbeat %s -idle-timeout %s",
				cfg.WorkerBinary, cfg.QueuePath, cfg.Digest, cfg.HeartbeatInterval, cfg.IdleTimeout),
		}
		cmd := exec.CommandContext(ctx, submit, args...)
		cmd.Env = append(os.Environ(), envPairs(cfg.Env)...)

		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			lastErr = fmt.Errorf("provider: %s: %w", submit, err)
			continue
		}

		jobID := parseSubmittedJobID(out.String())
		if jobID == "" {
			lastErr = fmt.Errorf("provider: could not parse job id from %q output: %q", submit, out.String())
			continue
		}
		return jobID, nil
	}
	return "", lastErr
}

// parseSubmittedJobID extracts a numeric job id from sbatch's standard
// "Submitted batch job 12345" response.
func parseSubmittedJobID(output string) string {
	fields := strings.Fields(output)
	for i, f := range fields {
		if f == "job" && i+1 < len(fields) {
			return strings.TrimSpace(fields[i+1])
		}
	}
	return ""
}

// LiveWorkers shells out to the query command and counts jobs whose name
// carries digest's tag.
func (p *BatchProvider) LiveWorkers(ctx context.Context, digest string) (int, error) {
	query := p.queryCommand
	name := jobNamePrefix + digest[:minInt(12, len(digest))]

	cmd := exec.CommandContext(ctx, query, "--noheader", "--name="+name)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("provider: %s: %w", query, err)
	}

	n := 0
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n, nil
}

// KilledAtTimeout reports the configured policy.
func (p *BatchProvider) KilledAtTimeout() bool {
	return p.killedAtTimeout
}

// calculateBackoff mirrors the teacher's RetryPolicy.CalculateBackoff
// (internal/task/retry.go), adapted from task-level retry scheduling to
// spacing out batch submission retries.
func calculateBackoff(attempt int, jitterFactor float64) time.Duration {
	const (
		initial = 500 * time.Millisecond
		maxWait = 10 * time.Second
		factor  = 2.0
	)
	backoff := float64(initial) * math.Pow(factor, float64(attempt))
	if backoff > float64(maxWait) {
		backoff = float64(maxWait)
	}
	if jitterFactor > 0 {
		backoff += backoff * jitterFactor * (rand.Float64()*2 - 1)
	}
	if backoff < 0 {
		backoff = float64(initial)
	}
	return time.Duration(backoff)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ Provider = (*BatchProvider)(nil)
