package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desipipe/desipipe/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.sqlite")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, id string, deps []string) {
	t.Helper()
	ok, err := s.Insert(context.Background(), &task.Task{
		ID:       id,
		AppName:  "double",
		AppHash:  "v1",
		Deps:     deps,
		TCreated: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInsert_NoDepsStartsPending(t *testing.T) {
	s := openTestStore(t)
	mustInsert(t, s, "a", nil)

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, got.State)
}

func TestInsert_WithDepsStartsWaiting(t *testing.T) {
	s := openTestStore(t)
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", []string{"a"})

	got, err := s.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, task.StateWaiting, got.State)
}

func TestInsert_DuplicateIsNoop(t *testing.T) {
	s := openTestStore(t)
	mustInsert(t, s, "a", nil)

	ok, err := s.Insert(context.Background(), &task.Task{ID: "a", AppName: "double", AppHash: "v1", TCreated: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsert_RefusesCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", []string{"c"})
	mustInsert(t, s, "b", []string{"a"})

	_, err := s.Insert(ctx, &task.Task{ID: "c", AppName: "double", AppHash: "v1", Deps: []string{"b"}, TCreated: time.Now()})
	assert.ErrorIs(t, err, task.ErrInvalidGraph)
}

func TestActivateReady(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", []string{"a"})

	n, err := s.ActivateReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "b's dep hasn't succeeded yet")

	claimed, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "a", claimed.ID)
	require.NoError(t, s.Finish(ctx, "a", task.StateSucceeded, 0, "", "", []byte("1"), time.Now()))

	n, err = s.ActivateReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, got.State)
}

func TestClaim_AtMostOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)

	first, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Claim(ctx, "job-2", time.Now())
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestFinish_RequiresRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)

	err := s.Finish(ctx, "a", task.StateSucceeded, 0, "", "", nil, time.Now())
	assert.ErrorIs(t, err, task.ErrNotRunning)
}

func TestCascadeFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", []string{"a"})

	claimed, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, "a", claimed.ID)
	require.NoError(t, s.Finish(ctx, "a", task.StateFailed, 1, "", "boom", nil, time.Now()))

	n, err := s.CascadeFailure(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, got.State)
	assert.Equal(t, task.ErrnoDependencyFailed, got.Errno)
}

// TestCascadeFailure_Transitive checks a 3-hop chain A->B->C fails in full
// within one CascadeFailure call (spec.md §8 property 6: "within one
// scheduler tick"), not one hop per call.
func TestCascadeFailure_Transitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", []string{"a"})
	mustInsert(t, s, "c", []string{"b"})

	claimed, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, "a", claimed.ID)
	require.NoError(t, s.Finish(ctx, "a", task.StateFailed, 1, "", "boom", nil, time.Now()))

	n, err := s.CascadeFailure(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, b.State)
	assert.Equal(t, task.ErrnoDependencyFailed, b.Errno)

	c, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, c.State)
	assert.Equal(t, task.ErrnoDependencyFailed, c.Errno)
}

func TestSweepStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)

	past := time.Now().Add(-time.Hour)
	_, err := s.Claim(ctx, "job-1", past)
	require.NoError(t, err)

	n, err := s.SweepStale(ctx, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StateUnknown, got.State)
}

func TestReclassifyUnknown_KilledAtTimeoutTrue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)

	past := time.Now().Add(-time.Hour)
	_, err := s.Claim(ctx, "job-1", past)
	require.NoError(t, err)
	_, err = s.SweepStale(ctx, time.Minute, time.Now())
	require.NoError(t, err)

	n, err := s.ReclassifyUnknown(ctx, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StateKilled, got.State)
}

func TestReclassifyUnknown_KilledAtTimeoutFalse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)

	past := time.Now().Add(-time.Hour)
	_, err := s.Claim(ctx, "job-1", past)
	require.NoError(t, err)
	_, err = s.SweepStale(ctx, time.Minute, time.Now())
	require.NoError(t, err)

	n, err := s.ReclassifyUnknown(ctx, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, got.State)
	assert.Equal(t, "", got.JobID)
}

func TestRetry_SkipsRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	_, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)

	n, err := s.Retry(ctx, task.StateRunning)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRetry_ResetsTerminalTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	_, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, "a", task.StateSucceeded, 0, "", "", []byte("1"), time.Now()))

	n, err := s.Retry(ctx, task.StateSucceeded)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, got.State)
	assert.Nil(t, got.ResultBlob)
}

func TestRetryOne_ResetsSingleRowToPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	_, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, "a", task.StateFailed, 3, "", "boom", nil, time.Now()))

	ok, err := s.RetryOne(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, got.State)
	assert.Equal(t, 0, got.Errno)
	assert.Empty(t, got.Err)
}

func TestRetryOne_ResetsDependentRowToWaiting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", []string{"a"})

	_, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, "a", task.StateSucceeded, 0, "", "", []byte("1"), time.Now()))
	_, err = s.ActivateReady(ctx)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "job-2", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, "b", task.StateSucceeded, 0, "", "", []byte("2"), time.Now()))

	ok, err := s.RetryOne(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, task.StateWaiting, got.State, "a row with deps must reset to WAITING, not PENDING")
}

func TestRetryOne_SkipsRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	_, err := s.Claim(ctx, "job-1", time.Now())
	require.NoError(t, err)

	ok, err := s.RetryOne(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, task.StateRunning, got.State)
}

func TestKill_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)

	n, err := s.Kill(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Kill(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPauseResume(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	paused, err := s.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.Pause(ctx))
	paused, err = s.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, s.Resume(ctx))
	paused, err = s.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestStateCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "a", nil)
	mustInsert(t, s, "b", []string{"a"})

	counts, err := s.StateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["PENDING"])
	assert.Equal(t, 1, counts["WAITING"])
}
