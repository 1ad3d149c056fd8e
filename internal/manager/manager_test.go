package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/task"
)

func openTestManager(t *testing.T) *TaskManager {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.sqlite")
	st, err := store.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tm, err := New(st, events.NoopPublisher{}, map[string]any{"maxworkers": 4})
	require.NoError(t, err)
	return tm
}

func TestApp_Call_FreshIdentityStableAcrossCalls(t *testing.T) {
	tm := openTestManager(t)
	app, err := tm.NewApp("double", "v1", "sha:abc123", nil)
	require.NoError(t, err)

	ctx := context.Background()
	f1, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)
	f2, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)

	assert.Equal(t, f1.ID, f2.ID, "identical calls to the same app must reuse the same task id")

	n, err := tm.Store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the second call must not insert a duplicate row")
}

func TestApp_Call_DifferentArgsDifferentIdentity(t *testing.T) {
	tm := openTestManager(t)
	app, err := tm.NewApp("double", "v1", "sha:abc123", nil)
	require.NoError(t, err)

	ctx := context.Background()
	f1, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)
	f2, err := app.Call(ctx, []any{22}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, f1.ID, f2.ID)
}

func TestApp_Call_SourceChangeChangesIdentityUnderFresh(t *testing.T) {
	tm := openTestManager(t)
	v1, err := tm.NewApp("double", "v1", "sha:abc123", nil)
	require.NoError(t, err)
	v2, err := tm.NewApp("double", "v2", "sha:def456", nil)
	require.NoError(t, err)

	ctx := context.Background()
	f1, err := v1.Call(ctx, []any{21}, nil)
	require.NoError(t, err)
	f2, err := v2.Call(ctx, []any{21}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, f1.ID, f2.ID, "a changed source ref must mint a new id under ReuseFresh")
}

func TestApp_Call_ReuseByNameIgnoresSourceChange(t *testing.T) {
	tm := openTestManager(t)
	v1, err := tm.NewApp("double", "v1", "sha:abc123", nil, WithReusePolicy(ReuseByName))
	require.NoError(t, err)
	v2, err := tm.NewApp("double", "v2", "sha:def456", nil, WithReusePolicy(ReuseByName))
	require.NoError(t, err)

	ctx := context.Background()
	f1, err := v1.Call(ctx, []any{21}, nil)
	require.NoError(t, err)
	f2, err := v2.Call(ctx, []any{21}, nil)
	require.NoError(t, err)

	assert.Equal(t, f1.ID, f2.ID, "ReuseByName must match by app_name + args regardless of source ref")
}

func TestApp_Call_ReuseByNameForcesRerunOutsideReuseState(t *testing.T) {
	tm := openTestManager(t)
	ctx := context.Background()

	app, err := tm.NewApp("double", "v1", "sha:abc123", nil,
		WithReusePolicy(ReuseByName), WithReuseState(task.StateSucceeded))
	require.NoError(t, err)

	f1, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)

	// The row is still PENDING (never ran), so a second call must reset it
	// rather than silently return the same stale future.
	f2, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)

	row, err := tm.Store.Get(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, row.State)
}

func TestApp_Call_ReuseByNameKeepsRowMatchingReuseState(t *testing.T) {
	tm := openTestManager(t)
	ctx := context.Background()

	app, err := tm.NewApp("double", "v1", "sha:abc123", nil,
		WithReusePolicy(ReuseByName), WithReuseState(task.StateSucceeded))
	require.NoError(t, err)

	f1, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)

	now := time.Now()
	claimed, err := tm.Store.Claim(ctx, "job-1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, tm.Store.Finish(ctx, claimed.ID, task.StateSucceeded, 0, "", "", []byte(`42`), now))

	f2, err := app.Call(ctx, []any{21}, nil)
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)

	row, err := tm.Store.Get(ctx, f2.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, row.State, "a row already matching ReuseState must not be reset")
}

func TestApp_Call_SkipNeverTouchesStore(t *testing.T) {
	tm := openTestManager(t)
	app, err := tm.NewApp("noop", "v1", "sha:abc123", nil, WithReusePolicy(ReuseSkip))
	require.NoError(t, err)

	ctx := context.Background()
	f, err := app.Call(ctx, []any{1, 2, 3}, nil)
	require.NoError(t, err)

	var v any
	require.NoError(t, f.Result(ctx, &v))
	assert.Nil(t, v)

	n, err := tm.Store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestApp_Call_FutureArgumentBecomesDependency(t *testing.T) {
	tm := openTestManager(t)
	producer, err := tm.NewApp("produce", "v1", "sha:abc123", nil)
	require.NoError(t, err)
	consumer, err := tm.NewApp("consume", "v1", "sha:abc123", nil)
	require.NoError(t, err)

	ctx := context.Background()
	upstream, err := producer.Call(ctx, nil, nil)
	require.NoError(t, err)

	downstream, err := consumer.Call(ctx, []any{upstream}, nil)
	require.NoError(t, err)

	row, err := tm.Store.Get(ctx, downstream.ID)
	require.NoError(t, err)
	require.Len(t, row.Deps, 1)
	assert.Equal(t, upstream.ID, row.Deps[0])
	assert.Equal(t, task.StateWaiting, row.State, "a task with an unsatisfied dep must start WAITING")
}

func TestApp_Call_StampsTMConfig(t *testing.T) {
	tm := openTestManager(t)
	app, err := tm.NewApp("double", "v1", "sha:abc123", nil)
	require.NoError(t, err)

	ctx := context.Background()
	f, err := app.Call(ctx, []any{1}, nil)
	require.NoError(t, err)

	row, err := tm.Store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxworkers":4}`, string(row.TMConfig))
}

func TestApp_Call_DefaultKindIsFunc(t *testing.T) {
	tm := openTestManager(t)
	app, err := tm.NewApp("double", "v1", "sha:abc123", nil)
	require.NoError(t, err)

	ctx := context.Background()
	f, err := app.Call(ctx, []any{1}, nil)
	require.NoError(t, err)

	row, err := tm.Store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, task.KindFunc, row.Kind)
}

func TestApp_Call_WithBashStampsBashKind(t *testing.T) {
	tm := openTestManager(t)
	app, err := tm.NewApp("echo", "v1", "sha:abc123", nil, WithBash())
	require.NoError(t, err)

	ctx := context.Background()
	f, err := app.Call(ctx, []any{"echo", "hi"}, nil)
	require.NoError(t, err)

	row, err := tm.Store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, task.KindBash, row.Kind)
}

func TestRegisterHandler_LookupHandlerRoundTrips(t *testing.T) {
	called := false
	RegisterHandler("manager-test-echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		called = true
		return args, nil
	})

	h, ok := LookupHandler("manager-test-echo")
	require.True(t, ok)

	_, err := h(context.Background(), []any{1}, nil)
	require.NoError(t, err)
	assert.True(t, called)

	_, ok = LookupHandler("manager-test-unregistered")
	assert.False(t, ok)
}

func TestClone_KeepsStoreChangesConfig(t *testing.T) {
	tm := openTestManager(t)
	clone, err := tm.Clone(map[string]any{"maxworkers": 8})
	require.NoError(t, err)

	assert.Same(t, tm.Store, clone.Store)

	app, err := clone.NewApp("double", "v1", "sha:abc123", nil)
	require.NoError(t, err)
	f, err := app.Call(context.Background(), []any{1}, nil)
	require.NoError(t, err)

	row, err := tm.Store.Get(context.Background(), f.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxworkers":8}`, string(row.TMConfig))
}
