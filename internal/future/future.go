// Package future implements the in-memory handle over a queue row
// (spec.md §2 "Task & Future model"). A Future never owns state itself;
// every call re-reads the backing store, so a Future obtained from one
// process reflects writes committed by any other.
package future

import (
	"context"
	"fmt"
	"time"

	"github.com/desipipe/desipipe/internal/codec"
	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/task"
)

// pollFloor and pollCeil bound the adaptive polling backoff used when no
// events bus is configured (or the done notification is missed).
const (
	pollFloor = 25 * time.Millisecond
	pollCeil  = 2 * time.Second
)

// Future is a handle over a single task row.
type Future struct {
	ID      string
	skipped bool

	st  *store.Store
	pub events.Publisher
}

// New wraps id with the store and event bus it should be read through.
func New(st *store.Store, pub events.Publisher, id string) *Future {
	return &Future{ID: id, st: st, pub: pub}
}

// Skipped builds a Future for a skip-reuse-policy call (spec.md §3 App
// "skip": a no-op whose result() is null). It never touches the store;
// Result leaves v untouched and returns nil.
func Skipped() *Future {
	return &Future{skipped: true}
}

// FailedError wraps a task's errno and captured error text, returned by
// Result when the task finished as FAILED or KILLED. UNKNOWN is not a
// terminal state, so Result keeps waiting on an UNKNOWN row.
type FailedError struct {
	State task.State
	Errno int
	Err   string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("task %s: errno=%d: %s", e.State, e.Errno, e.Err)
}

// Result blocks until the task reaches a terminal state and returns its
// decoded result_blob, or a *FailedError if it did not succeed.
func (f *Future) Result(ctx context.Context, v any) error {
	if f.skipped {
		return nil
	}
	t, err := f.wait(ctx)
	if err != nil {
		return err
	}
	if t.State != task.StateSucceeded {
		return &FailedError{State: t.State, Errno: t.Errno, Err: t.Err}
	}
	if v == nil || t.ResultBlob == nil {
		return nil
	}
	return codec.Decode(t.ResultBlob, v)
}

// Out returns the task's captured stdout as of now, without waiting for
// completion — useful for tailing a still-RUNNING task.
func (f *Future) Out(ctx context.Context) (string, error) {
	if f.skipped {
		return "", nil
	}
	t, err := f.st.Get(ctx, f.ID)
	if err != nil {
		return "", err
	}
	return t.Out, nil
}

// Err returns the task's captured stderr/traceback as of now, without
// waiting for completion.
func (f *Future) Err(ctx context.Context) (string, error) {
	if f.skipped {
		return "", nil
	}
	t, err := f.st.Get(ctx, f.ID)
	if err != nil {
		return "", err
	}
	return t.Err, nil
}

// State returns the task's current state.
func (f *Future) State(ctx context.Context) (task.State, error) {
	if f.skipped {
		return task.StateSucceeded, nil
	}
	t, err := f.st.Get(ctx, f.ID)
	if err != nil {
		return task.StateWaiting, err
	}
	return t.State, nil
}

// wait polls the store for a terminal state, racing the poll ticker
// against the events bus's done notification (SPEC_FULL §4.4). The
// events bus is at-least-poll: a dropped or never-configured
// notification still converges via the ticker, just not as quickly.
func (f *Future) wait(ctx context.Context) (*task.Task, error) {
	t, err := f.st.Get(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if t.State.IsTerminal() {
		return t, nil
	}

	var done <-chan struct{}
	if f.pub != nil {
		if ch, err := f.pub.SubscribeDone(ctx, f.ID); err == nil {
			done = ch
		}
	}

	delay := pollFloor
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			done = nil // one-shot; fall through to an immediate re-read
		case <-timer.C:
			delay *= 2
			if delay > pollCeil {
				delay = pollCeil
			}
		}

		t, err := f.st.Get(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		if t.State.IsTerminal() {
			return t, nil
		}
		timer.Reset(delay)
	}
}
