package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"runtime/debug"

	"github.com/desipipe/desipipe/internal/codec"
	"github.com/desipipe/desipipe/internal/logger"
	"github.com/desipipe/desipipe/internal/manager"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/task"
)

// runFunc executes a "func" (python_app-equivalent) task: look up its
// registered handler, materialize any future-argument placeholders
// against the store, run it with panic recovery, and encode its result
// (spec.md §4.7).
func runFunc(ctx context.Context, st *store.Store, t *task.Task, buf *outputBuffer) (result []byte, errno int, errText string, runErr error) {
	handler, ok := manager.LookupHandler(t.AppName)
	if !ok {
		return nil, 0, "", fmt.Errorf("worker: no handler registered for app %q", t.AppName)
	}

	var rawArgs []any
	if t.ArgsBlob != nil {
		if err := codec.Decode(t.ArgsBlob, &rawArgs); err != nil {
			return nil, 0, "", fmt.Errorf("worker: decode args: %w", err)
		}
	}
	var rawKwargs map[string]any
	if t.KwargsBlob != nil {
		if err := codec.Decode(t.KwargsBlob, &rawKwargs); err != nil {
			return nil, 0, "", fmt.Errorf("worker: decode kwargs: %w", err)
		}
	}

	args, err := materializeSlice(ctx, st, rawArgs)
	if err != nil {
		return nil, 0, "", err
	}
	kwargs, err := materializeMap(ctx, st, rawKwargs)
	if err != nil {
		return nil, 0, "", err
	}

	out, handlerErr := invoke(ctx, t, handler, args, kwargs, buf)
	if handlerErr != nil {
		return nil, errnoForError(handlerErr), handlerErr.Error(), nil
	}

	if out == nil {
		return nil, 0, "", nil
	}
	blob, err := codec.Encode(out)
	if err != nil {
		return nil, 0, "", fmt.Errorf("worker: encode result: %w", err)
	}
	return blob, 0, "", nil
}

// invoke calls handler with panic recovery, converting a panic into an
// error the same way the teacher's Executor.Execute does
// (internal/worker/executor.go: runtime/debug.Stack() on recover).
func invoke(ctx context.Context, t *task.Task, handler manager.Handler, args []any, kwargs map[string]any, buf *outputBuffer) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithTask(t.ID).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	restore := redirectStdio(t.ID, buf)
	defer restore()

	return handler(ctx, args, kwargs)
}

// redirectStdio swaps os.Stdout/os.Stderr for pipes that tee into buf,
// capturing whatever a handler prints the way spec.md §4.7 expects
// ("capture stdout/stderr into rolling buffers"). desipipe workers run
// one task at a time, so a process-wide redirect is safe here.
func redirectStdio(taskID string, buf *outputBuffer) func() {
	origOut, origErr := os.Stdout, os.Stderr

	outR, outW, errOut := os.Pipe()
	errR, errW, errErr := os.Pipe()
	if errOut != nil || errErr != nil {
		logger.WithTask(taskID).Warn().
			AnErr("stdout_pipe_err", errOut).
			AnErr("stderr_pipe_err", errErr).
			Msg("failed to open stdio capture pipes; handler output will not be recorded")
		if errOut == nil {
			outR.Close()
			outW.Close()
		}
		if errErr == nil {
			errR.Close()
			errW.Close()
		}
		return func() {}
	}

	os.Stdout, os.Stderr = outW, errW

	done := make(chan struct{})
	go func() {
		defer close(done)
		drainPipe(outR, buf.writeOut)
	}()
	go drainPipe(errR, buf.writeErr)

	return func() {
		os.Stdout, os.Stderr = origOut, origErr
		outW.Close()
		errW.Close()
		<-done
	}
}

func drainPipe(r *os.File, sink func([]byte)) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			sink(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

// errnoForError derives a stable, non-zero errno from an error's
// concrete type, so the same exception class always maps to the same
// errno across runs (spec.md §4.7), without requiring the error to
// implement any special interface.
func errnoForError(err error) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%T", err)))
	return int(h.Sum32()%1_000_000) + 1
}

func materializeSlice(ctx context.Context, st *store.Store, items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, v := range items {
		m, err := materializeValue(ctx, st, v)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func materializeMap(ctx context.Context, st *store.Store, items map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for k, v := range items {
		m, err := materializeValue(ctx, st, v)
		if err != nil {
			return nil, err
		}
		out[k] = m
	}
	return out, nil
}

// materializeValue replaces a future placeholder tag (the single-key
// {"__dep__": id} map that codec.FutureRef encodes to) with the
// dependency's materialized result, recursing into nested slices/maps.
func materializeValue(ctx context.Context, st *store.Store, v any) (any, error) {
	switch vv := v.(type) {
	case map[string]any:
		if len(vv) == 1 {
			if id, ok := vv["__dep__"].(string); ok {
				return loadDepResult(ctx, st, id)
			}
		}
		return materializeMap(ctx, st, vv)
	case []any:
		return materializeSlice(ctx, st, vv)
	default:
		return v, nil
	}
}

func loadDepResult(ctx context.Context, st *store.Store, depID string) (any, error) {
	dep, err := st.Get(ctx, depID)
	if err != nil {
		return nil, fmt.Errorf("worker: load dependency %s: %w", depID, err)
	}
	if dep.State != task.StateSucceeded {
		return nil, fmt.Errorf("worker: dependency %s is %s, not SUCCEEDED", depID, dep.State)
	}
	if dep.ResultBlob == nil {
		return nil, nil
	}
	var out any
	if err := codec.Decode(dep.ResultBlob, &out); err != nil {
		return nil, fmt.Errorf("worker: decode dependency %s result: %w", depID, err)
	}
	return out, nil
}
