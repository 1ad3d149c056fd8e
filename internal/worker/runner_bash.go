package worker

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/desipipe/desipipe/internal/codec"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/task"
)

// sinkWriter adapts outputBuffer's append methods to io.Writer so a
// subprocess's pipes can write straight into the rolling buffer.
type sinkWriter struct {
	write func([]byte)
}

func (s sinkWriter) Write(p []byte) (int, error) {
	s.write(p)
	return len(p), nil
}

// runBash executes a bash_app task: its args_blob is the argv token
// list, the process's exit code becomes errno, and stdout is captured as
// `out` (spec.md §4.3, §4.7 "bash apps").
func runBash(ctx context.Context, st *store.Store, t *task.Task, buf *outputBuffer) (result []byte, errno int, errText string, runErr error) {
	var rawArgv []any
	if err := codec.Decode(t.ArgsBlob, &rawArgv); err != nil {
		return nil, 0, "", fmt.Errorf("worker: decode bash argv: %w", err)
	}

	resolved, err := materializeSlice(ctx, st, rawArgv)
	if err != nil {
		return nil, 0, "", err
	}

	argv := make([]string, len(resolved))
	for i, v := range resolved {
		argv[i] = fmt.Sprint(v)
	}
	if len(argv) == 0 {
		return nil, 0, "", fmt.Errorf("worker: bash task %s has an empty argv", t.ID)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = sinkWriter{buf.writeOut}
	cmd.Stderr = sinkWriter{buf.writeErr}

	runErr = cmd.Run()
	if runErr == nil {
		return nil, 0, "", nil
	}

	exitErr, ok := runErr.(*exec.ExitError)
	if !ok {
		// The command never ran at all (e.g. not found) — that's a
		// worker-side failure, not a task exit code.
		return nil, 0, "", fmt.Errorf("worker: run bash task %s: %w", t.ID, runErr)
	}

	return nil, exitErr.ExitCode(), exitErr.Error(), nil
}
