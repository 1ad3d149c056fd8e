package worker

import "sync"

// outputBuffer accumulates stdout/stderr for the task currently running
// and hands back only the unflushed tail each time it's asked, so the
// heartbeat ticker and the final finalize call never double-flush the
// same bytes against the store's append-only `out = out || ?` update
// (spec.md §5 "periodic flush").
type outputBuffer struct {
	mu            sync.Mutex
	out, errOut   []byte
	outSent       int
	errSent       int
}

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{}
}

func (b *outputBuffer) writeOut(p []byte) {
	b.mu.Lock()
	b.out = append(b.out, p...)
	b.mu.Unlock()
}

func (b *outputBuffer) writeErr(p []byte) {
	b.mu.Lock()
	b.errOut = append(b.errOut, p...)
	b.mu.Unlock()
}

// flush returns everything written since the last flush/drain.
func (b *outputBuffer) flush() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := string(b.out[b.outSent:])
	errOut := string(b.errOut[b.errSent:])
	b.outSent = len(b.out)
	b.errSent = len(b.errOut)
	return out, errOut
}

// drain is flush's final call at task completion; same semantics, named
// distinctly at the call site for clarity.
func (b *outputBuffer) drain() (string, string) {
	return b.flush()
}
