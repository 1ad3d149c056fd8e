// Package manager implements the TaskManager + App layer: it turns an
// App call into a persisted task row with resolved dependencies (spec.md
// §2 "TaskManager + App", §3 "App").
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desipipe/desipipe/internal/codec"
	"github.com/desipipe/desipipe/internal/events"
	"github.com/desipipe/desipipe/internal/future"
	"github.com/desipipe/desipipe/internal/identity"
	"github.com/desipipe/desipipe/internal/store"
	"github.com/desipipe/desipipe/internal/task"
)

// Handler is the in-process callable behind a "func" (python_app-
// equivalent) App (spec.md §4.3). A worker binary links handlers for the
// apps it can execute via RegisterHandler, exactly as the teacher links
// task.TaskHandler implementations into its worker pool (SPEC_FULL §4.7
// design note: since a Go closure cannot be shipped across a process
// boundary the way spec.md's reference implementation pickles a
// function, a desipipe worker binary is built with its handlers
// registered at startup — see cmd/desipipe-worker for the generic,
// handler-free (bash-only) build and internal/worker.Run for the
// reusable loop a custom worker binary embeds).
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

var registry = struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}{handlers: make(map[string]Handler)}

// RegisterHandler binds appName to h in the process-wide handler
// registry. Call this from an init() or main() in a worker binary before
// internal/worker.Run starts claiming tasks.
func RegisterHandler(appName string, h Handler) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.handlers[appName] = h
}

// LookupHandler returns the handler registered for appName, if any.
func LookupHandler(appName string) (Handler, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	h, ok := registry.handlers[appName]
	return h, ok
}

// ReusePolicy selects how a call's identity maps onto the queue's
// existing rows (spec.md §3 App).
type ReusePolicy int

const (
	// ReuseFresh hashes in the app's source reference: any change to it
	// produces a new id, so a changed implementation always re-executes.
	ReuseFresh ReusePolicy = iota
	// ReuseByName hashes only app name and arguments, ignoring source:
	// the call always matches the same row regardless of implementation
	// changes.
	ReuseByName
	// ReuseSkip makes the call a no-op; it never touches the store.
	ReuseSkip
)

func (p ReusePolicy) String() string {
	switch p {
	case ReuseFresh:
		return "fresh"
	case ReuseByName:
		return "name"
	case ReuseSkip:
		return "skip"
	default:
		return "fresh"
	}
}

// TaskManager owns a queue store and turns App calls into persisted task
// rows. tmConfig is the serialized scheduler/provider/environment spec
// stamped onto every task a manager creates (spec.md §3 Task.tm_config).
type TaskManager struct {
	Store     *store.Store
	Publisher events.Publisher
	tmConfig  []byte
}

// New builds a TaskManager bound to st, publishing lifecycle
// notifications on pub (pass events.NoopPublisher{} when no bus is
// configured) and stamping cfg onto every task it creates.
func New(st *store.Store, pub events.Publisher, cfg any) (*TaskManager, error) {
	blob, err := codec.Encode(cfg)
	if err != nil {
		return nil, fmt.Errorf("manager: encode tm_config: %w", err)
	}
	return &TaskManager{Store: st, Publisher: pub, tmConfig: blob}, nil
}

// Clone returns a TaskManager sharing the same store and publisher but
// stamping a different tm_config, letting a later pipeline stage change
// scheduler or provider settings without opening a second queue (spec.md
// §3 App "merges scheduler/provider config").
func (tm *TaskManager) Clone(cfg any) (*TaskManager, error) {
	return New(tm.Store, tm.Publisher, cfg)
}

// AppOption configures an App at registration time.
type AppOption func(*App)

// WithReusePolicy overrides the default ReuseFresh policy.
func WithReusePolicy(p ReusePolicy) AppOption {
	return func(a *App) { a.Policy = p }
}

// WithReuseState restricts a ReuseByName match to rows currently in state
// s, forcing a fresh run of anything matched outside of it (spec.md §3
// App "name" policy, "optionally restricted to ... a given prior state").
func WithReuseState(s task.State) AppOption {
	return func(a *App) { a.ReuseState = &s }
}

// WithBash marks the app as a bash_app (spec.md §4.3): its Call arguments
// are the command-line tokens a worker execs as a subprocess, and its
// "result" is the process exit status rather than a deserialized value.
func WithBash() AppOption {
	return func(a *App) { a.Kind = task.KindBash }
}

// NewApp registers an App against tm (SPEC_FULL §4.3: explicit
// registration in place of closure introspection). freeVars stands in
// for captured variables a decorator would otherwise read off a closure;
// they are folded into the identity hash alongside sourceRef so a
// ReuseFresh app re-executes when either changes.
func (tm *TaskManager) NewApp(name, version, sourceRef string, freeVars map[string]any, opts ...AppOption) (*App, error) {
	freeVarsBlob, err := codec.Encode(freeVars)
	if err != nil {
		return nil, fmt.Errorf("manager: encode free vars for app %q: %w", name, err)
	}
	appHash, err := identity.Hash(name, version+"@"+sourceRef, freeVarsBlob, nil)
	if err != nil {
		return nil, fmt.Errorf("manager: hash app %q: %w", name, err)
	}

	app := &App{
		tm:        tm,
		Name:      name,
		Version:   version,
		SourceRef: sourceRef,
		Policy:    ReuseFresh,
		Kind:      task.KindFunc,
		appHash:   appHash,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// App is a declared computational unit, the in-memory record spec.md §3
// calls "App". It is ephemeral: it lives only in the declaring process,
// while the tasks it produces outlive it inside the queue.
type App struct {
	tm *TaskManager

	Name      string
	Version   string
	SourceRef string
	Policy    ReusePolicy
	Kind      string // task.KindFunc or task.KindBash

	// ReuseState restricts ReuseByName matching; nil means any state.
	ReuseState *task.State

	appHash string
}

// Call submits one invocation of the app with args/kwargs and returns a
// Future over the resulting task row. Any *future.Future found among the
// arguments is replaced with a codec.FutureRef placeholder and its task
// id recorded as a dependency edge (spec.md §3 Task.deps).
func (a *App) Call(ctx context.Context, args []any, kwargs map[string]any) (*future.Future, error) {
	if a.Policy == ReuseSkip {
		return future.Skipped(), nil
	}

	resolvedArgs, argDeps, err := resolveArgs(args)
	if err != nil {
		return nil, fmt.Errorf("manager: resolve args for app %q: %w", a.Name, err)
	}
	resolvedKwargs, kwargDeps, err := resolveKwargs(kwargs)
	if err != nil {
		return nil, fmt.Errorf("manager: resolve kwargs for app %q: %w", a.Name, err)
	}

	argsBlob, err := codec.Encode(resolvedArgs)
	if err != nil {
		return nil, fmt.Errorf("manager: encode args for app %q: %w", a.Name, err)
	}
	kwargsBlob, err := codec.Encode(resolvedKwargs)
	if err != nil {
		return nil, fmt.Errorf("manager: encode kwargs for app %q: %w", a.Name, err)
	}

	id, err := a.identity(argsBlob, kwargsBlob)
	if err != nil {
		return nil, fmt.Errorf("manager: compute identity for app %q: %w", a.Name, err)
	}

	t := &task.Task{
		ID:         id,
		AppName:    a.Name,
		AppHash:    a.appHash,
		Kind:       a.Kind,
		ArgsBlob:   argsBlob,
		KwargsBlob: kwargsBlob,
		Deps:       dedupDeps(argDeps, kwargDeps),
		TMConfig:   a.tm.tmConfig,
		TCreated:   time.Now().UTC(),
	}

	inserted, err := a.tm.Store.Insert(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("manager: insert task for app %q: %w", a.Name, err)
	}

	if !inserted && a.Policy == ReuseByName && a.ReuseState != nil {
		existing, err := a.tm.Store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("manager: fetch existing row %s: %w", id, err)
		}
		if existing.State != *a.ReuseState {
			if _, err := a.tm.Store.RetryOne(ctx, id); err != nil {
				return nil, fmt.Errorf("manager: force re-run of %s: %w", id, err)
			}
		}
	}

	return future.New(a.tm.Store, a.tm.Publisher, id), nil
}

// identity computes the task id for this call. ReuseByName drops the
// app hash from the input so source changes never perturb the id,
// matching spec.md §3's "identity ignores source; matches by app_name +
// args".
func (a *App) identity(argsBlob, kwargsBlob []byte) (string, error) {
	appHash := a.appHash
	if a.Policy == ReuseByName {
		appHash = ""
	}
	return identity.Hash(a.Name, appHash, argsBlob, kwargsBlob)
}

func resolveArgs(items []any) ([]any, []string, error) {
	resolved := make([]any, len(items))
	var deps []string
	for i, v := range items {
		rv, dep, err := resolveValue(v)
		if err != nil {
			return nil, nil, err
		}
		resolved[i] = rv
		if dep != "" {
			deps = append(deps, dep)
		}
	}
	return resolved, deps, nil
}

func resolveKwargs(items map[string]any) (map[string]any, []string, error) {
	resolved := make(map[string]any, len(items))
	var deps []string
	for k, v := range items {
		rv, dep, err := resolveValue(v)
		if err != nil {
			return nil, nil, err
		}
		resolved[k] = rv
		if dep != "" {
			deps = append(deps, dep)
		}
	}
	return resolved, deps, nil
}

// resolveValue substitutes a *future.Future argument with its
// placeholder tag, returning the dependency id it introduces (spec.md
// §3 "args_blob / kwargs_blob ... arguments that are themselves futures
// are stored as {dep_ref: dep_id}").
func resolveValue(v any) (any, string, error) {
	f, ok := v.(*future.Future)
	if !ok {
		return v, "", nil
	}
	return codec.FutureRef{TaskID: f.ID}, f.ID, nil
}

// dedupDeps merges and sorts dependency ids gathered from args and
// kwargs, so a future referenced twice only produces one edge.
func dedupDeps(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, l := range lists {
		for _, id := range l {
			seen[id] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
