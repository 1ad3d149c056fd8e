// Package task defines the Task row — the unit persisted by the queue
// store — and its state machine.
package task

import "time"

// Task.Kind tags which of the two app flavors produced a row (spec.md
// §4.3 "python_app" / "bash_app", represented per §9's REDESIGN FLAGS
// as a tagged variant rather than subclass polymorphism).
const (
	KindFunc = "func" // in-process handler, dispatched by app_name
	KindBash = "bash" // argv tokens, executed as a subprocess
)

// Task is a row in the queue store (spec.md §3 "Task").
type Task struct {
	ID         string `json:"id"`
	AppName    string `json:"app_name"`
	AppHash    string `json:"app_hash"`
	Kind       string `json:"kind"`
	ArgsBlob   []byte `json:"args_blob,omitempty"`
	KwargsBlob []byte `json:"kwargs_blob,omitempty"`
	Deps       []string `json:"deps"`

	State State `json:"state"`

	ResultBlob []byte `json:"result_blob,omitempty"`
	Errno      int    `json:"errno"`
	Out        string `json:"out,omitempty"`
	Err        string `json:"err,omitempty"`

	JobID     string `json:"jobid,omitempty"`
	TMConfig  []byte `json:"tm_config,omitempty"`

	TCreated   time.Time  `json:"t_created"`
	TStarted   *time.Time `json:"t_started,omitempty"`
	TFinished  *time.Time `json:"t_finished,omitempty"`
	THeartbeat *time.Time `json:"t_heartbeat,omitempty"`
}

// NewStateMachine wraps t with the transition helper below.
func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{task: t}
}

// StateMachine enforces spec.md's state lattice on a Task.
type StateMachine struct {
	task *Task
}

func (sm *StateMachine) transition(target State) error {
	if !sm.task.State.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	sm.task.State = target
	return nil
}

// Activate moves WAITING -> PENDING once every dependency has succeeded.
func (sm *StateMachine) Activate() error {
	return sm.transition(StatePending)
}

// Start moves PENDING -> RUNNING, stamping jobid and t_started.
func (sm *StateMachine) Start(jobID string, now time.Time) error {
	if err := sm.transition(StateRunning); err != nil {
		return err
	}
	sm.task.JobID = jobID
	sm.task.TStarted = &now
	sm.task.THeartbeat = &now
	return nil
}

// Succeed moves RUNNING -> SUCCEEDED, writing the result blob.
func (sm *StateMachine) Succeed(result []byte, now time.Time) error {
	if err := sm.transition(StateSucceeded); err != nil {
		return err
	}
	sm.task.ResultBlob = result
	sm.task.Errno = 0
	sm.task.Err = ""
	sm.task.TFinished = &now
	return nil
}

// Fail moves RUNNING -> FAILED, recording errno and the captured traceback.
func (sm *StateMachine) Fail(errno int, errText string, now time.Time) error {
	if err := sm.transition(StateFailed); err != nil {
		return err
	}
	sm.task.Errno = errno
	sm.task.Err = errText
	sm.task.TFinished = &now
	return nil
}

// CascadeFail marks a dependent FAILED with the reserved DEPENDENCY_FAILED
// errno (spec.md §3 invariant 2), regardless of its current non-terminal
// state.
func (sm *StateMachine) CascadeFail(now time.Time) error {
	sm.task.State = StateFailed
	sm.task.Errno = ErrnoDependencyFailed
	sm.task.Err = "dependency failed"
	sm.task.TFinished = &now
	return nil
}

// Kill moves any state to KILLED.
func (sm *StateMachine) Kill(now time.Time) error {
	if err := sm.transition(StateKilled); err != nil {
		return err
	}
	sm.task.TFinished = &now
	return nil
}

// Unknown moves RUNNING -> UNKNOWN (heartbeat sweep, spec.md §4.1 invariant 3).
func (sm *StateMachine) Unknown() error {
	return sm.transition(StateUnknown)
}

// Retry resets a terminal/unknown row back to PENDING, clearing result,
// error and ownership fields (spec.md §4.1 retry operation). A no-op on a
// RUNNING row per the resolved "concurrent retry" open question.
func (sm *StateMachine) Retry() (bool, error) {
	if sm.task.State == StateRunning {
		return false, nil
	}
	if err := sm.transition(StatePending); err != nil {
		return false, err
	}
	sm.task.ResultBlob = nil
	sm.task.Errno = 0
	sm.task.Out = ""
	sm.task.Err = ""
	sm.task.JobID = ""
	sm.task.TStarted = nil
	sm.task.TFinished = nil
	sm.task.THeartbeat = nil
	return true, nil
}
