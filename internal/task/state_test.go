package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateWaiting, "WAITING"},
		{StatePending, "PENDING"},
		{StateRunning, "RUNNING"},
		{StateSucceeded, "SUCCEEDED"},
		{StateFailed, "FAILED"},
		{StateKilled, "KILLED"},
		{StateUnknown, "UNKNOWN"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input    string
		expected State
	}{
		{"WAITING", StateWaiting},
		{"PENDING", StatePending},
		{"RUNNING", StateRunning},
		{"SUCCEEDED", StateSucceeded},
		{"FAILED", StateFailed},
		{"KILLED", StateKilled},
		{"UNKNOWN", StateUnknown},
		{"garbage", StateWaiting},
		{"", StateWaiting},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseState(tt.input))
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateWaiting, false},
		{StatePending, false},
		{StateRunning, false},
		{StateSucceeded, true},
		{StateFailed, true},
		{StateKilled, true},
		{StateUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.IsTerminal())
		})
	}
}

func TestState_IsFailure(t *testing.T) {
	assert.False(t, StateSucceeded.IsFailure())
	assert.True(t, StateFailed.IsFailure())
	assert.True(t, StateKilled.IsFailure())
	assert.False(t, StateUnknown.IsFailure())
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		to     State
		expect bool
	}{
		{"waiting to pending", StateWaiting, StatePending, true},
		{"waiting to running direct", StateWaiting, StateRunning, false},
		{"pending to running", StatePending, StateRunning, true},
		{"running to succeeded", StateRunning, StateSucceeded, true},
		{"running to failed", StateRunning, StateFailed, true},
		{"running to unknown", StateRunning, StateUnknown, true},
		{"succeeded to pending (retry)", StateSucceeded, StatePending, true},
		{"failed to pending (retry)", StateFailed, StatePending, true},
		{"killed to pending (retry)", StateKilled, StatePending, true},
		{"unknown to pending (retry)", StateUnknown, StatePending, true},
		{"succeeded to running", StateSucceeded, StateRunning, false},
		{"any to killed", StateRunning, StateKilled, true},
		{"killed to running", StateKilled, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestReservedErrno(t *testing.T) {
	assert.Less(t, ErrnoDependencyFailed, 0)
	assert.Less(t, ErrnoLost, 0)
	assert.NotEqual(t, ErrnoDependencyFailed, ErrnoLost)
}
