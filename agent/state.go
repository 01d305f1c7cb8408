// Package agent implements the reasoning-loop actor: a state machine that
// accepts prompts, streams model output through the broker, runs requested
// tools via its child executor, and resubmits until the model stops asking
// for tools. It also tracks tasks delegated to and from other agents.
package agent

// State is the agent's position in its reasoning loop.
type State string

const (
	// StateIdle means the agent is waiting for input.
	StateIdle State = "idle"
	// StateThinking means a model request is in flight.
	StateThinking State = "thinking"
	// StateExecuting means tool calls from the current round are running.
	StateExecuting State = "executing"
	// StateWaiting means the agent is blocked on external input.
	StateWaiting State = "waiting"
	// StateCompleted means the last prompt finished.
	StateCompleted State = "completed"
	// StateStopping is terminal.
	StateStopping State = "stopping"
)

func (s State) String() string { return string(s) }

// CanAcceptPrompt reports whether a new user prompt may start a loop.
func (s State) CanAcceptPrompt() bool {
	return s == StateIdle || s == StateCompleted
}

// IsActive reports whether the agent is processing.
func (s State) IsActive() bool {
	return s == StateThinking || s == StateExecuting || s == StateWaiting
}

// IsTerminal reports whether the agent is shutting down.
func (s State) IsTerminal() bool {
	return s == StateStopping
}
