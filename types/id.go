package types

import "github.com/google/uuid"

// ActorID uniquely identifies an actor instance within the runtime.
// IDs are constructed once, immutable, and compared by value.
type ActorID string

// NewActorID returns a fresh globally unique actor identifier.
func NewActorID() ActorID {
	return ActorID(uuid.NewString())
}

func (id ActorID) String() string { return string(id) }

// AgentID uniquely identifies an agent. Agents are actors, but agent
// identity is stable across restarts of the underlying actor.
type AgentID string

// NewAgentID returns a fresh globally unique agent identifier.
func NewAgentID() AgentID {
	return AgentID(uuid.NewString())
}

func (id AgentID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id AgentID) IsZero() bool { return id == "" }

// CorrelationID tags every event belonging to one logical request so
// subscribers can filter streams that are not theirs. The broker itself
// performs no filtering.
type CorrelationID string

// NewCorrelationID returns a fresh globally unique correlation identifier.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

func (id CorrelationID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id CorrelationID) IsZero() bool { return id == "" }

// TaskID identifies a delegated task handed from one agent to another.
type TaskID string

// NewTaskID returns a fresh globally unique task identifier.
func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

func (id TaskID) String() string { return string(id) }
