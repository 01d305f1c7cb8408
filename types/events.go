package types

import (
	"encoding/json"
	"time"
)

// Broker message kinds. Every message is an immutable value published by
// pointer; receivers must not mutate. All LLM stream events carry the
// CorrelationID of the request that produced them so subscribers can discard
// streams that are not theirs.

// Request asks a provider for a completion. Published by agents (or by the
// single-shot path) and consumed by the subscribed provider.
type Request struct {
	CorrelationID CorrelationID    `json:"correlation_id"`
	AgentID       AgentID          `json:"agent_id,omitempty"`
	Messages      []Message        `json:"messages"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
}

// StreamStart opens a provider stream. Exactly one per request.
type StreamStart struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	Provider      string        `json:"provider,omitempty"`
}

// StreamToken carries one incremental text chunk.
type StreamToken struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	Token         string        `json:"token"`
}

// StreamToolCall carries one tool invocation requested by the model.
type StreamToolCall struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	ToolCall      ToolCall      `json:"tool_call"`
}

// StreamEnd closes a provider stream. Exactly one per request, even on
// failure: a failed stream ends with a non-nil Err and callers must treat
// the stream as terminated.
type StreamEnd struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	StopReason    StopReason    `json:"stop_reason"`
	Err           *Error        `json:"error,omitempty"`
}

// UserPrompt submits a prompt to an agent, starting its reasoning loop.
// Reply, when non-nil, receives the terminal outcome; it must be buffered.
type UserPrompt struct {
	CorrelationID CorrelationID       `json:"correlation_id"`
	Content       string              `json:"content"`
	Reply         chan<- PromptResult `json:"-"`
}

// PromptResult is the terminal outcome of one reasoning loop.
type PromptResult struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	Content       string        `json:"content"`
	StopReason    StopReason    `json:"stop_reason"`
	Rounds        int           `json:"rounds"`
	Err           *Error        `json:"error,omitempty"`
}

// ToolExecute asks an agent's tool executor to run one round of tool calls.
// Calls preserve the order the model requested them in.
type ToolExecute struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	AgentID       AgentID       `json:"agent_id"`
	Calls         []ToolCall    `json:"calls"`
}

// ToolResult reports the outcome of one tool call. The executor sends
// results back in requested order, never completion order.
type ToolResult struct {
	CorrelationID CorrelationID   `json:"correlation_id"`
	ToolCallID    string          `json:"tool_call_id"`
	Name          string          `json:"name"`
	Result        json.RawMessage `json:"result,omitempty"`
	Err           *Error          `json:"error,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// Content renders the result as a tool message body. Failed calls are fed
// back to the model as error text so it can adapt.
func (tr *ToolResult) Content() string {
	if tr.Err != nil {
		return "Error: " + tr.Err.Message
	}
	return string(tr.Result)
}

// DelegateTask hands a task from one agent to another.
type DelegateTask struct {
	TaskID   TaskID          `json:"task_id"`
	From     AgentID         `json:"from"`
	To       AgentID         `json:"to"`
	TaskType string          `json:"task_type"`
	Input    json.RawMessage `json:"input,omitempty"`
	Deadline time.Duration   `json:"deadline,omitempty"`
}

// TaskAccepted notifies the delegating agent that the task was taken.
type TaskAccepted struct {
	TaskID  TaskID  `json:"task_id"`
	AgentID AgentID `json:"agent_id"`
}

// TaskCompleted notifies the delegating agent of a successful result.
type TaskCompleted struct {
	TaskID  TaskID          `json:"task_id"`
	AgentID AgentID         `json:"agent_id"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// TaskFailed notifies the delegating agent of a failure.
type TaskFailed struct {
	TaskID  TaskID  `json:"task_id"`
	AgentID AgentID `json:"agent_id"`
	Reason  string  `json:"reason"`
}

// AnnounceCapabilities registers the capability tags an agent offers.
// Consumed by the kernel's capability registry.
type AnnounceCapabilities struct {
	AgentID      AgentID  `json:"agent_id"`
	Capabilities []string `json:"capabilities"`
}

// SystemEventKind tags runtime-level notifications.
type SystemEventKind string

const (
	SystemAgentSpawned SystemEventKind = "agent_spawned"
	SystemAgentStopped SystemEventKind = "agent_stopped"
	SystemRateLimitHit SystemEventKind = "rate_limit_hit"
)

// SystemEvent is a runtime-level notification published by the kernel and
// providers for observers (metrics, logging, tests).
type SystemEvent struct {
	Kind       SystemEventKind `json:"kind"`
	AgentID    AgentID         `json:"agent_id,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RetryAfter time.Duration   `json:"retry_after,omitempty"`
}
