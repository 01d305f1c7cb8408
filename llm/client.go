// Package llm provides the provider actor that serializes LLM requests
// through rate limiting and retry, executes the network call off the
// mailbox, and publishes ordered streaming events to the broker.
package llm

import (
	"context"

	"github.com/Govcraft/acton-ai/types"
)

// StreamEventKind discriminates events produced by a Client stream.
type StreamEventKind int

const (
	// EventToken carries an incremental text chunk.
	EventToken StreamEventKind = iota
	// EventToolCall carries a tool invocation requested by the model.
	EventToolCall
	// EventEnd terminates the stream with a stop reason.
	EventEnd
	// EventError terminates the stream with an error.
	EventError
)

// StreamEvent is one element of a client's event sequence.
type StreamEvent struct {
	Kind       StreamEventKind
	Token      string
	ToolCall   *types.ToolCall
	StopReason types.StopReason
	Err        *types.Error
}

// Client is the external vendor boundary. The core depends only on this
// shape, not on any vendor protocol. Implementations must honor ctx
// cancellation and close the returned channel after the terminal event.
//
// Errors returned directly or via EventError should be *types.Error values
// tagged retriable or not; the provider retries retriable failures with
// exponential backoff.
type Client interface {
	// Name identifies the backend (for logging and events).
	Name() string

	// SendStreamingRequest starts one completion call and returns its
	// event sequence. The sequence ends with exactly one EventEnd or
	// EventError.
	SendStreamingRequest(ctx context.Context, messages []types.Message, tools []types.ToolDefinition) (<-chan StreamEvent, error)
}
