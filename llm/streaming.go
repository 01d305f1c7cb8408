package llm

import (
	"strings"

	"github.com/Govcraft/acton-ai/types"
)

// ActiveStream accumulates one in-flight streaming response.
type ActiveStream struct {
	CorrelationID types.CorrelationID
	ToolCalls     []types.ToolCall
	StopReason    types.StopReason
	Err           *types.Error

	content strings.Builder
	started bool
	ended   bool
}

// NewActiveStream returns an empty stream for correlationID.
func NewActiveStream(correlationID types.CorrelationID) *ActiveStream {
	return &ActiveStream{CorrelationID: correlationID}
}

// MarkStarted records that the stream's start event arrived.
func (s *ActiveStream) MarkStarted() { s.started = true }

// Started reports whether the stream's start event arrived.
func (s *ActiveStream) Started() bool { return s.started }

// AppendToken adds an incremental text chunk.
func (s *ActiveStream) AppendToken(token string) {
	s.content.WriteString(token)
}

// AddToolCall records a tool invocation requested by the model.
func (s *ActiveStream) AddToolCall(call types.ToolCall) {
	s.ToolCalls = append(s.ToolCalls, call)
}

// MarkEnded records the terminal event. err is nil on success.
func (s *ActiveStream) MarkEnded(stopReason types.StopReason, err *types.Error) {
	s.ended = true
	s.StopReason = stopReason
	s.Err = err
}

// Ended reports whether the terminal event arrived.
func (s *ActiveStream) Ended() bool { return s.ended }

// HasToolCalls reports whether the model requested any tools.
func (s *ActiveStream) HasToolCalls() bool { return len(s.ToolCalls) > 0 }

// Content returns the accumulated text.
func (s *ActiveStream) Content() string { return s.content.String() }

// StreamAccumulator tracks multiple active streams by correlation ID.
// It is not safe for concurrent use; callers own it from a single
// goroutine, typically an actor's handler.
type StreamAccumulator struct {
	streams map[types.CorrelationID]*ActiveStream
}

// NewStreamAccumulator returns an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{streams: make(map[types.CorrelationID]*ActiveStream)}
}

// Start begins tracking a stream, replacing any previous stream with the
// same correlation ID.
func (a *StreamAccumulator) Start(correlationID types.CorrelationID) *ActiveStream {
	s := NewActiveStream(correlationID)
	s.MarkStarted()
	a.streams[correlationID] = s
	return s
}

// Get returns the stream for correlationID, or nil when unknown.
func (a *StreamAccumulator) Get(correlationID types.CorrelationID) *ActiveStream {
	return a.streams[correlationID]
}

// AppendToken adds a token to the named stream; unknown IDs are ignored.
func (a *StreamAccumulator) AppendToken(correlationID types.CorrelationID, token string) {
	if s := a.streams[correlationID]; s != nil {
		s.AppendToken(token)
	}
}

// AddToolCall records a tool call on the named stream; unknown IDs are
// ignored.
func (a *StreamAccumulator) AddToolCall(correlationID types.CorrelationID, call types.ToolCall) {
	if s := a.streams[correlationID]; s != nil {
		s.AddToolCall(call)
	}
}

// End marks the named stream ended and returns it, removing it from the
// accumulator. Returns nil when the ID is unknown.
func (a *StreamAccumulator) End(correlationID types.CorrelationID, stopReason types.StopReason, err *types.Error) *ActiveStream {
	s := a.streams[correlationID]
	if s == nil {
		return nil
	}
	s.MarkEnded(stopReason, err)
	delete(a.streams, correlationID)
	return s
}

// Remove discards the named stream without ending it.
func (a *StreamAccumulator) Remove(correlationID types.CorrelationID) {
	delete(a.streams, correlationID)
}

// Len returns the number of active streams.
func (a *StreamAccumulator) Len() int { return len(a.streams) }
