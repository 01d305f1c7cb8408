package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Govcraft/acton-ai/types"
)

func TestStreamAccumulator_CollectsTokensAndToolCalls(t *testing.T) {
	acc := NewStreamAccumulator()
	corr := types.NewCorrelationID()

	acc.Start(corr)
	acc.AppendToken(corr, "Hello, ")
	acc.AppendToken(corr, "world")
	acc.AddToolCall(corr, types.ToolCall{
		ID:        "call_1",
		Name:      "calculate",
		Arguments: json.RawMessage(`{"expression":"1+1"}`),
	})

	s := acc.End(corr, types.StopToolUse, nil)
	require.NotNil(t, s)
	assert.Equal(t, "Hello, world", s.Content())
	assert.True(t, s.HasToolCalls())
	assert.Equal(t, types.StopToolUse, s.StopReason)
	assert.True(t, s.Ended())
	assert.Zero(t, acc.Len())
}

func TestStreamAccumulator_IgnoresUnknownCorrelationID(t *testing.T) {
	acc := NewStreamAccumulator()
	other := types.NewCorrelationID()

	acc.AppendToken(other, "dropped")
	acc.AddToolCall(other, types.ToolCall{ID: "x", Name: "y"})
	assert.Nil(t, acc.End(other, types.StopEndTurn, nil))
	assert.Zero(t, acc.Len())
}

func TestStreamAccumulator_TracksStreamsIndependently(t *testing.T) {
	acc := NewStreamAccumulator()
	a := types.NewCorrelationID()
	b := types.NewCorrelationID()

	acc.Start(a)
	acc.Start(b)
	acc.AppendToken(a, "alpha")
	acc.AppendToken(b, "beta")

	require.Equal(t, 2, acc.Len())
	assert.Equal(t, "alpha", acc.Get(a).Content())
	assert.Equal(t, "beta", acc.Get(b).Content())
}

func TestRetryPolicy_DelayGrowsAndStaysBounded(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = false

	d1 := p.delay(1)
	d2 := p.delay(2)
	d3 := p.delay(3)

	assert.Equal(t, p.InitialDelay, d1)
	assert.Equal(t, 2*d1, d2)
	assert.Equal(t, 2*d2, d3)

	for attempt := 1; attempt <= 20; attempt++ {
		assert.LessOrEqual(t, p.delay(attempt), p.MaxDelay)
	}
}

func TestRetryPolicy_JitterStaysWithinBounds(t *testing.T) {
	p := DefaultRetryPolicy()

	for i := 0; i < 100; i++ {
		d := p.delay(3)
		assert.GreaterOrEqual(t, d, p.InitialDelay)
		assert.LessOrEqual(t, d, p.MaxDelay+p.MaxDelay/4)
	}
}

func TestTokenEstimator_CountsMessages(t *testing.T) {
	e := newTokenEstimator("gpt-4")

	n := e.countMessages([]types.Message{
		types.NewSystemMessage("You are a helpful assistant."),
		types.NewUserMessage("What is the capital of France?"),
	})
	// Two messages with overhead can never be fewer than the fixed costs.
	assert.Greater(t, n, 11)
}

func TestProviderConfig_Validate(t *testing.T) {
	cfg := DefaultProviderConfig("gpt-4")
	require.NoError(t, cfg.Validate())

	cfg.Model = ""
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(cfg.Validate()))

	cfg = DefaultProviderConfig("gpt-4")
	cfg.RateLimit.MaxQueueSize = 0
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(cfg.Validate()))

	cfg = DefaultProviderConfig("gpt-4")
	cfg.RateLimit.QueueWhenLimited = false
	cfg.RateLimit.MaxQueueSize = 0
	assert.NoError(t, cfg.Validate())
}
