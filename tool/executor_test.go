package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/types"
)

// resultSink collects tool results in arrival order.
type resultSink struct {
	mu      sync.Mutex
	results []*types.ToolResult
	got     chan struct{}
	ref     *actor.Ref
}

func newResultSink(t *testing.T) *resultSink {
	t.Helper()
	s := &resultSink{got: make(chan struct{}, 64)}
	s.ref = actor.Spawn("sink", actor.ReceiverFunc(func(_ context.Context, msg any) {
		if res, ok := msg.(*types.ToolResult); ok {
			s.mu.Lock()
			s.results = append(s.results, res)
			s.mu.Unlock()
			s.got <- struct{}{}
		}
	}))
	t.Cleanup(s.ref.Stop)
	return s
}

func (s *resultSink) wait(t *testing.T, n int, timeout time.Duration) []*types.ToolResult {
	t.Helper()
	deadline := time.After(timeout)
	for i := 0; i < n; i++ {
		select {
		case <-s.got:
		case <-deadline:
			t.Fatalf("got %d of %d tool results within %v", i, n, timeout)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.ToolResult(nil), s.results...)
}

func sleepTool(name string, d time.Duration) Tool {
	return Func{
		Def: types.ToolDefinition{Name: name},
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case <-time.After(d):
				return json.RawMessage(`"` + name + `"`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func TestExecutor_ResultsArriveInRequestedOrder(t *testing.T) {
	reg := NewRegistry(nil)
	// The slow tool comes first, so completion order is the reverse of
	// request order.
	require.NoError(t, reg.Register(sleepTool("slow", 100*time.Millisecond)))
	require.NoError(t, reg.Register(sleepTool("fast", time.Millisecond)))

	sink := newResultSink(t)
	ex := SpawnExecutor(DefaultExecutorConfig(types.NewAgentID()), reg, sink.ref)
	t.Cleanup(ex.Stop)

	corr := types.NewCorrelationID()
	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: corr,
		Calls: []types.ToolCall{
			{ID: "call_1", Name: "slow"},
			{ID: "call_2", Name: "fast"},
		},
	}))

	results := sink.wait(t, 2, 2*time.Second)
	require.Len(t, results, 2)
	assert.Equal(t, "call_1", results[0].ToolCallID)
	assert.Equal(t, "call_2", results[1].ToolCallID)
	assert.Equal(t, corr, results[0].CorrelationID)
}

func TestExecutor_UnknownToolBecomesErrorResult(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(echoTool("echo")))

	sink := newResultSink(t)
	ex := SpawnExecutor(DefaultExecutorConfig(types.NewAgentID()), reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls: []types.ToolCall{
			{ID: "call_1", Name: "missing"},
			{ID: "call_2", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)},
		},
	}))

	results := sink.wait(t, 2, 2*time.Second)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, types.ErrToolNotFound, results[0].Err.Code)
	assert.Nil(t, results[1].Err)
	assert.JSONEq(t, `{"x":1}`, string(results[1].Result))
}

func TestExecutor_ValidationFailureBecomesErrorResult(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(CalculateTool{}))

	sink := newResultSink(t)
	ex := SpawnExecutor(DefaultExecutorConfig(types.NewAgentID()), reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "calculate", Arguments: json.RawMessage(`{}`)}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, types.ErrToolValidation, results[0].Err.Code)
}

func TestExecutor_TimeoutProducesToolTimeout(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(sleepTool("glacial", time.Minute)))

	cfg := DefaultExecutorConfig(types.NewAgentID())
	cfg.Timeout = 50 * time.Millisecond
	sink := newResultSink(t)
	ex := SpawnExecutor(cfg, reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "glacial"}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, types.ErrToolTimeout, results[0].Err.Code)
	assert.True(t, results[0].Err.Retryable)
}

// flakyTool stalls until the deadline on its first invocation and answers
// promptly afterwards.
func flakyTool(name string, calls *atomic.Int32) Tool {
	return Func{
		Def: types.ToolDefinition{Name: name},
		Fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return json.RawMessage(`"ok"`), nil
		},
	}
}

func TestExecutor_RetriesTimedOutTool(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(flakyTool("flaky", &calls)))

	cfg := DefaultExecutorConfig(types.NewAgentID())
	cfg.Timeout = 50 * time.Millisecond
	sink := newResultSink(t)
	ex := SpawnExecutor(cfg, reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "flaky"}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.Nil(t, results[0].Err)
	assert.JSONEq(t, `"ok"`, string(results[0].Result))
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutor_NegativeMaxRetriesDisablesRetry(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(flakyTool("flaky", &calls)))

	cfg := DefaultExecutorConfig(types.NewAgentID())
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = -1
	sink := newResultSink(t)
	ex := SpawnExecutor(cfg, reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "flaky"}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, types.ErrToolTimeout, results[0].Err.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutor_PanickingToolBecomesErrorResult(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(Func{
		Def: types.ToolDefinition{Name: "bomb"},
		Fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			panic("tool meltdown")
		},
	}))

	sink := newResultSink(t)
	ex := SpawnExecutor(DefaultExecutorConfig(types.NewAgentID()), reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "bomb"}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, types.ErrToolExecution, results[0].Err.Code)
	assert.Contains(t, results[0].Err.Message, "panicked")
}

// isolatedEcho requires a sandbox.
type isolatedEcho struct{}

func (isolatedEcho) Definition() types.ToolDefinition {
	return types.ToolDefinition{Name: "isolated_echo"}
}

func (isolatedEcho) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func (isolatedEcho) RequiresSandbox() bool { return true }

// fakeSandbox records calls and can be told to fail.
type fakeSandbox struct {
	mu     sync.Mutex
	runs   int
	closed bool
	fail   bool
}

func (s *fakeSandbox) Run(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	if s.fail {
		return nil, errors.New("sandbox blew up")
	}
	return args, nil
}

func (s *fakeSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeSandbox
	fail    bool
}

func (f *fakeFactory) Create(context.Context) (Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no capacity")
	}
	sb := &fakeSandbox{}
	f.created = append(f.created, sb)
	return sb, nil
}

func TestExecutor_IsolatedToolWithoutPoolFails(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(isolatedEcho{}))

	sink := newResultSink(t)
	ex := SpawnExecutor(DefaultExecutorConfig(types.NewAgentID()), reg, sink.ref)
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "isolated_echo"}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, types.ErrSandboxRequired, results[0].Err.Code)
}

func TestExecutor_IsolatedToolRunsThroughPool(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(isolatedEcho{}))

	factory := &fakeFactory{}
	pool := NewSandboxPool(factory, DefaultSandboxConfig(), nil)
	t.Cleanup(pool.Close)

	sink := newResultSink(t)
	ex := SpawnExecutor(DefaultExecutorConfig(types.NewAgentID()), reg, sink.ref, WithSandboxPool(pool))
	t.Cleanup(ex.Stop)

	require.NoError(t, ex.Execute(&types.ToolExecute{
		CorrelationID: types.NewCorrelationID(),
		Calls:         []types.ToolCall{{ID: "call_1", Name: "isolated_echo", Arguments: json.RawMessage(`{"v":1}`)}},
	}))

	results := sink.wait(t, 1, 2*time.Second)
	require.Nil(t, results[0].Err)
	assert.JSONEq(t, `{"v":1}`, string(results[0].Result))

	factory.mu.Lock()
	defer factory.mu.Unlock()
	require.Len(t, factory.created, 1)
	assert.Equal(t, 1, factory.created[0].runs)
}

func TestSandboxPool_ReusesContextsAndDestroysFailedOnes(t *testing.T) {
	factory := &fakeFactory{}
	pool := NewSandboxPool(factory, SandboxConfig{MaxSandboxes: 1}, nil)
	t.Cleanup(pool.Close)

	ctx := context.Background()

	_, err := pool.Run(ctx, "t", nil)
	require.NoError(t, err)
	_, err = pool.Run(ctx, "t", nil)
	require.NoError(t, err)

	factory.mu.Lock()
	require.Len(t, factory.created, 1)
	assert.Equal(t, 2, factory.created[0].runs)
	factory.created[0].fail = true
	factory.mu.Unlock()

	_, err = pool.Run(ctx, "t", nil)
	require.Error(t, err)

	factory.mu.Lock()
	assert.True(t, factory.created[0].closed)
	factory.mu.Unlock()

	// The next run provisions a fresh context.
	_, err = pool.Run(ctx, "t", nil)
	require.NoError(t, err)
	factory.mu.Lock()
	assert.Len(t, factory.created, 2)
	factory.mu.Unlock()
}
