package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/internal/metrics"
	"github.com/Govcraft/acton-ai/types"
)

// ExecutorConfig configures one agent's tool executor.
type ExecutorConfig struct {
	// AgentID identifies the owning agent in logs and results.
	AgentID types.AgentID
	// Timeout bounds each tool call's wall-clock time.
	Timeout time.Duration
	// MaxConcurrency caps tool calls running at once within a round.
	MaxConcurrency int
	// MaxRetries bounds additional attempts for retriable tool failures
	// (timeouts and sandbox errors). Negative disables retries.
	MaxRetries int
}

// DefaultExecutorConfig returns the standard per-call limits.
func DefaultExecutorConfig(agentID types.AgentID) ExecutorConfig {
	return ExecutorConfig{
		AgentID:        agentID,
		Timeout:        30 * time.Second,
		MaxConcurrency: 4,
		MaxRetries:     1,
	}
}

// Executor wraps one agent's tool executor actor. It receives
// *types.ToolExecute batches, runs the calls concurrently, and sends one
// *types.ToolResult per call back to the target in the order the calls
// were requested. Batches are processed one at a time, so an agent's
// rounds never interleave.
type Executor struct {
	ref *actor.Ref
}

// ExecutorOption configures an executor.
type ExecutorOption func(*executorState)

// WithExecutorLogger sets the executor logger. Defaults to zap.NewNop().
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(s *executorState) { s.logger = logger }
}

// WithSandboxPool routes isolated tools through pool. Without a pool,
// isolated tools fail rather than run in process.
func WithSandboxPool(pool *SandboxPool) ExecutorOption {
	return func(s *executorState) { s.pool = pool }
}

// WithExecutorCollector attaches Prometheus instruments.
func WithExecutorCollector(c *metrics.Collector) ExecutorOption {
	return func(s *executorState) { s.collector = c }
}

// WithPanicNotify installs a panic handler on the executor actor, letting
// the owning agent observe and replace a crashed executor.
func WithPanicNotify(h actor.PanicHandler) ExecutorOption {
	return func(s *executorState) { s.onPanic = h }
}

// SpawnExecutor starts a tool executor actor for cfg.AgentID that reports
// results to target.
func SpawnExecutor(cfg ExecutorConfig, registry *Registry, target *actor.Ref, opts ...ExecutorOption) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	s := &executorState{
		cfg:      cfg,
		registry: registry,
		target:   target,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(
		zap.String("component", "tool_executor"),
		zap.String("agent_id", cfg.AgentID.String()),
	)

	actorOpts := []actor.Option{actor.WithLogger(s.logger)}
	if s.onPanic != nil {
		actorOpts = append(actorOpts, actor.WithPanicHandler(s.onPanic))
	}
	ref := actor.Spawn("executor/"+cfg.AgentID.String(), s, actorOpts...)
	return &Executor{ref: ref}
}

// Ref returns the underlying actor reference.
func (e *Executor) Ref() *actor.Ref { return e.ref }

// Execute submits one round's tool calls.
func (e *Executor) Execute(batch *types.ToolExecute) error {
	return e.ref.Send(batch)
}

// Stop shuts the executor down.
func (e *Executor) Stop() { e.ref.Stop() }

// Done is closed when the executor actor has exited.
func (e *Executor) Done() <-chan struct{} { return e.ref.Done() }

type executorState struct {
	cfg       ExecutorConfig
	registry  *Registry
	target    *actor.Ref
	pool      *SandboxPool
	logger    *zap.Logger
	collector *metrics.Collector
	onPanic   actor.PanicHandler
}

func (s *executorState) Receive(ctx context.Context, msg any) {
	batch, ok := msg.(*types.ToolExecute)
	if !ok {
		s.logger.Warn("unexpected message", zap.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	s.execute(ctx, batch)
}

// execute runs the batch concurrently, indexes results by request
// position, then reports them in that order. Tool failures become error
// results; they never abort the rest of the batch.
func (s *executorState) execute(ctx context.Context, batch *types.ToolExecute) {
	results := make([]*types.ToolResult, len(batch.Calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, call := range batch.Calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = s.executeOne(gctx, batch.CorrelationID, call)
			return nil
		})
	}
	// Workers only record results.
	_ = g.Wait()

	for _, res := range results {
		if err := s.target.Send(res); err != nil {
			s.logger.Warn("dropping tool result, target gone",
				zap.String("correlation_id", batch.CorrelationID.String()),
				zap.String("tool", res.Name))
			return
		}
	}
}

func (s *executorState) executeOne(ctx context.Context, corr types.CorrelationID, call types.ToolCall) *types.ToolResult {
	start := time.Now()
	res := &types.ToolResult{
		CorrelationID: corr,
		ToolCallID:    call.ID,
		Name:          call.Name,
	}
	finish := func(outcome string) *types.ToolResult {
		res.Duration = time.Since(start)
		s.collector.ToolExecution(call.Name, outcome, res.Duration)
		return res
	}

	t, err := s.registry.Get(call.Name)
	if err != nil {
		s.logger.Error("tool not found", zap.String("name", call.Name))
		res.Err = err.(*types.Error)
		return finish("not_found")
	}

	if err := s.registry.validateArgs(call.Name, call.Arguments); err != nil {
		s.logger.Error("invalid tool arguments", zap.String("name", call.Name), zap.Error(err))
		res.Err = err.(*types.Error)
		return finish("invalid_args")
	}

	value, err := s.run(ctx, t, call)
	for attempt := 1; attempt <= s.cfg.MaxRetries && types.IsRetryable(err); attempt++ {
		s.logger.Warn("retrying tool after retriable failure",
			zap.String("name", call.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		value, err = s.run(ctx, t, call)
	}
	if err != nil {
		s.logger.Error("tool execution failed",
			zap.String("name", call.Name),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		res.Err = asToolError(call.Name, err)
		return finish("error")
	}

	res.Result = value
	s.logger.Info("tool executed",
		zap.String("name", call.Name),
		zap.Duration("duration", time.Since(start)))
	return finish("success")
}

// run dispatches one call with the wall-clock timeout, routing isolated
// tools through the sandbox pool.
func (s *executorState) run(ctx context.Context, t Tool, call types.ToolCall) (json.RawMessage, error) {
	iso, needsSandbox := t.(Isolated)
	if needsSandbox && iso.RequiresSandbox() && s.pool == nil {
		return nil, types.NewErrorf(types.ErrSandboxRequired,
			"tool %q requires a sandbox but none is configured", call.Name)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	type outcome struct {
		value json.RawMessage
		err   error
	}
	// Buffered so the worker can exit even after a timeout.
	done := make(chan outcome, 1)

	go func() {
		var value json.RawMessage
		var err error
		defer func() {
			if recovered := recover(); recovered != nil {
				err = types.NewErrorf(types.ErrToolExecution, "tool %q panicked: %v", call.Name, recovered)
				select {
				case done <- outcome{nil, err}:
				case <-execCtx.Done():
				}
			}
		}()
		if needsSandbox && iso.RequiresSandbox() {
			value, err = s.pool.Run(execCtx, call.Name, call.Arguments)
		} else {
			value, err = t.Execute(execCtx, call.Arguments)
		}
		select {
		case done <- outcome{value, err}:
		case <-execCtx.Done():
		}
	}()

	timeoutErr := func() *types.Error {
		return types.NewErrorf(types.ErrToolTimeout,
			"tool %q timed out after %s", call.Name, s.cfg.Timeout).
			WithRetryable(true)
	}

	select {
	case out := <-done:
		// A tool that surfaces the deadline itself reports the same way
		// as one the executor had to abandon.
		if errors.Is(out.err, context.DeadlineExceeded) {
			return nil, timeoutErr()
		}
		return out.value, out.err
	case <-execCtx.Done():
		return nil, timeoutErr()
	}
}

func asToolError(name string, err error) *types.Error {
	if te, ok := err.(*types.Error); ok {
		return te
	}
	return types.NewErrorf(types.ErrToolExecution, "tool %q failed", name).WithCause(err)
}
