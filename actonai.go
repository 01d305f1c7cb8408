// Package actonai wires the mailbox runtime, broker, LLM provider, and
// kernel into one runtime handle. Everything here is convenience; the
// underlying packages are usable on their own.
package actonai

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/agent"
	"github.com/Govcraft/acton-ai/broker"
	"github.com/Govcraft/acton-ai/internal/metrics"
	"github.com/Govcraft/acton-ai/kernel"
	"github.com/Govcraft/acton-ai/llm"
	"github.com/Govcraft/acton-ai/tool"
	"github.com/Govcraft/acton-ai/types"
)

// Runtime owns a broker, a kernel, and optionally one LLM provider.
// Shutdown order is agents first, then the provider, then the broker.
type Runtime struct {
	logger   *zap.Logger
	broker   *broker.Broker
	kernel   *kernel.Kernel
	provider *llm.Provider
}

// Option configures a Runtime.
type Option func(*builder)

type builder struct {
	logger      *zap.Logger
	registerer  prometheus.Registerer
	kernelCfg   kernel.Config
	client      llm.Client
	providerCfg llm.ProviderConfig
	tools       *tool.Registry
	pool        *tool.SandboxPool
}

// WithLogger sets the runtime logger, shared by every component.
// Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithMetrics registers runtime instruments with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *builder) { b.registerer = reg }
}

// WithKernelConfig replaces the default kernel configuration.
func WithKernelConfig(cfg kernel.Config) Option {
	return func(b *builder) { b.kernelCfg = cfg }
}

// WithProvider spawns an LLM provider over client with cfg. Without one
// the runtime can still host agents, but prompts never get answered.
func WithProvider(cfg llm.ProviderConfig, client llm.Client) Option {
	return func(b *builder) {
		b.providerCfg = cfg
		b.client = client
	}
}

// WithTools sets the tool registry handed to every agent the runtime
// spawns.
func WithTools(reg *tool.Registry) Option {
	return func(b *builder) { b.tools = reg }
}

// WithSandboxPool routes isolated tools of every agent through pool.
func WithSandboxPool(pool *tool.SandboxPool) Option {
	return func(b *builder) { b.pool = pool }
}

// New assembles and starts a runtime.
func New(opts ...Option) (*Runtime, error) {
	b := &builder{
		logger:    zap.NewNop(),
		kernelCfg: kernel.NewConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}

	var collector *metrics.Collector
	if b.registerer != nil {
		collector = metrics.NewCollector("actonai", b.registerer)
	}

	bk := broker.New(b.logger)

	agentOpts := []agent.Option{agent.WithLogger(b.logger)}
	if b.tools != nil {
		agentOpts = append(agentOpts, agent.WithRegistry(b.tools))
	}
	if b.pool != nil {
		agentOpts = append(agentOpts, agent.WithSandboxPool(b.pool))
	}

	k, err := kernel.Spawn(b.kernelCfg, bk,
		kernel.WithLogger(b.logger),
		kernel.WithCollector(collector),
		kernel.WithAgentOptions(agentOpts...),
	)
	if err != nil {
		bk.Stop()
		return nil, err
	}

	rt := &Runtime{logger: b.logger, broker: bk, kernel: k}

	if b.client != nil {
		p, err := llm.SpawnProvider(b.providerCfg, b.client, bk,
			llm.WithLogger(b.logger),
			llm.WithCollector(collector),
		)
		if err != nil {
			_ = k.Shutdown(context.Background())
			bk.Stop()
			return nil, err
		}
		rt.provider = p
	}

	return rt, nil
}

// Broker returns the runtime's event broker.
func (r *Runtime) Broker() *broker.Broker { return r.broker }

// Kernel returns the runtime's kernel.
func (r *Runtime) Kernel() *kernel.Kernel { return r.kernel }

// Provider returns the runtime's LLM provider, or nil without one.
func (r *Runtime) Provider() *llm.Provider { return r.provider }

// SpawnAgent starts a kernel-supervised agent.
func (r *Runtime) SpawnAgent(ctx context.Context, cfg agent.Config, opts ...agent.Option) (types.AgentID, error) {
	return r.kernel.SpawnAgent(ctx, cfg, opts...)
}

// StopAgent stops a supervised agent.
func (r *Runtime) StopAgent(ctx context.Context, id types.AgentID) error {
	return r.kernel.StopAgent(ctx, id)
}

// Agent returns the handle of a supervised agent.
func (r *Runtime) Agent(ctx context.Context, id types.AgentID) (*agent.Agent, error) {
	return r.kernel.Agent(ctx, id)
}

// Prompt sends content to the identified agent and waits for the final
// result of its reasoning loop.
func (r *Runtime) Prompt(ctx context.Context, id types.AgentID, content string) (types.PromptResult, error) {
	ag, err := r.kernel.Agent(ctx, id)
	if err != nil {
		return types.PromptResult{}, err
	}
	return ag.Prompt(ctx, content)
}

// Complete runs one agentless request through the provider and returns
// the accumulated text. No conversation state is kept and tool calls are
// not executed.
func (r *Runtime) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if r.provider == nil {
		return "", types.NewError(types.ErrInvalidConfig, "runtime has no provider")
	}

	corr := types.NewCorrelationID()
	c := newResponseCollector(r.broker, corr)
	defer c.stop()

	var msgs []types.Message
	if systemPrompt != "" {
		msgs = append(msgs, types.NewSystemMessage(systemPrompt))
	}
	msgs = append(msgs, types.NewUserMessage(prompt))
	r.broker.Publish(&types.Request{CorrelationID: corr, Messages: msgs})

	return c.wait(ctx)
}

// Shutdown stops the runtime: agents, then the provider, then the broker.
func (r *Runtime) Shutdown(ctx context.Context) error {
	err := r.kernel.Shutdown(ctx)
	if r.provider != nil {
		r.provider.Stop()
		select {
		case <-r.provider.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.broker.Stop()
	select {
	case <-r.broker.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// responseCollector is a transient subscriber that accumulates exactly one
// correlated stream and resolves a waiter with its text.
type responseCollector struct {
	broker *broker.Broker
	ref    *actor.Ref
	corr   types.CorrelationID
	acc    *llm.StreamAccumulator
	done   chan result
}

type result struct {
	content string
	err     *types.Error
}

func newResponseCollector(bk *broker.Broker, corr types.CorrelationID) *responseCollector {
	c := &responseCollector{
		broker: bk,
		corr:   corr,
		acc:    llm.NewStreamAccumulator(),
		done:   make(chan result, 1),
	}
	c.ref = actor.Spawn("collector/"+corr.String(), actor.ReceiverFunc(c.receive))
	bk.Subscribe(c.ref,
		(*types.StreamStart)(nil),
		(*types.StreamToken)(nil),
		(*types.StreamToolCall)(nil),
		(*types.StreamEnd)(nil),
	)
	return c
}

func (c *responseCollector) receive(_ context.Context, msg any) {
	switch m := msg.(type) {
	case *types.StreamStart:
		if m.CorrelationID == c.corr {
			c.acc.Start(m.CorrelationID)
		}
	case *types.StreamToken:
		if m.CorrelationID == c.corr {
			c.acc.AppendToken(m.CorrelationID, m.Token)
		}
	case *types.StreamToolCall:
		if m.CorrelationID == c.corr {
			c.acc.AddToolCall(m.CorrelationID, m.ToolCall)
		}
	case *types.StreamEnd:
		if m.CorrelationID != c.corr {
			return
		}
		if m.Err != nil {
			c.acc.Remove(m.CorrelationID)
			c.done <- result{err: m.Err}
			return
		}
		stream := c.acc.End(m.CorrelationID, m.StopReason, nil)
		if stream == nil {
			c.done <- result{err: types.NewError(types.ErrStreamParse, "stream ended before it started")}
			return
		}
		c.done <- result{content: stream.Content()}
	}
}

func (c *responseCollector) wait(ctx context.Context) (string, error) {
	select {
	case res := <-c.done:
		if res.err != nil {
			return "", res.err
		}
		return res.content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *responseCollector) stop() {
	c.broker.Unsubscribe(c.ref,
		(*types.StreamStart)(nil),
		(*types.StreamToken)(nil),
		(*types.StreamToolCall)(nil),
		(*types.StreamEnd)(nil),
	)
	c.ref.Stop()
}
