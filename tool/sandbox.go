package tool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Govcraft/acton-ai/types"
)

// Sandbox is one isolated execution context. Implementations live outside
// the core (container, subprocess, wasm runtime) and are expected to
// enforce their configured memory ceiling internally; the executor
// enforces the wall-clock timeout either way.
type Sandbox interface {
	// Run executes the named tool inside the sandbox.
	Run(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

	// Close tears the context down. Idempotent.
	Close() error
}

// SandboxFactory provisions sandboxes for a pool.
type SandboxFactory interface {
	Create(ctx context.Context) (Sandbox, error)
}

// SandboxConfig bounds the pool and each execution context.
type SandboxConfig struct {
	// MaxSandboxes caps concurrently provisioned contexts.
	MaxSandboxes int64
	// MemoryLimitBytes is advisory for the factory; zero means the
	// factory's default.
	MemoryLimitBytes int64
}

// DefaultSandboxConfig returns a small pool suitable to one agent.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{MaxSandboxes: 2}
}

// SandboxPool reuses isolated execution contexts across tool calls.
// Admission is bounded by a weighted semaphore; contexts that return an
// error are destroyed rather than reused.
type SandboxPool struct {
	factory SandboxFactory
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mu     sync.Mutex
	free   []Sandbox
	closed bool
}

// NewSandboxPool returns a pool drawing from factory. logger may be nil.
func NewSandboxPool(factory SandboxFactory, cfg SandboxConfig, logger *zap.Logger) *SandboxPool {
	if cfg.MaxSandboxes <= 0 {
		cfg.MaxSandboxes = DefaultSandboxConfig().MaxSandboxes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SandboxPool{
		factory: factory,
		sem:     semaphore.NewWeighted(cfg.MaxSandboxes),
		logger:  logger.With(zap.String("component", "sandbox_pool")),
	}
}

// Run executes one isolated tool call: acquire a context (reused or
// freshly provisioned), run, and return the context to the pool on
// success or destroy it on failure.
func (p *SandboxPool) Run(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, types.NewError(types.ErrSandbox, "sandbox admission cancelled").WithCause(err)
	}
	defer p.sem.Release(1)

	sb, err := p.take(ctx)
	if err != nil {
		return nil, err
	}

	result, runErr := sb.Run(ctx, name, args)
	if runErr != nil {
		// A failed context may be corrupted; never reuse it.
		if cerr := sb.Close(); cerr != nil {
			p.logger.Warn("sandbox teardown failed", zap.Error(cerr))
		}
		return nil, runErr
	}

	p.put(sb)
	return result, nil
}

func (p *SandboxPool) take(ctx context.Context) (Sandbox, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.NewError(types.ErrSandbox, "sandbox pool closed")
	}
	if n := len(p.free); n > 0 {
		sb := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return sb, nil
	}
	p.mu.Unlock()

	start := time.Now()
	sb, err := p.factory.Create(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrSandbox, "sandbox provisioning failed").
			WithRetryable(true).WithCause(err)
	}
	p.logger.Debug("sandbox provisioned", zap.Duration("took", time.Since(start)))
	return sb, nil
}

func (p *SandboxPool) put(sb Sandbox) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = sb.Close()
		return
	}
	p.free = append(p.free, sb)
}

// Close tears down all pooled contexts. In-flight runs finish; their
// contexts are destroyed when returned.
func (p *SandboxPool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()

	for _, sb := range free {
		if err := sb.Close(); err != nil {
			p.logger.Warn("sandbox teardown failed", zap.Error(err))
		}
	}
}
