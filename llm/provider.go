package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/broker"
	"github.com/Govcraft/acton-ai/internal/metrics"
	"github.com/Govcraft/acton-ai/types"
)

// ProviderMetrics is a point-in-time snapshot of one provider's counters.
type ProviderMetrics struct {
	RequestsSent      int
	RequestsSucceeded int
	RequestsFailed    int
	RateLimitsHit     int
	Queued            int
}

// Provider wraps the provider actor. Requests arrive either via the broker
// (subscribed to *types.Request) or directly through Submit; responses go
// out as StreamStart / StreamToken / StreamToolCall / StreamEnd events on
// the broker, tagged with the request's correlation ID.
//
// Every accepted or rejected request produces exactly one StreamStart and
// exactly one StreamEnd. Rejections and call failures carry the error on
// StreamEnd so subscribers always observe a well-formed stream.
type Provider struct {
	ref *actor.Ref
}

// Option configures a provider.
type Option func(*providerState)

// WithLogger sets the provider logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *providerState) { s.logger = logger }
}

// WithCollector attaches Prometheus instruments.
func WithCollector(c *metrics.Collector) Option {
	return func(s *providerState) { s.collector = c }
}

// SpawnProvider starts a provider actor for client and subscribes it to
// *types.Request on bk.
func SpawnProvider(cfg ProviderConfig, client Client, bk *broker.Broker, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(client)

	s := &providerState{
		cfg:       cfg,
		client:    client,
		broker:    bk,
		limiter:   newRateLimiter(cfg.RateLimit),
		estimator: newTokenEstimator(cfg.Model),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "provider"), zap.String("provider", cfg.Name))

	ref := actor.Spawn("provider/"+cfg.Name, s, actor.WithLogger(s.logger))
	s.ref = ref
	bk.Subscribe(ref, (*types.Request)(nil))

	return &Provider{ref: ref}, nil
}

// Ref returns the underlying actor reference.
func (p *Provider) Ref() *actor.Ref { return p.ref }

// Submit sends a request directly, bypassing the broker.
func (p *Provider) Submit(req *types.Request) error {
	return p.ref.Send(req)
}

// Metrics returns a snapshot of the provider's counters.
func (p *Provider) Metrics(ctx context.Context) (ProviderMetrics, error) {
	reply := make(chan ProviderMetrics, 1)
	if err := p.ref.Send(&metricsRequest{reply: reply}); err != nil {
		return ProviderMetrics{}, err
	}
	select {
	case m := <-reply:
		return m, nil
	case <-ctx.Done():
		return ProviderMetrics{}, ctx.Err()
	case <-p.ref.Done():
		return ProviderMetrics{}, types.NewError(types.ErrShuttingDown, "provider stopped")
	}
}

// Stop shuts the provider down. Queued requests are failed; in-flight
// network calls run to completion but their late events are dropped by
// the broker once subscribers go away.
func (p *Provider) Stop() { p.ref.Stop() }

// Done is closed when the provider actor has exited.
func (p *Provider) Done() <-chan struct{} { return p.ref.Done() }

// Internal mailbox messages. The rate limiter, queue, and counters are
// touched only from Receive, never from the network goroutine.

type processQueue struct{}

type requestFinished struct {
	tokens  int
	start   time.Time
	failed  bool
	outcome string
}

type metricsRequest struct {
	reply chan<- ProviderMetrics
}

type queuedRequest struct {
	req      *types.Request
	tokens   int
	queuedAt time.Time
}

type providerState struct {
	cfg       ProviderConfig
	client    Client
	broker    *broker.Broker
	limiter   *rateLimiter
	estimator *tokenEstimator
	logger    *zap.Logger
	collector *metrics.Collector
	ref       *actor.Ref

	queue          []queuedRequest
	timerScheduled bool

	sent      int
	succeeded int
	failed    int
	rateLimit int
}

func (s *providerState) Receive(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case *types.Request:
		s.handleRequest(ctx, m)
	case *processQueue:
		s.timerScheduled = false
		s.drainQueue(ctx)
	case *requestFinished:
		if m.failed {
			s.failed++
		} else {
			s.succeeded++
		}
		s.collector.ProviderRequest(s.cfg.Name, m.outcome, time.Since(m.start), m.tokens)
	case *metricsRequest:
		m.reply <- ProviderMetrics{
			RequestsSent:      s.sent,
			RequestsSucceeded: s.succeeded,
			RequestsFailed:    s.failed,
			RateLimitsHit:     s.rateLimit,
			Queued:            len(s.queue),
		}
	default:
		s.logger.Warn("unexpected message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *providerState) handleRequest(ctx context.Context, req *types.Request) {
	est := s.estimator.countMessages(req.Messages)

	// A request larger than the whole token window can never be admitted,
	// so queueing it would block the queue head forever.
	if max := s.cfg.RateLimit.TokensPerMinute; max > 0 && est > max {
		s.logger.Warn("request exceeds token window",
			zap.String("correlation_id", req.CorrelationID.String()),
			zap.Int("estimated_tokens", est),
			zap.Int("tokens_per_minute", max))
		s.fail(req, types.NewErrorf(types.ErrRateLimited,
			"estimated %d tokens exceeds the %d token per minute window", est, max).
			WithComponent(s.cfg.Name))
		return
	}

	wait, ok := s.limiter.reserve(est)
	if ok {
		s.dispatch(ctx, req, est)
		return
	}

	s.rateLimit++
	s.collector.RateLimitHit(s.cfg.Name)
	s.broker.Publish(&types.SystemEvent{
		Kind:       types.SystemRateLimitHit,
		Provider:   s.cfg.Name,
		RetryAfter: wait,
	})

	if !s.cfg.RateLimit.QueueWhenLimited {
		s.logger.Debug("rate limited, queueing disabled",
			zap.String("correlation_id", req.CorrelationID.String()),
			zap.Duration("retry_after", wait))
		s.fail(req, types.NewError(types.ErrRateLimited, "rate limit exceeded").
			WithRetryable(true).WithRetryAfter(wait).WithComponent(s.cfg.Name))
		return
	}

	if len(s.queue) >= s.cfg.RateLimit.MaxQueueSize {
		s.logger.Warn("rate limit queue full",
			zap.String("correlation_id", req.CorrelationID.String()),
			zap.Int("queue_size", len(s.queue)))
		s.fail(req, types.NewError(types.ErrQueueFull, "rate limit queue full").
			WithRetryable(true).WithRetryAfter(wait).WithComponent(s.cfg.Name))
		return
	}

	s.logger.Debug("rate limited, request queued",
		zap.String("correlation_id", req.CorrelationID.String()),
		zap.Duration("retry_after", wait),
		zap.Int("queue_depth", len(s.queue)+1))
	s.queue = append(s.queue, queuedRequest{req: req, tokens: est, queuedAt: time.Now()})
	s.collector.QueueDepth(s.cfg.Name, len(s.queue))
	s.schedule(wait)
}

// drainQueue admits queued requests in FIFO order until the limiter
// defers again, then re-arms the timer for the remaining head.
func (s *providerState) drainQueue(ctx context.Context) {
	for len(s.queue) > 0 {
		head := s.queue[0]
		wait, ok := s.limiter.reserve(head.tokens)
		if !ok {
			s.schedule(wait)
			break
		}
		s.queue = s.queue[1:]
		s.dispatch(ctx, head.req, head.tokens)
	}
	s.collector.QueueDepth(s.cfg.Name, len(s.queue))
}

func (s *providerState) schedule(wait time.Duration) {
	if s.timerScheduled {
		return
	}
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	s.timerScheduled = true
	ref := s.ref
	time.AfterFunc(wait, func() {
		// Dropped when the mailbox is closed or full; a full mailbox will
		// trigger another drain on its own.
		_ = ref.TrySend(&processQueue{})
	})
}

// dispatch launches the network call. Everything after this point runs
// off the mailbox so slow upstreams never block request intake.
func (s *providerState) dispatch(ctx context.Context, req *types.Request, est int) {
	s.sent++
	go s.run(ctx, req, est)
}

// fail publishes a start/end pair carrying err, keeping the stream shape
// uniform for subscribers.
func (s *providerState) fail(req *types.Request, err *types.Error) {
	s.broker.Publish(&types.StreamStart{CorrelationID: req.CorrelationID, Provider: s.cfg.Name})
	s.broker.Publish(&types.StreamEnd{CorrelationID: req.CorrelationID, Err: err})
	s.failed++
	s.collector.ProviderRequest(s.cfg.Name, "rejected", 0, 0)
}

// run executes one request against the client, retrying retriable
// failures with exponential backoff as long as nothing has been published
// beyond StreamStart. Once tokens or tool calls have gone out the stream
// cannot be replayed, so later failures end it with the error instead.
func (s *providerState) run(ctx context.Context, req *types.Request, est int) {
	start := time.Now()
	s.broker.Publish(&types.StreamStart{CorrelationID: req.CorrelationID, Provider: s.cfg.Name})

	var lastErr *types.Error
	for attempt := 0; attempt <= s.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.Retry.delay(attempt)
			if ra := types.RetryAfter(lastErr); ra > delay {
				delay = ra
			}
			s.logger.Debug("retrying request",
				zap.String("correlation_id", req.CorrelationID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				s.finish(req, est, start, types.NewError(types.ErrShuttingDown, "provider shutting down").WithCause(ctx.Err()))
				return
			}
		}

		done, published := s.attempt(ctx, req)
		if done == nil {
			s.finish(req, est, start, nil)
			return
		}
		lastErr = done
		if published || !done.Retryable || attempt >= s.cfg.Retry.MaxRetries {
			s.finish(req, est, start, done)
			return
		}
	}
	s.finish(req, est, start, lastErr)
}

// attempt runs a single client call. It returns the terminal error (nil on
// success) and whether any token or tool-call event was published, which
// makes the attempt non-retriable.
func (s *providerState) attempt(ctx context.Context, req *types.Request) (*types.Error, bool) {
	callCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	ch, err := s.client.SendStreamingRequest(callCtx, req.Messages, req.Tools)
	if err != nil {
		return asProviderError(err), false
	}

	published := false
	for ev := range ch {
		switch ev.Kind {
		case EventToken:
			published = true
			s.broker.Publish(&types.StreamToken{CorrelationID: req.CorrelationID, Token: ev.Token})
		case EventToolCall:
			published = true
			s.broker.Publish(&types.StreamToolCall{CorrelationID: req.CorrelationID, ToolCall: *ev.ToolCall})
		case EventEnd:
			s.broker.Publish(&types.StreamEnd{CorrelationID: req.CorrelationID, StopReason: ev.StopReason})
			return nil, published
		case EventError:
			return ev.Err, published
		}
	}
	// Channel closed without a terminal event.
	return types.NewError(types.ErrStreamParse, "stream ended without terminal event").
		WithComponent(s.cfg.Name), published
}

// finish publishes the terminal event for a failed attempt and reports the
// outcome back to the mailbox for accounting.
func (s *providerState) finish(req *types.Request, est int, start time.Time, err *types.Error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		s.logger.Warn("request failed",
			zap.String("correlation_id", req.CorrelationID.String()),
			zap.Error(err))
		s.broker.Publish(&types.StreamEnd{CorrelationID: req.CorrelationID, Err: err})
	}
	_ = s.ref.TrySend(&requestFinished{
		tokens:  est,
		start:   start,
		failed:  err != nil,
		outcome: outcome,
	})
}

// asProviderError normalizes client errors to *types.Error.
func asProviderError(err error) *types.Error {
	if te, ok := err.(*types.Error); ok {
		return te
	}
	if code := types.GetErrorCode(err); code != "" {
		return types.NewError(code, err.Error()).WithCause(err).WithRetryable(types.IsRetryable(err))
	}
	return types.NewError(types.ErrUpstreamError, err.Error()).WithCause(err)
}
