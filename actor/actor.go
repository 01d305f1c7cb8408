// Package actor provides the mailbox runtime: single-consumer,
// multi-producer message queues with one-at-a-time handler execution,
// panic isolation, and parent-owns-child supervision hooks.
//
// Each actor is logically single-threaded. Its state is touched only by its
// own Receive handler, so no locking is needed around actor state. Long
// operations (network calls, sandbox round-trips) must be off-loaded to
// independent goroutines that report back via a follow-up message instead of
// blocking the mailbox, unless serialization is an intentional ordering
// guarantee.
package actor

import (
	"context"

	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/types"
)

// Receiver handles messages delivered one at a time, in send order per
// sender. A Receiver's state must only be touched from Receive.
type Receiver interface {
	Receive(ctx context.Context, msg any)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, msg any)

// Receive implements Receiver.
func (f ReceiverFunc) Receive(ctx context.Context, msg any) { f(ctx, msg) }

// PanicHandler is invoked after a Receive handler panics. The actor's
// mailbox is already closed when the handler runs; a supervisor may respawn
// a replacement, ignore the failure, or cascade-stop dependents.
type PanicHandler func(ref *Ref, msg any, recovered any)

// Option configures a spawned actor.
type Option func(*options)

type options struct {
	capacity int
	logger   *zap.Logger
	onPanic  PanicHandler
	onStop   func(ref *Ref)
}

// WithCapacity bounds the mailbox. Send blocks producers when the mailbox
// is full (backpressure); TrySend fails instead. A capacity of 0 selects an
// unbounded mailbox, trading backpressure for unbounded memory growth.
// The default capacity is DefaultCapacity.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithLogger sets the actor's logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPanicHandler installs the supervisor notification for handler panics.
func WithPanicHandler(h PanicHandler) Option {
	return func(o *options) { o.onPanic = h }
}

// WithStopHandler installs a hook that runs after the actor's loop exits.
func WithStopHandler(h func(ref *Ref)) Option {
	return func(o *options) { o.onStop = h }
}

// DefaultCapacity is the default mailbox bound.
const DefaultCapacity = 256

// Ref is a cheap, shareable handle to a running actor. All methods are safe
// for concurrent use.
type Ref struct {
	id     types.ActorID
	name   string
	mb     *mailbox
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// Spawn starts an actor around the given receiver and returns its handle.
func Spawn(name string, r Receiver, opts ...Option) *Ref {
	o := options{capacity: DefaultCapacity, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ref := &Ref{
		id:     types.NewActorID(),
		name:   name,
		mb:     newMailbox(o.capacity),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: o.logger.With(zap.String("actor", name)),
	}

	go ref.loop(ctx, r, o)
	return ref
}

// ID returns the actor's unique identifier.
func (r *Ref) ID() types.ActorID { return r.id }

// Name returns the actor's display name.
func (r *Ref) Name() string { return r.name }

// Send enqueues a message, blocking while a bounded mailbox is full.
// It returns types.ErrMailboxClosed once the actor has stopped.
func (r *Ref) Send(msg any) error {
	return r.mb.push(msg, true)
}

// TrySend enqueues a message without blocking. It returns
// types.ErrMailboxFull when a bounded mailbox is full.
func (r *Ref) TrySend(msg any) error {
	return r.mb.push(msg, false)
}

// Stop closes the mailbox and cancels the actor's context. The in-flight
// handler finishes; queued messages are discarded. Stop is idempotent.
func (r *Ref) Stop() {
	dropped := r.mb.close()
	r.cancel()
	if dropped > 0 {
		r.logger.Debug("dropped queued messages on stop", zap.Int("count", dropped))
	}
}

// Done is closed once the actor's loop has exited.
func (r *Ref) Done() <-chan struct{} { return r.done }

// Closed reports whether the mailbox no longer accepts messages.
func (r *Ref) Closed() bool { return r.mb.isClosed() }

func (r *Ref) loop(ctx context.Context, recv Receiver, o options) {
	defer close(r.done)
	defer func() {
		if o.onStop != nil {
			o.onStop(r)
		}
	}()

	for {
		msg, ok := r.mb.pop()
		if !ok {
			return
		}
		if !r.deliver(ctx, recv, msg, o) {
			return
		}
	}
}

// deliver runs one handler invocation, isolating panics. It reports whether
// the loop should continue.
func (r *Ref) deliver(ctx context.Context, recv Receiver, msg any, o options) (alive bool) {
	defer func() {
		if rec := recover(); rec != nil {
			alive = false
			r.logger.Error("handler panicked",
				zap.Any("recovered", rec),
				zap.String("message_type", typeName(msg)),
			)
			r.mb.close()
			r.cancel()
			if o.onPanic != nil {
				o.onPanic(r, msg, rec)
			}
		}
	}()

	recv.Receive(ctx, msg)
	return true
}
