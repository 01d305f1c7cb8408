// Package broker provides the process-wide publish/subscribe bus keyed by
// message type. Any actor may subscribe to a type and receive a copy of
// every published instance.
//
// The broker is itself an actor: its subscription table is mutated only
// inside its own mailbox handler, never behind a lock. Delivery of one
// Publish call preserves subscription order; publishes from different
// publishers interleave arbitrarily. Subscribers filter by CorrelationID
// themselves - the broker performs no filtering.
package broker

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/Govcraft/acton-ai/actor"
	"github.com/Govcraft/acton-ai/types"
)

type subscribeMsg struct {
	ref      *actor.Ref
	msgTypes []reflect.Type
}

type unsubscribeMsg struct {
	ref      *actor.Ref
	msgTypes []reflect.Type // empty means all types
}

type publishMsg struct {
	payload any
}

// Broker is the shared bus handle. All methods are safe for concurrent use.
type Broker struct {
	ref    *actor.Ref
	logger *zap.Logger
}

// bus is the broker's actor state.
type bus struct {
	subs   map[reflect.Type][]*actor.Ref
	logger *zap.Logger
}

// New spawns the broker actor.
func New(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "broker"))

	b := &bus{
		subs:   make(map[reflect.Type][]*actor.Ref),
		logger: logger,
	}
	return &Broker{
		ref:    actor.Spawn("broker", b, actor.WithLogger(logger)),
		logger: logger,
	}
}

// Subscribe registers ref for every message matching the concrete type of
// each prototype (e.g. (*types.StreamToken)(nil)). Subscribing twice to the
// same type is a no-op.
func (b *Broker) Subscribe(ref *actor.Ref, prototypes ...any) {
	_ = b.ref.Send(&subscribeMsg{ref: ref, msgTypes: typesOf(prototypes)})
}

// Unsubscribe removes ref's subscriptions for the given prototypes, or all
// of them when none are given. Unsubscribing an unknown ref is a no-op.
func (b *Broker) Unsubscribe(ref *actor.Ref, prototypes ...any) {
	_ = b.ref.Send(&unsubscribeMsg{ref: ref, msgTypes: typesOf(prototypes)})
}

// Publish delivers a copy of msg to every current subscriber of msg's type.
// Delivery to a closed or saturated subscriber mailbox is dropped and
// logged, never propagated to the publisher.
func (b *Broker) Publish(msg any) {
	_ = b.ref.Send(&publishMsg{payload: msg})
}

// Stop shuts the broker down. Pending publishes are discarded.
func (b *Broker) Stop() {
	b.ref.Stop()
}

// Done is closed once the broker actor has exited.
func (b *Broker) Done() <-chan struct{} { return b.ref.Done() }

func (s *bus) Receive(_ context.Context, msg any) {
	switch m := msg.(type) {
	case *subscribeMsg:
		for _, t := range m.msgTypes {
			s.add(t, m.ref)
		}
	case *unsubscribeMsg:
		if len(m.msgTypes) == 0 {
			for t := range s.subs {
				s.remove(t, m.ref)
			}
			return
		}
		for _, t := range m.msgTypes {
			s.remove(t, m.ref)
		}
	case *publishMsg:
		s.deliver(m.payload)
	}
}

func (s *bus) add(t reflect.Type, ref *actor.Ref) {
	for _, existing := range s.subs[t] {
		if existing.ID() == ref.ID() {
			return
		}
	}
	s.subs[t] = append(s.subs[t], ref)
}

func (s *bus) remove(t reflect.Type, ref *actor.Ref) {
	list := s.subs[t]
	for i, existing := range list {
		if existing.ID() == ref.ID() {
			s.subs[t] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.subs[t]) == 0 {
		delete(s.subs, t)
	}
}

func (s *bus) deliver(payload any) {
	t := reflect.TypeOf(payload)
	for _, ref := range s.subs[t] {
		if err := ref.TrySend(payload); err != nil {
			code := types.GetErrorCode(err)
			s.logger.Warn("dropping message for subscriber",
				zap.String("subscriber", ref.Name()),
				zap.String("message_type", t.String()),
				zap.String("reason", string(code)),
			)
		}
	}
}

func typesOf(prototypes []any) []reflect.Type {
	out := make([]reflect.Type, 0, len(prototypes))
	for _, p := range prototypes {
		out = append(out, reflect.TypeOf(p))
	}
	return out
}
