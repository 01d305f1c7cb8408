package actor

import (
	"fmt"
	"sync"

	"github.com/Govcraft/acton-ai/types"
)

// mailbox is a FIFO queue with optional capacity. Ordering guarantee:
// messages from one sender are dequeued in the order that sender's push
// calls completed; pushes from different senders interleave arbitrarily.
type mailbox struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []any
	capacity int // <= 0 means unbounded
	closed   bool
}

func newMailbox(capacity int) *mailbox {
	mb := &mailbox{capacity: capacity}
	mb.notEmpty = sync.NewCond(&mb.mu)
	mb.notFull = sync.NewCond(&mb.mu)
	return mb
}

func (mb *mailbox) push(msg any, block bool) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for mb.capacity > 0 && len(mb.queue) >= mb.capacity && !mb.closed {
		if !block {
			return types.NewError(types.ErrMailboxFull, "mailbox full").WithRetryable(true)
		}
		mb.notFull.Wait()
	}
	if mb.closed {
		return types.NewError(types.ErrMailboxClosed, "mailbox closed")
	}

	mb.queue = append(mb.queue, msg)
	mb.notEmpty.Signal()
	return nil
}

// pop blocks until a message is available or the mailbox closes. The second
// return value is false once the mailbox is closed; remaining queued
// messages are not delivered after close.
func (mb *mailbox) pop() (any, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for len(mb.queue) == 0 && !mb.closed {
		mb.notEmpty.Wait()
	}
	if mb.closed {
		return nil, false
	}

	msg := mb.queue[0]
	mb.queue[0] = nil
	mb.queue = mb.queue[1:]
	mb.notFull.Signal()
	return msg, true
}

// close marks the mailbox closed and returns the number of messages dropped.
func (mb *mailbox) close() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return 0
	}
	mb.closed = true
	dropped := len(mb.queue)
	mb.queue = nil
	mb.notEmpty.Broadcast()
	mb.notFull.Broadcast()
	return dropped
}

func (mb *mailbox) isClosed() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}

func (mb *mailbox) len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

func typeName(msg any) string {
	return fmt.Sprintf("%T", msg)
}
