package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// collector records every message it receives.
type collector struct {
	mu   sync.Mutex
	msgs []any
	seen chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 1024)}
}

func (c *collector) Receive(_ context.Context, msg any) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []any {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func TestSend_PreservesPerSenderOrder(t *testing.T) {
	c := newCollector()
	ref := Spawn("collector", c)
	defer ref.Stop()

	for i := 0; i < 100; i++ {
		require.NoError(t, ref.Send(i))
	}

	msgs := c.wait(t, 100)
	for i, m := range msgs {
		assert.Equal(t, i, m)
	}
}

func TestReceive_NeverOverlaps(t *testing.T) {
	var inFlight int32
	var overlapped atomic.Bool
	done := make(chan struct{}, 64)

	ref := Spawn("serial", ReceiverFunc(func(_ context.Context, _ any) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		done <- struct{}{}
	}))
	defer ref.Stop()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				_ = ref.Send(i)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 64; i++ {
		<-done
	}
	assert.False(t, overlapped.Load(), "two handler invocations overlapped")
}

// Property: for all message sequences from a single sender, delivery order
// equals send order regardless of mailbox capacity.
func TestMailbox_OrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(0, 32).Draw(t, "capacity")
		count := rapid.IntRange(1, 200).Draw(t, "count")

		c := newCollector()
		ref := Spawn("prop", c, WithCapacity(capacity))
		defer ref.Stop()

		for i := 0; i < count; i++ {
			if err := ref.Send(i); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for deadline := time.Now().Add(2 * time.Second); len(c.msgs) < count; {
			c.mu.Unlock()
			if time.Now().After(deadline) {
				t.Fatalf("only %d of %d messages delivered", len(c.msgs), count)
			}
			time.Sleep(time.Millisecond)
			c.mu.Lock()
		}
		for i, m := range c.msgs {
			if m != i {
				t.Fatalf("position %d: got %v", i, m)
			}
		}
	})
}

func TestTrySend_FailsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	ref := Spawn("blocked", ReceiverFunc(func(_ context.Context, _ any) {
		close(started)
		<-block
	}), WithCapacity(1))
	defer func() {
		close(block)
		ref.Stop()
	}()

	require.NoError(t, ref.Send("first")) // picked up by the handler
	<-started
	require.NoError(t, ref.TrySend("second")) // fills the queue

	err := ref.TrySend("third")
	require.Error(t, err)
	assert.True(t, ref.mb.len() <= 1)
}

func TestStop_RejectsFurtherSends(t *testing.T) {
	ref := Spawn("stopped", newCollector())
	ref.Stop()

	<-ref.Done()
	assert.Error(t, ref.Send("late"))
	assert.True(t, ref.Closed())

	// Stop is idempotent.
	ref.Stop()
}

func TestPanic_KillsOnlyThatActor(t *testing.T) {
	var notifiedMu sync.Mutex
	var notified any
	panicked := Spawn("panicky", ReceiverFunc(func(_ context.Context, msg any) {
		panic("boom")
	}),
		WithLogger(zap.NewNop()),
		WithPanicHandler(func(_ *Ref, _ any, recovered any) {
			notifiedMu.Lock()
			notified = recovered
			notifiedMu.Unlock()
		}),
	)

	healthy := newCollector()
	other := Spawn("healthy", healthy)
	defer other.Stop()

	require.NoError(t, panicked.Send("trigger"))

	select {
	case <-panicked.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("panicked actor did not stop")
	}

	notifiedMu.Lock()
	assert.Equal(t, "boom", notified)
	notifiedMu.Unlock()

	// The unrelated actor keeps processing.
	require.NoError(t, other.Send("still alive"))
	msgs := healthy.wait(t, 1)
	assert.Equal(t, "still alive", msgs[0])
}

func TestStopHandler_RunsOnExit(t *testing.T) {
	stopped := make(chan struct{})
	ref := Spawn("hooked", newCollector(), WithStopHandler(func(_ *Ref) {
		close(stopped)
	}))

	ref.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop handler did not run")
	}
}
