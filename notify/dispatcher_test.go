package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

type fakeTransport struct {
	mu     sync.Mutex
	events []bus.OutboundEvent
	err    error
}

func (t *fakeTransport) Send(_ context.Context, event bus.OutboundEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.events = append(t.events, event)
	return nil
}

func (t *fakeTransport) delivered() []bus.OutboundEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]bus.OutboundEvent, len(t.events))
	copy(out, t.events)
	return out
}

func newDispatcherFixture(t *testing.T, ratePerSecond float64) (*Dispatcher, *fakeTransport, *bus.Bus[bus.OutboundEvent]) {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	outbound := bus.NewWithBuffer[bus.OutboundEvent](32, log)
	transport := &fakeTransport{}
	d := NewDispatcher(transport, outbound, ratePerSecond, log)

	t.Cleanup(func() {
		d.Stop()
		outbound.Close()
	})
	return d, transport, outbound
}

func outboundEvent(chatID, message string) bus.OutboundEvent {
	return bus.OutboundEvent{
		Kind:    bus.OutboundNotification,
		ChatID:  chatID,
		Message: message,
		Source:  "pipeline",
		At:      time.Now(),
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	d, transport, outbound := newDispatcherFixture(t, 1000)
	d.Start()

	require.NoError(t, outbound.Publish(outboundEvent("chat-1", "first")))
	require.NoError(t, outbound.Publish(outboundEvent("chat-1", "second")))
	require.NoError(t, outbound.Publish(outboundEvent("chat-2", "third")))

	require.Eventually(t, func() bool {
		return len(transport.delivered()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	events := transport.delivered()
	assert.Equal(t, "first", events[0].Message)
	assert.Equal(t, "second", events[1].Message)
	assert.Equal(t, "third", events[2].Message)
	assert.Equal(t, int64(3), d.Sent())
}

func TestDispatcherRateLimits(t *testing.T) {
	// Burst of 2, then one token every 500ms.
	d, transport, outbound := newDispatcherFixture(t, 2)
	d.SetRate(2)
	d.Start()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, outbound.Publish(outboundEvent("chat-1", "msg")))
	}

	require.Eventually(t, func() bool {
		return len(transport.delivered()) == 4
	}, 5*time.Second, 10*time.Millisecond)

	// Two events ride the burst; the remaining two wait for tokens, so
	// the batch cannot complete instantly.
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestDispatcherDropsFailedSends(t *testing.T) {
	d, transport, outbound := newDispatcherFixture(t, 1000)
	transport.err = errors.New("transport down")
	d.Start()

	require.NoError(t, outbound.Publish(outboundEvent("chat-1", "lost")))

	// The failure is logged and dropped, never retried.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, transport.delivered())
	assert.Zero(t, d.Sent())

	// Recovery: later events still flow.
	transport.mu.Lock()
	transport.err = nil
	transport.mu.Unlock()

	require.NoError(t, outbound.Publish(outboundEvent("chat-1", "after recovery")))
	require.Eventually(t, func() bool {
		return len(transport.delivered()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "after recovery", transport.delivered()[0].Message)
	assert.Equal(t, int64(1), d.Sent())
}

func TestDispatcherStopAbortsRateWait(t *testing.T) {
	d, transport, outbound := newDispatcherFixture(t, 1)
	d.Start()

	// Exhaust the burst, then queue one event that must wait a full
	// second for a token.
	require.NoError(t, outbound.Publish(outboundEvent("chat-1", "rides the burst")))
	require.Eventually(t, func() bool {
		return len(transport.delivered()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, outbound.Publish(outboundEvent("chat-1", "stuck behind limiter")))

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the rate limiter")
	}
	assert.Len(t, transport.delivered(), 1)
}

func TestDispatcherDefaultRate(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	outbound := bus.NewWithBuffer[bus.OutboundEvent](4, log)
	defer outbound.Close()

	d := NewDispatcher(&fakeTransport{}, outbound, 0, log)
	defer d.Stop()
	assert.Equal(t, float64(DefaultRatePerSecond), float64(d.limiter.Limit()))
}
