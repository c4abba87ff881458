// Package notify drains the outbound event stream into the chat
// transport, applying a process-wide rate limit so the engine stays
// polite regardless of how productive a pipeline run was.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// DefaultRatePerSecond is the default outbound message rate, matching the
// politeness ceiling of common chat transports.
const DefaultRatePerSecond = 25

// ChatTransport delivers one outbound event over the wire. The transport
// owns its own retry policy; the dispatcher never re-queues failed sends.
type ChatTransport interface {
	Send(ctx context.Context, event bus.OutboundEvent) error
}

// Dispatcher is the single subscriber of the outbound bus.
type Dispatcher struct {
	transport ChatTransport
	outbound  *bus.Bus[bus.OutboundEvent]
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger

	sub      *bus.Subscription[bus.OutboundEvent]
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	mu   sync.Mutex
	sent int64
}

// NewDispatcher creates a dispatcher. ratePerSecond <= 0 falls back to
// DefaultRatePerSecond.
func NewDispatcher(transport ChatTransport, outbound *bus.Bus[bus.OutboundEvent], ratePerSecond float64, log *zap.SugaredLogger) *Dispatcher {
	if ratePerSecond <= 0 {
		ratePerSecond = DefaultRatePerSecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		transport: transport,
		outbound:  outbound,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)),
		logger:    log.Named("notify"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the outbound stream.
func (d *Dispatcher) Start() {
	d.sub = d.outbound.Subscribe("notify-dispatcher", nil, d.deliver)
	d.logger.Infow("Outbound dispatcher started",
		"symbol", sym.Send,
		"rate_per_second", float64(d.limiter.Limit()),
	)
}

// Stop unsubscribes and aborts any in-flight rate wait.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.sub != nil {
			d.outbound.Unsubscribe(d.sub)
		}
		d.cancel()
		d.logger.Infow("Outbound dispatcher stopped", "symbol", sym.Send)
	})
}

// SetRate retunes the limiter. Safe to call from the config hot-reload
// watcher.
func (d *Dispatcher) SetRate(ratePerSecond float64) {
	if ratePerSecond <= 0 {
		return
	}
	d.limiter.SetLimit(rate.Limit(ratePerSecond))
	d.limiter.SetBurst(int(ratePerSecond))
	d.logger.Infow("Outbound rate retuned", "rate_per_second", ratePerSecond)
}

// Sent returns how many events were handed to the transport.
func (d *Dispatcher) Sent() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

func (d *Dispatcher) deliver(event bus.OutboundEvent) error {
	if err := d.limiter.Wait(d.ctx); err != nil {
		// Shutting down; the event is dropped with the rest of the queue.
		return nil
	}

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	if err := d.transport.Send(ctx, event); err != nil {
		d.logger.Errorw("Transport send failed",
			"symbol", sym.Send,
			"chat_id", event.ChatID,
			"kind", string(event.Kind),
			"error", err,
		)
		return nil // logged and dropped; the transport owns retries
	}

	d.mu.Lock()
	d.sent++
	d.mu.Unlock()
	return nil
}
