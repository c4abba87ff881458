// Package bus provides the in-process publish/subscribe channels that
// decouple chat-transport I/O from the engine. Two independent buses are
// instantiated: one for inbound chat events, one for outbound deliveries.
//
// Delivery guarantees: at-least-once, unordered across subscribers,
// ordered per subscriber. Each subscriber drains its own bounded buffer
// on a dedicated goroutine; a full buffer drops the event for that
// subscriber only and surfaces the drop to the publisher.
package bus

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
)

// DefaultBufferSize is the per-subscriber event buffer. Sized so a slow
// subscriber survives a burst without back-pressuring publishers.
const DefaultBufferSize = 256

// Handler processes one event. Errors are logged at the subscription
// boundary; they never reach the publisher.
type Handler[T any] func(event T) error

// Predicate filters which events a subscription receives. A nil predicate
// matches everything.
type Predicate[T any] func(event T) bool

// Subscription is one registered consumer of a bus.
type Subscription[T any] struct {
	name      string
	predicate Predicate[T]
	handler   Handler[T]
	ch        chan T
	done      chan struct{}
}

// Name returns the subscription's diagnostic name.
func (s *Subscription[T]) Name() string {
	return s.name
}

// Bus is a fan-out event channel with per-subscriber fault isolation.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	closed  bool
	bufSize int
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger
}

// New creates a bus with the default per-subscriber buffer size.
func New[T any](logger *zap.SugaredLogger) *Bus[T] {
	return NewWithBuffer[T](DefaultBufferSize, logger)
}

// NewWithBuffer creates a bus with an explicit per-subscriber buffer size.
func NewWithBuffer[T any](bufSize int, logger *zap.SugaredLogger) *Bus[T] {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus[T]{
		subs:    make(map[*Subscription[T]]struct{}),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe registers a handler for events matching the predicate. The
// returned subscription drains matching events in publish order on its own
// goroutine until Unsubscribe or Close.
func (b *Bus[T]) Subscribe(name string, predicate Predicate[T], handler Handler[T]) *Subscription[T] {
	sub := &Subscription[T]{
		name:      name,
		predicate: predicate,
		handler:   handler,
		ch:        make(chan T, b.bufSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.drain(sub)

	return sub
}

// Unsubscribe removes the subscription and stops its drain goroutine.
// Safe to call more than once.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	_, present := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if present {
		close(sub.done)
	}
}

// Publish offers the event to every matching subscriber without blocking.
// When a subscriber's buffer is full the event is dropped for that
// subscriber only; the drop is logged and ErrBusSaturated returned so the
// caller sees back-pressure instead of having it hidden.
func (b *Bus[T]) Publish(event T) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("bus is closed")
	}
	subs := make([]*Subscription[T], 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var dropped []string
	for _, sub := range subs {
		if sub.predicate != nil && !sub.predicate(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped = append(dropped, sub.name)
		}
	}

	if len(dropped) > 0 {
		b.logger.Warnw("Event dropped for saturated subscribers",
			"subscribers", dropped,
		)
		return errors.Wrapf(errors.ErrBusSaturated, "dropped for %d subscriber(s)", len(dropped))
	}
	return nil
}

// Close stops all subscriptions and waits for their drain goroutines.
// Buffered events still pending are discarded.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.done)
	}
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	b.wg.Wait()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// drain delivers buffered events to the handler in order. Handler errors
// and panics are contained here: they never propagate to the publisher or
// to sibling subscribers.
func (b *Bus[T]) drain(sub *Subscription[T]) {
	defer b.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.ch:
			b.deliver(sub, event)
		}
	}
}

func (b *Bus[T]) deliver(sub *Subscription[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Subscriber handler panicked",
				"subscriber", sub.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := sub.handler(event); err != nil {
		b.logger.Errorw("Subscriber handler failed",
			"subscriber", sub.name,
			"error", err,
		)
	}
}
