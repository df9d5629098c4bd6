package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agenthub/internal/domain"
)

// handlerQueueDepth bounds each subscription's pending events. A handler
// that falls this far behind loses events rather than stalling publishers.
const handlerQueueDepth = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns an ordered queue and the single goroutine draining it,
// so each handler observes events in publish order.
type subscription struct {
	id       uint64
	handler  domain.EventHandler
	queue    chan delivery
	quit     chan struct{}
	stopOnce sync.Once
}

func (s *subscription) shutdown() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Bus is an in-process, goroutine-safe event bus. Workers publish result
// and lifecycle events here; the fanout layer subscribes. Delivery to each
// subscription is serialized: one event at a time, in publish order.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish enqueues an event for matching typed subscribers and all-event
// subscribers. A subscription whose queue is full loses the event.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	targets = append(targets, b.typed[event.Type]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- delivery{ctx: ctx, event: event}:
		default:
			b.logger.Warn("dropping event for slow handler", "event", string(event.Type))
		}
	}
}

func (b *Bus) newSubscription(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		queue:   make(chan delivery, handlerQueueDepth),
		quit:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.drain(sub)
	return sub
}

// drain delivers one event at a time. On shutdown it flushes what is
// already queued before exiting.
func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.quit:
			for {
				select {
				case d := <-sub.queue:
					b.invoke(sub, d)
				default:
					return
				}
			}
		case d := <-sub.queue:
			b.invoke(sub, d)
		}
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				b.typed[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.shutdown()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.shutdown()
	}
}

// Close prevents new publishes, flushes queued events, and waits for
// in-flight handlers to finish. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	subs := append([]*subscription{}, b.allSubs...)
	for _, list := range b.typed {
		subs = append(subs, list...)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	b.wg.Wait()
}
