package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 1000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type subscription struct {
	h        Handler
	pool     chan struct{}
	timeout  time.Duration
	ordering *Ordering
}

// Ordering makes the subscriptions sharing it receive events one at a time, in publish order.
// Publishers never wait for ordered handlers.
type Ordering struct {
	mu       sync.Mutex
	queue    []delivery
	draining bool
}

type delivery struct {
	ctx context.Context
	s   *subscription
	e   Event
}

func NewOrdering() *Ordering {
	return &Ordering{}
}

// Bus is an in-memory event bus. Every subscription owns its worker pool, so a slow handler
// only delays deliveries to itself.
type Bus struct {
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]*subscription
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]*subscription),
	}
}

type SubscribeOption func(s *subscription)

// WithPoolSize caps the number of concurrently running deliveries for one subscription.
func WithPoolSize(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.pool = make(chan struct{}, n)
		}
	}
}

func WithTimeout(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOrdering delivers through o instead of the worker pool.
func WithOrdering(o *Ordering) SubscribeOption {
	return func(s *subscription) {
		s.ordering = o
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscribeOption) {
	s := &subscription{
		h:       h,
		pool:    make(chan struct{}, defaultPoolSize),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], s)
}

// Publish an event
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.handlers[e.Name()] {
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, s *subscription, e Event) {
	b.wg.Add(1)

	if o := s.ordering; o != nil {
		o.mu.Lock()
		o.queue = append(o.queue, delivery{ctx: ctx, s: s, e: e})
		if o.draining {
			o.mu.Unlock()
			return
		}
		o.draining = true
		o.mu.Unlock()

		go b.drain(o)
		return
	}

	s.pool <- struct{}{}

	go func() {
		defer func() {
			<-s.pool
			b.wg.Done()
		}()

		b.handle(ctx, s, e)
	}()
}

func (b *Bus) drain(o *Ordering) {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.draining = false
			o.mu.Unlock()
			return
		}
		d := o.queue[0]
		o.queue[0] = delivery{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		b.handle(d.ctx, d.s, d.e)
		b.wg.Done()
	}
}

func (b *Bus) handle(ctx context.Context, s *subscription, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
		cancel()
	}()

	if err := s.h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
