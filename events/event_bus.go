// Package events provides the process-wide event bus services use to
// communicate without direct dependencies. Handlers run synchronously or
// asynchronously per subscription, with optional retries and a per-handler
// error hook.
package events

import (
	"context"
	"fmt"
	"sync"

	"imp/logger"
)

// Event is anything that can be published on the bus.
type Event interface {
	// Name returns the identifier subscribers match on.
	Name() string
}

// BaseEvent is the plain implementation used for ad-hoc events.
type BaseEvent struct {
	// EventName identifies this event type.
	EventName string
	// Payload carries the event data.
	Payload any
}

// Name returns the event name.
func (e BaseEvent) Name() string {
	return e.EventName
}

// New creates an event with the given name and payload.
func New(name string, payload any) Event {
	return BaseEvent{EventName: name, Payload: payload}
}

// Mode determines how a handler executes.
type Mode int

const (
	// Sync runs the handler on the publisher's goroutine, in subscription
	// order. Publish collects its error.
	Sync Mode = iota
	// Async runs the handler on its own goroutine with optional retries.
	Async
)

// Handler processes one event.
type Handler func(ctx context.Context, event Event) error

// HandlerConfig customises one subscription.
type HandlerConfig struct {
	// Mode selects sync or async execution.
	Mode Mode
	// MaxRetries re-runs a failing async handler up to this many times.
	MaxRetries int
	// OnError is called after a handler (and its retries) failed.
	OnError func(err error, event Event, handlerName string)
}

type subscription struct {
	handler Handler
	config  HandlerConfig
	name    string
}

// Bus routes events to subscribers. It is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	log      logger.Logger
	handlers map[string][]subscription
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBus creates an event bus. Handler failures without a custom OnError
// hook are logged through the given logger.
func NewBus(log logger.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		log:      log.With("boilerplate:event"),
		handlers: make(map[string][]subscription),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers a synchronous handler with default configuration.
func (b *Bus) Subscribe(eventName string, handler Handler) {
	b.SubscribeWithConfig(eventName, handler, HandlerConfig{}, "")
}

// SubscribeWithConfig registers a handler with full control over execution
// mode, retries and error reporting.
func (b *Bus) SubscribeWithConfig(eventName string, handler Handler, config HandlerConfig, handlerName string) {
	if config.OnError == nil {
		config.OnError = func(err error, event Event, handlerName string) {
			b.log.Error(logger.Fields{
				"event":   event.Name(),
				"handler": handlerName,
				"error":   err.Error(),
			}, "event handler failed")
		}
	}
	if handlerName == "" {
		handlerName = fmt.Sprintf("%p", handler)
	}

	b.mu.Lock()
	b.handlers[eventName] = append(b.handlers[eventName], subscription{
		handler: handler,
		config:  config,
		name:    handlerName,
	})
	b.mu.Unlock()
}

// Unsubscribe removes a handler, identified by function pointer.
func (b *Bus) Unsubscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.handlers[eventName]
	if !ok {
		return
	}
	target := fmt.Sprintf("%p", handler)
	for i, s := range subs {
		if fmt.Sprintf("%p", s.handler) == target {
			b.handlers[eventName] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventName]) == 0 {
		delete(b.handlers, eventName)
	}
}

// Publish dispatches an event. Sync handlers run in subscription order and
// their errors are returned; async handlers are fired and forgotten, with
// retries and the error hook applied on their own goroutines.
func (b *Bus) Publish(ctx context.Context, event Event) []error {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event.Name()]))
	copy(subs, b.handlers[event.Name()])
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		switch s.config.Mode {
		case Sync:
			if err := b.run(ctx, s, event); err != nil {
				errs = append(errs, err)
				s.config.OnError(err, event, s.name)
			}
		case Async:
			go func(s subscription) {
				err := b.run(ctx, s, event)
				for retries := 0; err != nil && retries < s.config.MaxRetries; retries++ {
					err = b.run(ctx, s, event)
				}
				if err != nil {
					s.config.OnError(err, event, s.name)
				}
			}(s)
		}
	}
	return errs
}

func (b *Bus) run(ctx context.Context, s subscription, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return b.ctx.Err()
	default:
	}
	return s.handler(ctx, event)
}

// Shutdown stops the bus; pending async handlers observe the cancelled
// context on their next dispatch.
func (b *Bus) Shutdown() {
	b.cancel()
}
