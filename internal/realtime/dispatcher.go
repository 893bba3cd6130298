package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/coachsync/internal/metrics"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/rs/zerolog"
)

// Dispatcher fans events out to registered handlers. It is usable on its own
// as an in-process channel and is the delivery half of RedisChannel.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventKind]map[uint64]Handler
	closed   bool
	logger   zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[EventKind]map[uint64]Handler),
		logger:   logger.With().Str("component", "realtime-dispatcher").Logger(),
	}
}

// Subscribe registers handler for kind. Use KindAny to receive everything.
func (d *Dispatcher) Subscribe(kind EventKind, handler Handler) (Disposer, error) {
	if handler == nil {
		panic("realtime: nil handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	d.nextID++
	id := d.nextID
	if d.handlers[kind] == nil {
		d.handlers[kind] = make(map[uint64]Handler)
	}
	d.handlers[kind][id] = handler
	metrics.RealtimeSubscribers.Inc()

	d.logger.Debug().
		Str("kind", string(kind)).
		Uint64("subscription", id).
		Msg("Handler subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(kind, id) })
	}, nil
}

func (d *Dispatcher) remove(kind EventKind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[kind][id]; !ok {
		return
	}
	delete(d.handlers[kind], id)
	if len(d.handlers[kind]) == 0 {
		delete(d.handlers, kind)
	}
	metrics.RealtimeSubscribers.Dec()

	d.logger.Debug().
		Str("kind", string(kind)).
		Uint64("subscription", id).
		Msg("Handler disposed")
}

// Dispatch delivers ev to every matching handler and returns how many ran.
// Handlers run on the caller's goroutine, outside the dispatcher lock.
func (d *Dispatcher) Dispatch(ev Event) int {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return 0
	}
	targets := make([]Handler, 0, len(d.handlers[ev.Kind])+len(d.handlers[KindAny]))
	for _, h := range d.handlers[ev.Kind] {
		targets = append(targets, h)
	}
	if ev.Kind != KindAny {
		for _, h := range d.handlers[KindAny] {
			targets = append(targets, h)
		}
	}
	d.mu.RUnlock()

	metrics.RealtimeEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	for _, h := range targets {
		d.invoke(h, ev)
	}
	return len(targets)
}

func (d *Dispatcher) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Str("kind", string(ev.Kind)).
				Msg("Realtime handler panicked")
		}
	}()
	h(ev)
}

// Publish dispatches ev locally.
func (d *Dispatcher) Publish(_ context.Context, ev Event) error {
	d.Dispatch(ev)
	return nil
}

// PublishMessageInserted implements storage.EventPublisher for in-process use.
func (d *Dispatcher) PublishMessageInserted(ctx context.Context, msg storage.Message) error {
	ev, err := MessageInsertedEvent(msg)
	if err != nil {
		return err
	}
	return d.Publish(ctx, ev)
}

// PublishWorkoutChanged implements storage.EventPublisher for in-process use.
func (d *Dispatcher) PublishWorkoutChanged(ctx context.Context, w storage.Workout) error {
	ev, err := WorkoutChangedEvent(w, time.Now())
	if err != nil {
		return err
	}
	return d.Publish(ctx, ev)
}

// Subscribers returns the number of registered handlers.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, hs := range d.handlers {
		n += len(hs)
	}
	return n
}

// Close drops every handler and rejects new subscriptions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for _, hs := range d.handlers {
		metrics.RealtimeSubscribers.Sub(float64(len(hs)))
	}
	d.handlers = make(map[EventKind]map[uint64]Handler)
}
