package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/coachsync/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisChannel carries events over Redis Pub/Sub. Every event kind is
// published on "<prefix>:<kind>" and the channel pattern-subscribes to
// "<prefix>:*", so one connection serves all local subscribers.
type RedisChannel struct {
	client     *redis.Client
	prefix     string
	dispatcher *Dispatcher
	logger     zerolog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisChannel creates a channel on top of an existing Redis client.
func NewRedisChannel(client *redis.Client, prefix string, logger zerolog.Logger) *RedisChannel {
	return &RedisChannel{
		client:     client,
		prefix:     strings.TrimSuffix(prefix, ":"),
		dispatcher: NewDispatcher(logger),
		logger:     logger.With().Str("component", "realtime").Str("prefix", prefix).Logger(),
	}
}

// Start subscribes to the event pattern and begins dispatching.
func (c *RedisChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pubsub != nil {
		return nil
	}

	pattern := c.prefix + ":*"
	pubsub := c.client.PSubscribe(ctx, pattern)

	// Wait for the subscription confirmation so no event published after
	// Start returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	c.pubsub = pubsub
	c.done = make(chan struct{})
	go c.run(pubsub.Channel(), c.done)

	c.logger.Info().Str("pattern", pattern).Msg("Realtime channel started")
	return nil
}

func (c *RedisChannel) run(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)

	for msg := range messages {
		ev, err := c.decode(msg)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("channel", msg.Channel).
				Msg("Dropping undecodable realtime event")
			continue
		}

		n := c.dispatcher.Dispatch(ev)
		c.logger.Debug().
			Str("kind", string(ev.Kind)).
			Int("handlers", n).
			Msg("Realtime event dispatched")
	}
}

func (c *RedisChannel) decode(msg *redis.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}

	// The channel name is authoritative for the kind.
	kind := strings.TrimPrefix(msg.Channel, c.prefix+":")
	if kind == "" || kind == msg.Channel {
		return Event{}, fmt.Errorf("unexpected channel %q", msg.Channel)
	}
	ev.Kind = EventKind(kind)
	return ev, nil
}

// Subscribe registers a local handler.
func (c *RedisChannel) Subscribe(kind EventKind, handler Handler) (Disposer, error) {
	return c.dispatcher.Subscribe(kind, handler)
}

// Publish sends ev to every process subscribed to the prefix, this one
// included.
func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	if ev.Kind == "" || ev.Kind == KindAny {
		return fmt.Errorf("cannot publish event of kind %q", ev.Kind)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	channel := c.prefix + ":" + string(ev.Kind)
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// PublishMessageInserted implements storage.EventPublisher.
func (c *RedisChannel) PublishMessageInserted(ctx context.Context, msg storage.Message) error {
	ev, err := MessageInsertedEvent(msg)
	if err != nil {
		return err
	}
	return c.Publish(ctx, ev)
}

// PublishWorkoutChanged implements storage.EventPublisher.
func (c *RedisChannel) PublishWorkoutChanged(ctx context.Context, w storage.Workout) error {
	ev, err := WorkoutChangedEvent(w, time.Now())
	if err != nil {
		return err
	}
	return c.Publish(ctx, ev)
}

// Close unsubscribes, waits for the dispatch loop and drops all handlers.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	pubsub, done := c.pubsub, c.done
	c.pubsub, c.done = nil, nil
	c.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
		<-done
	}
	c.dispatcher.Close()

	c.logger.Info().Msg("Realtime channel closed")
	return err
}
