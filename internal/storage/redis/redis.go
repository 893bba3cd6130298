package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/config"
	"github.com/goodtune/coachsync/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "coachsync"

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	workoutStore *workoutStore
	messageStore *messageStore
	profileStore *profileStore
}

// Option customises a Store.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// WithClock overrides the time source used for record timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for non-fatal store warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.StorageConfig, opts ...Option) (*Store, error) {
	o := options{clock: clock.RealClock{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	rc := cfg.Redis

	// Parse timeouts
	dialTimeout, err := time.ParseDuration(rc.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(rc.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(rc.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	presenceTTL, err := time.ParseDuration(cfg.PresenceTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid presence_ttl: %w", err)
	}

	cacheSize := cfg.ProfileCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	names, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}

	// Determine address
	addr := rc.Host
	if rc.Port > 0 {
		addr = fmt.Sprintf("%s:%d", rc.Host, rc.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger := o.logger.With().Str("component", "redis-store").Logger()
	events := &eventSink{logger: logger}

	profiles := &profileStore{
		client:      client,
		clock:       o.clock,
		names:       names,
		presenceTTL: presenceTTL,
	}

	store := &Store{
		client:       client,
		workoutStore: &workoutStore{client: client, clock: o.clock, events: events},
		messageStore: &messageStore{client: client, clock: o.clock, events: events, profiles: profiles},
		profileStore: profiles,
	}

	return store, nil
}

// Client exposes the underlying connection so that the realtime channel can
// share it.
func (s *Store) Client() *redis.Client {
	return s.client
}

// SetPublisher installs the realtime publisher notified after writes.
// Must be called before the store is used concurrently.
func (s *Store) SetPublisher(p storage.EventPublisher) {
	s.workoutStore.events.publisher = p
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Workouts returns the WorkoutStore implementation
func (s *Store) Workouts() storage.WorkoutStore {
	return s.workoutStore
}

// Messages returns the MessageStore implementation
func (s *Store) Messages() storage.MessageStore {
	return s.messageStore
}

// Profiles returns the ProfileStore implementation
func (s *Store) Profiles() storage.ProfileStore {
	return s.profileStore
}

// eventSink forwards write notifications to an optional publisher. A failed
// publish never fails the write that triggered it.
type eventSink struct {
	publisher storage.EventPublisher
	logger    zerolog.Logger
}

func (e *eventSink) messageInserted(ctx context.Context, msg storage.Message) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishMessageInserted(ctx, msg); err != nil {
		e.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Msg("Failed to publish message_inserted event")
	}
}

func (e *eventSink) workoutChanged(ctx context.Context, w storage.Workout) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishWorkoutChanged(ctx, w); err != nil {
		e.logger.Warn().
			Err(err).
			Str("workout_id", w.ID).
			Msg("Failed to publish workout_changed event")
	}
}

func workoutKey(id string) string {
	return fmt.Sprintf("%s:workout:%s", keyPrefix, id)
}

func activeWorkoutKey(userID string) string {
	return fmt.Sprintf("%s:workouts:active:%s", keyPrefix, userID)
}

func userWorkoutsKey(userID string) string {
	return fmt.Sprintf("%s:workouts:user:%s", keyPrefix, userID)
}

func conversationKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s", keyPrefix, id)
}

func conversationMessagesKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", keyPrefix, id)
}

func conversationUnreadKey(id string) string {
	return fmt.Sprintf("%s:conversation:%s:unread", keyPrefix, id)
}

func userConversationsKey(userID string) string {
	return fmt.Sprintf("%s:conversations:user:%s", keyPrefix, userID)
}

func profileKey(userID string) string {
	return fmt.Sprintf("%s:profile:%s", keyPrefix, userID)
}

func presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", keyPrefix, userID)
}
