// Package session caches the signed-in user's in-progress workout.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/metrics"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/goodtune/coachsync/internal/watch"
	"github.com/rs/zerolog"
)

// ErrFinished is returned by Start when the fetched workout has already ended.
var ErrFinished = errors.New("workout already finished")

// Fetcher is the part of storage.WorkoutStore the cache reads from.
type Fetcher interface {
	Get(ctx context.Context, id string) (*storage.Workout, error)
	GetActive(ctx context.Context, userID string) (*storage.Workout, error)
}

// Cache holds at most one active workout session. Reads are synchronous and
// never touch the network; Start and LoadActive do.
type Cache struct {
	store  Fetcher
	clock  clock.Clock
	logger zerolog.Logger

	mu         sync.RWMutex
	current    *Session
	generation uint64

	watchers watch.Watchers[State]
}

// New creates an idle cache. A nil clock uses the wall clock.
func New(store Fetcher, clk clock.Clock, logger zerolog.Logger) *Cache {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Cache{
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "session-cache").Logger(),
	}
}

// Start fetches the workout with the given id and installs it as the active
// session, replacing any previous one. On failure the cached state is left
// as it was and the error is returned after being logged.
func (c *Cache) Start(ctx context.Context, id string) error {
	return c.start(ctx, "", id)
}

// StartFor is Start restricted to workouts owned by userID. Another user's
// workout is reported as storage.ErrNotFound.
func (c *Cache) StartFor(ctx context.Context, userID, id string) error {
	return c.start(ctx, userID, id)
}

func (c *Cache) start(ctx context.Context, owner, id string) error {
	generation := c.currentGeneration()

	start := time.Now()
	w, err := c.store.Get(ctx, id)
	metrics.FetchDuration.WithLabelValues("get_workout").Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
	case owner != "" && w.UserID != owner:
		err = storage.ErrNotFound
	case w.Finished():
		err = ErrFinished
	}
	metrics.RefreshesTotal.WithLabelValues("session", "start", metrics.Result(err)).Inc()

	if err != nil {
		c.logger.Error().Err(err).Str("workout_id", id).Msg("Failed to start session")
		return fmt.Errorf("start session %s: %w", id, err)
	}

	s := fromWorkout(w)
	if !c.setIf(generation, &s) {
		c.logger.Debug().Str("workout_id", id).Msg("Session ended during fetch, discarding")
		return nil
	}

	c.logger.Info().
		Str("workout_id", s.ID).
		Str("user_id", s.UserID).
		Time("started_at", s.StartedAt).
		Msg("Session started")

	return nil
}

// End clears the active session. It makes no network call and is safe to
// call when already idle. Start and LoadActive calls still waiting on the
// store when End runs are discarded.
func (c *Cache) End() {
	c.mu.Lock()
	c.generation++
	c.mu.Unlock()

	if c.set(nil) {
		c.logger.Info().Msg("Session ended")
	}
}

// LoadActive asks the store for the user's unfinished workout and installs
// it, or clears the cache when there is none. Lookup failures also clear the
// cache and are returned after being logged.
func (c *Cache) LoadActive(ctx context.Context, userID string) error {
	if userID == "" {
		c.End()
		return nil
	}

	generation := c.currentGeneration()

	start := time.Now()
	w, err := c.store.GetActive(ctx, userID)
	metrics.FetchDuration.WithLabelValues("get_active_workout").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, storage.ErrNotFound):
		metrics.RefreshesTotal.WithLabelValues("session", "load_active", "ok").Inc()
		c.setIf(generation, nil)
		c.logger.Debug().Str("user_id", userID).Msg("No active session")
		return nil
	case err != nil:
		metrics.RefreshesTotal.WithLabelValues("session", "load_active", "error").Inc()
		c.setIf(generation, nil)
		c.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load active session")
		return fmt.Errorf("load active session for %s: %w", userID, err)
	}

	metrics.RefreshesTotal.WithLabelValues("session", "load_active", "ok").Inc()
	s := fromWorkout(w)
	if !c.setIf(generation, &s) {
		c.logger.Debug().Str("user_id", userID).Msg("Session ended during fetch, discarding")
		return nil
	}

	c.logger.Info().
		Str("workout_id", s.ID).
		Str("user_id", userID).
		Msg("Active session restored")

	return nil
}

// IsActive reports whether a session is cached.
func (c *Cache) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// Session returns a copy of the active session, or nil when idle.
func (c *Cache) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	s := *c.current
	return &s
}

// ElapsedStart returns the active session's start as epoch milliseconds.
// ok is false when idle.
func (c *Cache) ElapsedStart() (ms int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return 0, false
	}
	return c.current.ElapsedStart(), true
}

// Elapsed returns how long the active session has been running.
func (c *Cache) Elapsed() (time.Duration, bool) {
	s := c.Session()
	if s == nil {
		return 0, false
	}
	return s.Elapsed(c.clock.Now()), true
}

// Watch registers fn to be called after every state change. The returned
// function unregisters it.
func (c *Cache) Watch(fn func(State)) func() {
	return c.watchers.Add(fn)
}

func (c *Cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// setIf installs s only if End has not run since generation was read. It
// reports whether s was installed.
func (c *Cache) setIf(generation uint64, s *Session) bool {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return false
	}
	changed := c.swapLocked(s)
	c.mu.Unlock()

	c.publish(s, changed)
	return true
}

// set installs s (nil for idle) and reports whether the state changed.
func (c *Cache) set(s *Session) bool {
	c.mu.Lock()
	changed := c.swapLocked(s)
	c.mu.Unlock()

	c.publish(s, changed)
	return changed
}

func (c *Cache) swapLocked(s *Session) bool {
	changed := !sameSession(c.current, s)
	c.current = s
	return changed
}

func (c *Cache) publish(s *Session, changed bool) {
	if s != nil {
		metrics.ActiveWorkout.Set(1)
	} else {
		metrics.ActiveWorkout.Set(0)
	}

	if changed {
		state := State{Active: s != nil}
		if s != nil {
			cp := *s
			state.Session = &cp
		}
		c.watchers.Notify(state)
	}
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.UserID == b.UserID && a.Name == b.Name && a.StartedAt.Equal(b.StartedAt)
}
