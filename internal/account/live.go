// Package account ties the live caches to the signed-in user.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/notify"
	"github.com/goodtune/coachsync/internal/realtime"
	"github.com/goodtune/coachsync/internal/session"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrSignedOut is returned by operations that need a signed-in user.
	ErrSignedOut = errors.New("no user signed in")
	// ErrNoActiveWorkout is returned by FinishWorkout when the cache is idle.
	ErrNoActiveWorkout = errors.New("no active workout")
)

// Live owns the session cache and notification aggregator for whoever is
// signed in. A nil channel disables realtime refreshes.
type Live struct {
	store   storage.Store
	channel realtime.Channel
	logger  zerolog.Logger

	sessions      *session.Cache
	notifications *notify.Aggregator

	mu             sync.Mutex
	userID         string
	workoutDispose realtime.Disposer
	workoutEvents  sync.WaitGroup
}

// New creates a signed-out Live.
func New(store storage.Store, channel realtime.Channel, clk clock.Clock, cfg notify.Config, logger zerolog.Logger) *Live {
	return &Live{
		store:         store,
		channel:       channel,
		logger:        logger.With().Str("component", "account").Logger(),
		sessions:      session.New(store.Workouts(), clk, logger),
		notifications: notify.New(store.Messages(), cfg, logger),
	}
}

// Sessions returns the active workout cache.
func (l *Live) Sessions() *session.Cache {
	return l.sessions
}

// Notifications returns the conversation preview aggregator.
func (l *Live) Notifications() *notify.Aggregator {
	return l.notifications
}

// UserID returns the signed-in user, or "" when signed out.
func (l *Live) UserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID
}

// SignIn makes userID the current identity. The active workout is restored,
// previews are refreshed once and realtime subscriptions are opened. Fetch
// failures are logged but do not fail the sign-in; the caches stay in their
// safe default state.
func (l *Live) SignIn(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("sign in: user id is required")
	}

	l.mu.Lock()
	if l.userID != "" && l.userID != userID {
		l.signOutLocked()
	}
	l.userID = userID
	l.mu.Unlock()

	if err := l.store.Profiles().TouchPresence(ctx, userID); err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to record presence")
	}

	if l.channel != nil {
		if err := l.notifications.Subscribe(l.channel); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		if err := l.watchWorkouts(userID); err != nil {
			l.notifications.Unsubscribe()
			return fmt.Errorf("sign in: %w", err)
		}
	}

	_ = l.sessions.LoadActive(ctx, userID)
	_ = l.notifications.SetUser(ctx, userID)

	l.logger.Info().
		Str("user_id", userID).
		Bool("active_workout", l.sessions.IsActive()).
		Int("unread", l.notifications.UnreadTotal()).
		Msg("Signed in")

	return nil
}

// watchWorkouts reloads the active workout when another client starts or
// finishes one for this user.
func (l *Live) watchWorkouts(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.workoutDispose != nil {
		l.workoutDispose()
	}

	dispose, err := l.channel.Subscribe(realtime.EventWorkoutChanged, func(ev realtime.Event) {
		var payload realtime.WorkoutChanged
		if err := ev.Decode(&payload); err != nil {
			l.logger.Debug().Err(err).Msg("Ignoring undecodable workout event")
			return
		}
		if payload.UserID != userID {
			return
		}

		l.workoutEvents.Add(1)
		go func() {
			defer l.workoutEvents.Done()
			if l.UserID() != userID {
				return
			}
			_ = l.sessions.LoadActive(context.Background(), userID)
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", realtime.EventWorkoutChanged, err)
	}
	l.workoutDispose = dispose
	return nil
}

// SignOut clears both caches and releases realtime subscriptions.
func (l *Live) SignOut() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signOutLocked()
}

func (l *Live) signOutLocked() {
	if l.workoutDispose != nil {
		l.workoutDispose()
		l.workoutDispose = nil
	}
	l.notifications.Unsubscribe()
	l.sessions.End()
	l.notifications.Reset()

	if l.userID != "" {
		l.logger.Info().Str("user_id", l.userID).Msg("Signed out")
	}
	l.userID = ""
}

// StartWorkout creates a workout for the signed-in user and makes it the
// active session.
func (l *Live) StartWorkout(ctx context.Context, name string) (*session.Session, error) {
	userID := l.UserID()
	if userID == "" {
		return nil, ErrSignedOut
	}

	w, err := l.store.Workouts().Create(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("create workout: %w", err)
	}
	if err := l.sessions.StartFor(ctx, userID, w.ID); err != nil {
		return nil, err
	}
	return l.sessions.Session(), nil
}

// ResumeWorkout installs one of the signed-in user's existing workouts as the
// active session. Workouts owned by someone else are reported as not found.
func (l *Live) ResumeWorkout(ctx context.Context, id string) (*session.Session, error) {
	userID := l.UserID()
	if userID == "" {
		return nil, ErrSignedOut
	}
	if err := l.sessions.StartFor(ctx, userID, id); err != nil {
		return nil, err
	}
	return l.sessions.Session(), nil
}

// FinishWorkout ends the active workout in the store and clears the cache.
func (l *Live) FinishWorkout(ctx context.Context) error {
	if l.UserID() == "" {
		return ErrSignedOut
	}
	s := l.sessions.Session()
	if s == nil {
		return ErrNoActiveWorkout
	}

	if err := l.store.Workouts().Finish(ctx, s.ID); err != nil {
		return fmt.Errorf("finish workout %s: %w", s.ID, err)
	}
	l.sessions.End()
	return nil
}

// MarkRead zeroes the signed-in user's unread count for a conversation and
// refreshes the previews.
func (l *Live) MarkRead(ctx context.Context, conversationID string) error {
	userID := l.UserID()
	if userID == "" {
		return ErrSignedOut
	}
	if err := l.store.Messages().MarkRead(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("mark %s read: %w", conversationID, err)
	}
	return l.notifications.Refresh(ctx)
}

// Reload re-runs both refreshes for the signed-in user.
func (l *Live) Reload(ctx context.Context) error {
	userID := l.UserID()
	if userID == "" {
		return ErrSignedOut
	}
	return errors.Join(
		l.sessions.LoadActive(ctx, userID),
		l.notifications.Refresh(ctx),
	)
}

// Close signs out and waits for event-triggered work to finish.
func (l *Live) Close() {
	l.SignOut()
	l.notifications.Close()
	l.workoutEvents.Wait()
}
