package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Workouts() WorkoutStore
	Messages() MessageStore
	Profiles() ProfileStore
}

// WorkoutStore manages workout sessions.
type WorkoutStore interface {
	// Create starts a new workout for userID. Any unfinished workout the user
	// already has is replaced as the active one.
	Create(ctx context.Context, userID, name string) (*Workout, error)
	Get(ctx context.Context, id string) (*Workout, error)
	// GetActive returns the user's unfinished workout or ErrNotFound.
	GetActive(ctx context.Context, userID string) (*Workout, error)
	Finish(ctx context.Context, id string) error
}

// MessageStore manages conversations and their messages.
type MessageStore interface {
	Send(ctx context.Context, msg Message) (*Message, error)
	ListPreviews(ctx context.Context, userID string) ([]ConversationPreview, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// ProfileStore manages user profiles and presence.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Upsert(ctx context.Context, profile Profile) error
	TouchPresence(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// EventPublisher is notified after records are written so that realtime
// subscribers can react.
type EventPublisher interface {
	PublishMessageInserted(ctx context.Context, msg Message) error
	PublishWorkoutChanged(ctx context.Context, workout Workout) error
}
