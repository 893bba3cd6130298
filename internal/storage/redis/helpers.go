package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/coachsync/internal/storage"
)

// parseWorkout converts a Redis hash to Workout
func parseWorkout(data map[string]string) (*storage.Workout, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	workout := &storage.Workout{
		ID:        data["id"],
		UserID:    data["user_id"],
		Name:      data["name"],
		StartedAt: startedAt,
	}

	if raw := data["ended_at"]; raw != "" {
		endedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		workout.EndedAt = &endedAt
	}

	return workout, nil
}

// parseProfile converts a Redis hash to Profile
func parseProfile(data map[string]string) (*storage.Profile, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	role, err := storage.ParseRole(data["role"])
	if err != nil {
		return nil, err
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Profile{
		ID:          data["id"],
		DisplayName: data["display_name"],
		Role:        role,
		UpdatedAt:   updatedAt,
	}, nil
}

// parsePreview converts a conversation hash to a preview for userID. Display
// name and presence are filled in by the caller.
func parsePreview(data map[string]string, userID, unread string) (*storage.ConversationPreview, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	counterpart := data["participant_a"]
	if counterpart == userID {
		counterpart = data["participant_b"]
	}

	preview := &storage.ConversationPreview{
		ConversationID: data["id"],
		CounterpartID:  counterpart,
		LastMessage:    data["last_message"],
	}

	if raw := data["last_message_at"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_message_at: %w", err)
		}
		preview.LastMessageAt = at
	}

	if unread != "" {
		count, err := strconv.Atoi(unread)
		if err != nil {
			return nil, fmt.Errorf("failed to parse unread count: %w", err)
		}
		if count < 0 {
			count = 0
		}
		preview.UnreadCount = count
	}

	return preview, nil
}
