package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type workoutStore struct {
	client *redis.Client
	clock  clock.Clock
	events *eventSink
}

// Create starts a new workout and makes it the user's active one
func (s *workoutStore) Create(ctx context.Context, userID, name string) (*storage.Workout, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Workout"
	}

	workout := storage.Workout{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		StartedAt: s.clock.Now().UTC(),
	}

	script := redis.NewScript(createWorkoutScript)
	keys := []string{workoutKey(workout.ID), activeWorkoutKey(userID), userWorkoutsKey(userID)}
	args := []interface{}{
		workout.ID,
		workout.UserID,
		workout.Name,
		workout.StartedAt.Format(time.RFC3339Nano),
		workout.StartedAt.UnixMilli(),
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return nil, fmt.Errorf("failed to create workout: %w", err)
	}

	s.events.workoutChanged(ctx, workout)
	return &workout, nil
}

// Get retrieves a workout by ID
func (s *workoutStore) Get(ctx context.Context, id string) (*storage.Workout, error) {
	data, err := s.client.HGetAll(ctx, workoutKey(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseWorkout(data)
}

// GetActive returns the user's unfinished workout
func (s *workoutStore) GetActive(ctx context.Context, userID string) (*storage.Workout, error) {
	id, err := s.client.Get(ctx, activeWorkoutKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	workout, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// A dangling pointer to a finished or foreign workout means no active one
	if workout.Finished() || workout.UserID != userID {
		return nil, storage.ErrNotFound
	}

	return workout, nil
}

// Finish marks a workout as completed. Finishing twice is not an error.
func (s *workoutStore) Finish(ctx context.Context, id string) error {
	workout, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	endedAt := s.clock.Now().UTC()
	script := redis.NewScript(finishWorkoutScript)
	keys := []string{workoutKey(id), activeWorkoutKey(workout.UserID)}

	result, err := script.Run(ctx, s.client, keys, id, endedAt.Format(time.RFC3339Nano)).Text()
	if err != nil {
		return fmt.Errorf("failed to finish workout: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return storage.ErrNotFound
	case "ALREADY_FINISHED":
		return nil
	}

	workout.EndedAt = &endedAt
	s.events.workoutChanged(ctx, *workout)
	return nil
}
