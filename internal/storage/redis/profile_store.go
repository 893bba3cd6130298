package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

type profileStore struct {
	client      *redis.Client
	clock       clock.Clock
	names       *lru.Cache[string, string]
	presenceTTL time.Duration
}

// Get retrieves a profile by user ID
func (s *profileStore) Get(ctx context.Context, userID string) (*storage.Profile, error) {
	data, err := s.client.HGetAll(ctx, profileKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	return parseProfile(data)
}

// Upsert creates or updates a profile
func (s *profileStore) Upsert(ctx context.Context, profile storage.Profile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	role, err := storage.ParseRole(string(profile.Role))
	if err != nil {
		return err
	}

	err = s.client.HSet(ctx, profileKey(profile.ID),
		"id", profile.ID,
		"display_name", profile.DisplayName,
		"role", string(role),
		"updated_at", s.clock.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return err
	}

	s.names.Remove(profile.ID)
	return nil
}

// TouchPresence marks the user online for the presence TTL
func (s *profileStore) TouchPresence(ctx context.Context, userID string) error {
	return s.client.Set(ctx, presenceKey(userID), s.clock.Now().UTC().Format(time.RFC3339Nano), s.presenceTTL).Err()
}

// IsOnline reports whether the user's presence key is live
func (s *profileStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// displayName resolves a user's display name through the LRU. Users without
// a profile (or with an empty name) are shown by id and not cached.
func (s *profileStore) displayName(ctx context.Context, userID string) (string, error) {
	if name, ok := s.names.Get(userID); ok {
		return name, nil
	}

	profile, err := s.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return userID, nil
	}
	if err != nil {
		return "", err
	}
	if profile.DisplayName == "" {
		return userID, nil
	}

	s.names.Add(userID, profile.DisplayName)
	return profile.DisplayName, nil
}
