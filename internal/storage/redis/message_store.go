package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxConversationMessages bounds the per-conversation message log.
const maxConversationMessages = 500

type messageStore struct {
	client   *redis.Client
	clock    clock.Clock
	events   *eventSink
	profiles *profileStore
}

// Send stores a message and publishes a message_inserted event
func (s *messageStore) Send(ctx context.Context, msg storage.Message) (*storage.Message, error) {
	msg.Body = strings.TrimSpace(msg.Body)
	switch {
	case msg.SenderID == "" || msg.RecipientID == "":
		return nil, fmt.Errorf("sender and recipient are required")
	case msg.SenderID == msg.RecipientID:
		return nil, fmt.Errorf("cannot send a message to yourself")
	case msg.Body == "":
		return nil, fmt.Errorf("message body is empty")
	}

	msg.ID = uuid.NewString()
	msg.ConversationID = storage.ConversationID(msg.SenderID, msg.RecipientID)
	msg.SentAt = s.clock.Now().UTC()

	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	script := redis.NewScript(sendMessageScript)
	keys := []string{
		conversationKey(msg.ConversationID),
		conversationMessagesKey(msg.ConversationID),
		conversationUnreadKey(msg.ConversationID),
		userConversationsKey(msg.SenderID),
		userConversationsKey(msg.RecipientID),
	}
	args := []interface{}{
		msg.ConversationID,
		msg.SenderID,
		msg.RecipientID,
		msg.Body,
		msg.SentAt.Format(time.RFC3339Nano),
		msg.SentAt.UnixMilli(),
		string(encoded),
		maxConversationMessages,
	}

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	s.events.messageInserted(ctx, msg)
	return &msg, nil
}

// ListPreviews returns one preview per conversation the user takes part in,
// most recent first
func (s *messageStore) ListPreviews(ctx context.Context, userID string) ([]storage.ConversationPreview, error) {
	ids, err := s.client.ZRevRange(ctx, userConversationsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.ConversationPreview{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	convCmds := make([]*redis.MapStringStringCmd, len(ids))
	unreadCmds := make([]*redis.StringCmd, len(ids))

	for i, id := range ids {
		convCmds[i] = pipe.HGetAll(ctx, conversationKey(id))
		unreadCmds[i] = pipe.HGet(ctx, conversationUnreadKey(id), userID)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	previews := make([]storage.ConversationPreview, 0, len(ids))
	for i := range ids {
		data, err := convCmds[i].Result()
		if err != nil || len(data) == 0 {
			continue
		}

		unread, err := unreadCmds[i].Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}

		preview, err := parsePreview(data, userID, unread)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", ids[i], err)
		}
		previews = append(previews, *preview)
	}

	if err := s.decorate(ctx, previews); err != nil {
		return nil, err
	}

	return previews, nil
}

// decorate fills counterpart names and presence
func (s *messageStore) decorate(ctx context.Context, previews []storage.ConversationPreview) error {
	pipe := s.client.Pipeline()
	presence := make([]*redis.IntCmd, len(previews))
	for i := range previews {
		presence[i] = pipe.Exists(ctx, presenceKey(previews[i].CounterpartID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	for i := range previews {
		previews[i].Online = presence[i].Val() > 0

		name, err := s.profiles.displayName(ctx, previews[i].CounterpartID)
		if err != nil {
			return err
		}
		previews[i].CounterpartName = name
	}
	return nil
}

// ListMessages returns up to limit of the most recent messages, oldest first
func (s *messageStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]storage.Message, error) {
	if limit <= 0 || limit > maxConversationMessages {
		limit = maxConversationMessages
	}

	raw, err := s.client.LRange(ctx, conversationMessagesKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]storage.Message, 0, len(raw))
	for _, item := range raw {
		var msg storage.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// MarkRead resets the user's unread count for a conversation
func (s *messageStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	exists, err := s.client.Exists(ctx, conversationKey(conversationID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	return s.client.HSet(ctx, conversationUnreadKey(conversationID), userID, 0).Err()
}
