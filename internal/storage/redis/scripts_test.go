package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestCreateWorkoutScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	run := func(id string) string {
		t.Helper()
		res, err := client.Eval(ctx, createWorkoutScript, []string{
			workoutKey(id),
			activeWorkoutKey("user-1"),
			userWorkoutsKey("user-1"),
		}, id, "user-1", "Session "+id, "2026-03-14T07:30:00Z", 1000).Text()
		if err != nil {
			t.Fatalf("Script execution failed: %v", err)
		}
		return res
	}

	if prev := run("w-1"); prev != "" {
		t.Errorf("Expected no previous active workout, got %q", prev)
	}
	if prev := run("w-2"); prev != "w-1" {
		t.Errorf("Expected previous active w-1, got %q", prev)
	}

	active, err := client.Get(ctx, activeWorkoutKey("user-1")).Result()
	if err != nil {
		t.Fatalf("Failed to read active pointer: %v", err)
	}
	if active != "w-2" {
		t.Errorf("Expected active w-2, got %s", active)
	}

	members, err := client.ZCard(ctx, userWorkoutsKey("user-1")).Result()
	if err != nil {
		t.Fatalf("ZCard failed: %v", err)
	}
	if members != 2 {
		t.Errorf("Expected 2 workouts in user index, got %d", members)
	}

	endedAt, _ := client.HGet(ctx, workoutKey("w-1"), "ended_at").Result()
	if endedAt != "" {
		t.Errorf("Expected replaced workout to remain unfinished, got ended_at=%q", endedAt)
	}
}

func TestFinishWorkoutScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		setup      func()
		workoutID  string
		want       string
		wantActive bool
	}{
		{
			name:      "missing workout",
			setup:     func() {},
			workoutID: "w-missing",
			want:      "NOT_FOUND",
		},
		{
			name: "finish active workout",
			setup: func() {
				client.HSet(ctx, workoutKey("w-1"), "id", "w-1", "ended_at", "")
				client.Set(ctx, activeWorkoutKey("user-1"), "w-1", 0)
			},
			workoutID:  "w-1",
			want:       "OK",
			wantActive: false,
		},
		{
			name: "already finished",
			setup: func() {
				client.HSet(ctx, workoutKey("w-2"), "id", "w-2", "ended_at", "2026-03-14T08:00:00Z")
			},
			workoutID: "w-2",
			want:      "ALREADY_FINISHED",
		},
		{
			name: "finish non-active workout keeps pointer",
			setup: func() {
				client.HSet(ctx, workoutKey("w-3"), "id", "w-3", "ended_at", "")
				client.Set(ctx, activeWorkoutKey("user-1"), "w-4", 0)
			},
			workoutID:  "w-3",
			want:       "OK",
			wantActive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()

			got, err := client.Eval(ctx, finishWorkoutScript, []string{
				workoutKey(tt.workoutID),
				activeWorkoutKey("user-1"),
			}, tt.workoutID, "2026-03-14T09:00:00Z").Text()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}

			if tt.want != "OK" {
				return
			}
			exists := client.Exists(ctx, activeWorkoutKey("user-1")).Val() > 0
			if exists != tt.wantActive {
				t.Errorf("Expected active pointer exists=%v, got %v", tt.wantActive, exists)
			}
			if ttl := client.TTL(ctx, workoutKey(tt.workoutID)).Val(); ttl <= 0 {
				t.Errorf("Expected TTL on finished workout, got %v", ttl)
			}
		})
	}
}

func TestSendMessageScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	conv := "a:b"
	keys := []string{
		conversationKey(conv),
		conversationMessagesKey(conv),
		conversationUnreadKey(conv),
		userConversationsKey("a"),
		userConversationsKey("b"),
	}

	for i, body := range []string{"first", "second", "third"} {
		unread, err := client.Eval(ctx, sendMessageScript, keys,
			conv, "a", "b", body, "2026-03-14T07:30:00Z", 1000+i, `{"body":"`+body+`"}`, 2).Int()
		if err != nil {
			t.Fatalf("Script execution failed: %v", err)
		}
		if unread != i+1 {
			t.Errorf("Expected recipient unread %d, got %d", i+1, unread)
		}
	}

	data := client.HGetAll(ctx, conversationKey(conv)).Val()
	if data["last_message"] != "third" {
		t.Errorf("Expected last_message=third, got %s", data["last_message"])
	}
	if data["participant_a"] != "a" || data["participant_b"] != "b" {
		t.Errorf("Unexpected participants: %v", data)
	}

	// Log is trimmed to max_messages
	if n := client.LLen(ctx, conversationMessagesKey(conv)).Val(); n != 2 {
		t.Errorf("Expected trimmed log of 2, got %d", n)
	}

	if v := client.HGet(ctx, conversationUnreadKey(conv), "a").Val(); v != "0" {
		t.Errorf("Expected sender unread 0, got %s", v)
	}

	for _, user := range []string{"a", "b"} {
		score, err := client.ZScore(ctx, userConversationsKey(user), conv).Result()
		if err != nil {
			t.Fatalf("ZScore failed for %s: %v", user, err)
		}
		if score != 1002 {
			t.Errorf("Expected index score 1002 for %s, got %v", user, score)
		}
	}
}
