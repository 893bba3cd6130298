package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/coachsync/internal/clock"
	"github.com/goodtune/coachsync/internal/config"
	"github.com/goodtune/coachsync/internal/storage"
)

var testStart = time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *clock.TestClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	clk := clock.NewTestClock(testStart)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.StorageConfig{
		Type: "redis",
		Redis: config.RedisConfig{
			Host:         mr.Addr(),
			Port:         0,
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  "5s",
			ReadTimeout:  "3s",
			WriteTimeout: "3s",
		},
		ProfileCacheSize: 16,
		PresenceTTL:      "2m",
	}

	store, err := Open(cfg, WithClock(clk))
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr, clk
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []storage.Message
	workouts []storage.Workout
}

func (p *recordingPublisher) PublishMessageInserted(_ context.Context, msg storage.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) PublishWorkoutChanged(_ context.Context, w storage.Workout) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workouts = append(p.workouts, w)
	return nil
}

func TestWorkoutStore_CreateAndGet(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()

	created, err := store.Workouts().Create(ctx, "athlete-1", "Leg day")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Expected generated workout ID")
	}

	got, err := store.Workouts().Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Leg day" {
		t.Errorf("Expected name Leg day, got %s", got.Name)
	}
	if got.UserID != "athlete-1" {
		t.Errorf("Expected user athlete-1, got %s", got.UserID)
	}
	if !got.StartedAt.Equal(testStart) {
		t.Errorf("Expected StartedAt %v, got %v", testStart, got.StartedAt)
	}
	if got.Finished() {
		t.Error("New workout should not be finished")
	}
}

func TestWorkoutStore_GetMissing(t *testing.T) {
	store, _, _ := setupTestStore(t)

	_, err := store.Workouts().Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWorkoutStore_GetActive(t *testing.T) {
	store, _, clk := setupTestStore(t)
	ctx := context.Background()
	workouts := store.Workouts()

	if _, err := workouts.GetActive(ctx, "athlete-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound before any workout, got %v", err)
	}

	first, err := workouts.Create(ctx, "athlete-1", "Morning run")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clk.Advance(time.Hour)
	second, err := workouts.Create(ctx, "athlete-1", "Evening lift")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	active, err := workouts.GetActive(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("Expected latest workout %s to be active, got %s (first was %s)", second.ID, active.ID, first.ID)
	}

	// Other users are unaffected
	if _, err := workouts.GetActive(ctx, "athlete-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user, got %v", err)
	}
}

func TestWorkoutStore_Finish(t *testing.T) {
	store, mr, clk := setupTestStore(t)
	ctx := context.Background()
	workouts := store.Workouts()

	created, err := workouts.Create(ctx, "athlete-1", "Intervals")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clk.Advance(45 * time.Minute)
	if err := workouts.Finish(ctx, created.ID); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, err := workouts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Finished() {
		t.Fatal("Expected workout to be finished")
	}
	if want := testStart.Add(45 * time.Minute); !got.EndedAt.Equal(want) {
		t.Errorf("Expected EndedAt %v, got %v", want, *got.EndedAt)
	}

	if _, err := workouts.GetActive(ctx, "athlete-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no active workout after finish, got %v", err)
	}

	if ttl := mr.TTL(workoutKey(created.ID)); ttl <= 0 {
		t.Errorf("Expected finished workout to carry a TTL, got %v", ttl)
	}

	// Finishing twice is a no-op
	if err := workouts.Finish(ctx, created.ID); err != nil {
		t.Errorf("Second Finish failed: %v", err)
	}

	if err := workouts.Finish(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound finishing missing workout, got %v", err)
	}
}

func TestWorkoutStore_FinishOlderKeepsActive(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	workouts := store.Workouts()

	older, _ := workouts.Create(ctx, "athlete-1", "Older")
	newer, _ := workouts.Create(ctx, "athlete-1", "Newer")

	if err := workouts.Finish(ctx, older.ID); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	active, err := workouts.GetActive(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != newer.ID {
		t.Errorf("Expected %s to stay active, got %s", newer.ID, active.ID)
	}
}

func TestWorkoutStore_PublishesChanges(t *testing.T) {
	store, _, _ := setupTestStore(t)
	pub := &recordingPublisher{}
	store.SetPublisher(pub)
	ctx := context.Background()

	created, err := store.Workouts().Create(ctx, "athlete-1", "Tempo")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Workouts().Finish(ctx, created.ID); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if len(pub.workouts) != 2 {
		t.Fatalf("Expected 2 workout events, got %d", len(pub.workouts))
	}
	if pub.workouts[0].Finished() || !pub.workouts[1].Finished() {
		t.Errorf("Expected start then finish events, got %+v", pub.workouts)
	}
}

func TestMessageStore_SendAndPreviews(t *testing.T) {
	store, _, clk := setupTestStore(t)
	ctx := context.Background()
	messages := store.Messages()

	if err := store.Profiles().Upsert(ctx, storage.Profile{ID: "coach-1", DisplayName: "Coach Dana", Role: storage.RoleCoach}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := messages.Send(ctx, storage.Message{SenderID: "coach-1", RecipientID: "athlete-1", Body: "How did the run go?"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := messages.Send(ctx, storage.Message{SenderID: "coach-1", RecipientID: "athlete-1", Body: "Remember to stretch"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := messages.Send(ctx, storage.Message{SenderID: "athlete-2", RecipientID: "athlete-1", Body: "Gym later?"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	previews, err := messages.ListPreviews(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("ListPreviews failed: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("Expected 2 previews, got %d", len(previews))
	}

	// Most recent conversation first
	if previews[0].CounterpartID != "athlete-2" {
		t.Errorf("Expected athlete-2 first, got %s", previews[0].CounterpartID)
	}
	if previews[0].CounterpartName != "athlete-2" {
		t.Errorf("Expected id fallback for missing profile, got %s", previews[0].CounterpartName)
	}

	coach := previews[1]
	if coach.CounterpartName != "Coach Dana" {
		t.Errorf("Expected Coach Dana, got %s", coach.CounterpartName)
	}
	if coach.UnreadCount != 2 {
		t.Errorf("Expected 2 unread, got %d", coach.UnreadCount)
	}
	if coach.LastMessage != "Remember to stretch" {
		t.Errorf("Expected last message snippet, got %q", coach.LastMessage)
	}
	if want := testStart.Add(time.Minute); !coach.LastMessageAt.Equal(want) {
		t.Errorf("Expected LastMessageAt %v, got %v", want, coach.LastMessageAt)
	}

	// The sender sees the same conversation with nothing unread
	senderView, err := messages.ListPreviews(ctx, "coach-1")
	if err != nil {
		t.Fatalf("ListPreviews failed: %v", err)
	}
	if len(senderView) != 1 || senderView[0].UnreadCount != 0 || senderView[0].CounterpartID != "athlete-1" {
		t.Errorf("Unexpected sender view: %+v", senderView)
	}
}

func TestMessageStore_SendValidation(t *testing.T) {
	store, _, _ := setupTestStore(t)

	tests := []struct {
		name string
		msg  storage.Message
	}{
		{"missing sender", storage.Message{RecipientID: "a", Body: "hi"}},
		{"missing recipient", storage.Message{SenderID: "a", Body: "hi"}},
		{"self message", storage.Message{SenderID: "a", RecipientID: "a", Body: "hi"}},
		{"blank body", storage.Message{SenderID: "a", RecipientID: "b", Body: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Messages().Send(context.Background(), tt.msg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestMessageStore_MarkRead(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	messages := store.Messages()

	sent, err := messages.Send(ctx, storage.Message{SenderID: "coach-1", RecipientID: "athlete-1", Body: "Check in"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := messages.MarkRead(ctx, sent.ConversationID, "athlete-1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	previews, err := messages.ListPreviews(ctx, "athlete-1")
	if err != nil {
		t.Fatalf("ListPreviews failed: %v", err)
	}
	if previews[0].UnreadCount != 0 {
		t.Errorf("Expected 0 unread after MarkRead, got %d", previews[0].UnreadCount)
	}

	if err := messages.MarkRead(ctx, "nobody:none", "athlete-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMessageStore_ListMessages(t *testing.T) {
	store, _, clk := setupTestStore(t)
	ctx := context.Background()
	messages := store.Messages()

	var conversationID string
	for _, body := range []string{"one", "two", "three"} {
		sent, err := messages.Send(ctx, storage.Message{SenderID: "a", RecipientID: "b", Body: body})
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		conversationID = sent.ConversationID
		clk.Advance(time.Second)
	}

	got, err := messages.ListMessages(ctx, conversationID, 2)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != 2 || got[0].Body != "two" || got[1].Body != "three" {
		t.Errorf("Expected [two three], got %+v", got)
	}
}

func TestMessageStore_PublishesInsert(t *testing.T) {
	store, _, _ := setupTestStore(t)
	pub := &recordingPublisher{}
	store.SetPublisher(pub)

	sent, err := store.Messages().Send(context.Background(), storage.Message{SenderID: "a", RecipientID: "b", Body: "ping"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(pub.messages) != 1 || pub.messages[0].ID != sent.ID {
		t.Errorf("Expected one published message %s, got %+v", sent.ID, pub.messages)
	}
}

func TestProfileStore_PresenceAndNames(t *testing.T) {
	store, mr, _ := setupTestStore(t)
	ctx := context.Background()
	profiles := store.Profiles()

	if err := profiles.Upsert(ctx, storage.Profile{ID: "coach-1", DisplayName: "Dana", Role: "coach"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := profiles.Get(ctx, "coach-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Role != storage.RoleCoach {
		t.Errorf("Expected normalized role COACH, got %s", got.Role)
	}

	if err := profiles.Upsert(ctx, storage.Profile{ID: "x", Role: "admin"}); err == nil {
		t.Error("Expected invalid role error")
	}

	if online, _ := profiles.IsOnline(ctx, "coach-1"); online {
		t.Error("Expected offline before presence touch")
	}
	if err := profiles.TouchPresence(ctx, "coach-1"); err != nil {
		t.Fatalf("TouchPresence failed: %v", err)
	}
	if online, _ := profiles.IsOnline(ctx, "coach-1"); !online {
		t.Error("Expected online after presence touch")
	}

	mr.FastForward(3 * time.Minute)
	if online, _ := profiles.IsOnline(ctx, "coach-1"); online {
		t.Error("Expected presence to expire")
	}

	// Renaming invalidates the cached display name
	if _, err := store.Messages().Send(ctx, storage.Message{SenderID: "coach-1", RecipientID: "athlete-1", Body: "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	previews, _ := store.Messages().ListPreviews(ctx, "athlete-1")
	if previews[0].CounterpartName != "Dana" {
		t.Fatalf("Expected Dana, got %s", previews[0].CounterpartName)
	}
	if err := profiles.Upsert(ctx, storage.Profile{ID: "coach-1", DisplayName: "Coach Dana", Role: storage.RoleCoach}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	previews, _ = store.Messages().ListPreviews(ctx, "athlete-1")
	if previews[0].CounterpartName != "Coach Dana" {
		t.Errorf("Expected renamed Coach Dana, got %s", previews[0].CounterpartName)
	}
}
