package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/coachsync/internal/storage"
	"github.com/rs/zerolog"
)

func TestDispatcher_DeliversMatchingKind(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var messages, workouts, any int
	if _, err := d.Subscribe(EventMessageInserted, func(Event) { messages++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := d.Subscribe(EventWorkoutChanged, func(Event) { workouts++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := d.Subscribe(KindAny, func(Event) { any++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if n := d.Dispatch(Event{Kind: EventMessageInserted}); n != 2 {
		t.Errorf("Dispatch() ran %d handlers, want 2", n)
	}
	d.Dispatch(Event{Kind: EventMessageInserted})
	d.Dispatch(Event{Kind: EventWorkoutChanged})

	if messages != 2 || workouts != 1 || any != 3 {
		t.Errorf("counts = (%d, %d, %d), want (2, 1, 3)", messages, workouts, any)
	}
}

func TestDispatcher_DisposeIsIdempotent(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	calls := 0
	dispose, err := d.Subscribe(EventMessageInserted, func(Event) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	other, _ := d.Subscribe(EventMessageInserted, func(Event) {})

	dispose()
	dispose()

	if got := d.Subscribers(); got != 1 {
		t.Errorf("Subscribers() = %d, want 1", got)
	}

	d.Dispatch(Event{Kind: EventMessageInserted})
	if calls != 0 {
		t.Errorf("disposed handler ran %d times", calls)
	}

	other()
	if got := d.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}
}

func TestDispatcher_HandlerPanicIsContained(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	ran := false
	_, _ = d.Subscribe(EventMessageInserted, func(Event) { panic("boom") })
	_, _ = d.Subscribe(EventMessageInserted, func(Event) { ran = true })

	d.Dispatch(Event{Kind: EventMessageInserted})

	if !ran {
		t.Error("second handler did not run after first panicked")
	}
}

func TestDispatcher_Close(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	calls := 0
	dispose, _ := d.Subscribe(EventMessageInserted, func(Event) { calls++ })
	d.Close()

	if n := d.Dispatch(Event{Kind: EventMessageInserted}); n != 0 || calls != 0 {
		t.Errorf("closed dispatcher delivered %d events", n)
	}
	if _, err := d.Subscribe(EventMessageInserted, func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrClosed", err)
	}

	// Disposing after close must not panic
	dispose()
}

func TestDispatcher_PublishMessageInserted(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var got MessageInserted
	_, _ = d.Subscribe(EventMessageInserted, func(ev Event) {
		if err := ev.Decode(&got); err != nil {
			t.Errorf("Decode failed: %v", err)
		}
	})

	msg := storage.Message{
		ID:             "m-1",
		ConversationID: "a:b",
		SenderID:       "a",
		RecipientID:    "b",
		SentAt:         time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC),
	}
	if err := d.PublishMessageInserted(context.Background(), msg); err != nil {
		t.Fatalf("PublishMessageInserted failed: %v", err)
	}

	if got.MessageID != "m-1" || got.ConversationID != "a:b" || !got.SentAt.Equal(msg.SentAt) {
		t.Errorf("decoded payload = %+v", got)
	}
}

func TestEvent_DecodeWithoutPayload(t *testing.T) {
	var v WorkoutChanged
	if err := (Event{Kind: EventWorkoutChanged}).Decode(&v); err == nil {
		t.Error("Decode() expected error for empty payload")
	}
}
