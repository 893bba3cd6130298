package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/coachsync/internal/storage"
)

// EventKind names a class of change notification.
type EventKind string

const (
	// EventMessageInserted fires whenever any message is written to the store.
	EventMessageInserted EventKind = "message_inserted"
	// EventWorkoutChanged fires when a workout is created or finished.
	EventWorkoutChanged EventKind = "workout_changed"
	// KindAny matches every event kind.
	KindAny EventKind = "*"
)

// ErrClosed is returned when subscribing to a closed channel.
var ErrClosed = errors.New("realtime: channel closed")

// Event is a single change notification.
type Event struct {
	Kind    EventKind       `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler is invoked for every matching event.
type Handler func(Event)

// Disposer releases a subscription. Calling it more than once is a no-op.
type Disposer func()

// Channel delivers change notifications to subscribers.
type Channel interface {
	Subscribe(kind EventKind, handler Handler) (Disposer, error)
}

// MessageInserted is the payload of EventMessageInserted.
type MessageInserted struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	SentAt         time.Time `json:"sent_at"`
}

// WorkoutChanged is the payload of EventWorkoutChanged.
type WorkoutChanged struct {
	WorkoutID string `json:"workout_id"`
	UserID    string `json:"user_id"`
	Finished  bool   `json:"finished"`
}

// NewEvent builds an event with a JSON encoded payload.
func NewEvent(kind EventKind, at time.Time, payload any) (Event, error) {
	ev := Event{Kind: kind, At: at}
	if payload == nil {
		return ev, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	ev.Payload = data
	return ev, nil
}

// MessageInsertedEvent converts a stored message into its change event.
func MessageInsertedEvent(msg storage.Message) (Event, error) {
	return NewEvent(EventMessageInserted, msg.SentAt, MessageInserted{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		SentAt:         msg.SentAt,
	})
}

// WorkoutChangedEvent converts a workout record into its change event.
func WorkoutChangedEvent(w storage.Workout, at time.Time) (Event, error) {
	return NewEvent(EventWorkoutChanged, at, WorkoutChanged{
		WorkoutID: w.ID,
		UserID:    w.UserID,
		Finished:  w.Finished(),
	})
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event has no payload", e.Kind)
	}
	return json.Unmarshal(e.Payload, v)
}
