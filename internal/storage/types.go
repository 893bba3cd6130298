package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the kind of account a profile belongs to.
type Role string

const (
	RoleAthlete Role = "ATHLETE"
	RoleCoach   Role = "COACH"
)

// UnmarshalJSON implements json.Unmarshaler to normalize role to uppercase.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = normalized
	return nil
}

// ParseRole validates and normalizes a role name.
func ParseRole(s string) (Role, error) {
	normalized := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch normalized {
	case RoleAthlete, RoleCoach:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid role: %s (must be ATHLETE or COACH)", s)
	}
}

// Workout represents a workout session record.
type Workout struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Finished reports whether the workout has been completed.
func (w *Workout) Finished() bool {
	return w.EndedAt != nil
}

// Message is a single chat message between two users.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// ConversationPreview summarises the latest state of one conversation from
// the point of view of a single participant.
type ConversationPreview struct {
	ConversationID  string    `json:"conversation_id"`
	CounterpartID   string    `json:"counterpart_id"`
	CounterpartName string    `json:"counterpart_name"`
	LastMessage     string    `json:"last_message"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
	Online          bool      `json:"online"`
}

// Profile represents a user of the coaching app.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConversationID returns the deterministic conversation id for two users.
func ConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
