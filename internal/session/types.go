package session

import (
	"time"

	"github.com/goodtune/coachsync/internal/storage"
)

// Session is the cached view of one in-progress workout.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

// ElapsedStart is the start timestamp as Unix epoch milliseconds, the
// baseline displays count elapsed time from.
func (s Session) ElapsedStart() int64 {
	return s.StartedAt.UnixMilli()
}

// Elapsed returns how long the workout has been running at now.
func (s Session) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func fromWorkout(w *storage.Workout) Session {
	return Session{
		ID:        w.ID,
		UserID:    w.UserID,
		Name:      w.Name,
		StartedAt: w.StartedAt,
	}
}

// State is what watchers receive on every change. Session is nil when idle.
type State struct {
	Active  bool
	Session *Session
}
