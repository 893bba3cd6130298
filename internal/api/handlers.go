package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/coachsync/internal/notify"
	"github.com/goodtune/coachsync/internal/session"
	"github.com/goodtune/coachsync/internal/storage"
	"github.com/gorilla/mux"
)

// WorkoutResponse describes the cached active workout.
type WorkoutResponse struct {
	Active         bool             `json:"active"`
	Workout        *session.Session `json:"workout,omitempty"`
	ElapsedStartMs int64            `json:"elapsed_start_ms,omitempty"`
	ElapsedSeconds int64            `json:"elapsed_seconds,omitempty"`
}

// StartWorkoutRequest is the body of POST /api/workout.
type StartWorkoutRequest struct {
	Name string `json:"name"`
}

// ConversationsResponse lists cached previews alongside the badge.
type ConversationsResponse struct {
	UserID        string                        `json:"user_id"`
	Conversations []storage.ConversationPreview `json:"conversations"`
	Badge         notify.Badge                  `json:"badge"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"user_id":   s.live.UserID(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) workoutResponse() WorkoutResponse {
	cache := s.live.Sessions()
	resp := WorkoutResponse{Workout: cache.Session()}
	resp.Active = resp.Workout != nil
	if ms, ok := cache.ElapsedStart(); ok {
		resp.ElapsedStartMs = ms
	}
	if d, ok := cache.Elapsed(); ok {
		resp.ElapsedSeconds = int64(d / time.Second)
	}
	return resp
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.workoutResponse())
}

func (s *Server) handleStartWorkout(w http.ResponseWriter, r *http.Request) {
	var req StartWorkoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if _, err := s.live.StartWorkout(r.Context(), strings.TrimSpace(req.Name)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start workout")
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, s.workoutResponse())
}

func (s *Server) handleResumeWorkout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.live.ResumeWorkout(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.workoutResponse())
}

func (s *Server) handleFinishWorkout(w http.ResponseWriter, r *http.Request) {
	if err := s.live.FinishWorkout(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) conversationsResponse() ConversationsResponse {
	agg := s.live.Notifications()
	convs := agg.Conversations()
	if convs == nil {
		convs = []storage.ConversationPreview{}
	}
	return ConversationsResponse{
		UserID:        agg.UserID(),
		Conversations: convs,
		Badge:         agg.Badge(),
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conversationsResponse())
}

func (s *Server) handleRefreshConversations(w http.ResponseWriter, r *http.Request) {
	if s.live.UserID() == "" {
		writeError(w, http.StatusUnauthorized, "no user signed in")
		return
	}
	if err := s.live.Notifications().Refresh(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.conversationsResponse())
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.live.MarkRead(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Notifications().Badge())
}
