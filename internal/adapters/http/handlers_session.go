package httpadapter

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

type sessionResponse struct {
	SessionID      string `json:"session_id"`
	CreatedAt      string `json:"created_at"`
	LastActivity   string `json:"last_activity"`
	RemainingTime  int64  `json:"remaining_time"`
	TimeoutMinutes int    `json:"timeout_minutes"`
	Turns          int    `json:"turns"`
}

func sessionInfo(sess *domain.Session, now time.Time) sessionResponse {
	return sessionResponse{
		SessionID:      sess.ID,
		CreatedAt:      sess.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity:   sess.LastActivity.UTC().Format(time.RFC3339),
		RemainingTime:  int64(sess.Remaining(now).Seconds()),
		TimeoutMinutes: int(sess.Timeout.Minutes()),
		Turns:          len(sess.History),
	}
}

func (rt *Router) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := rt.sessions.Create(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionInfo(sess, time.Now()))
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := rt.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo(sess, time.Now()))
}

func (rt *Router) extendSession(w http.ResponseWriter, r *http.Request) {
	remaining, err := rt.sessions.Extend(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "session extended",
		"remaining_time": int64(remaining.Seconds()),
	})
}

func (rt *Router) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := rt.sessions.End(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rt.ask.DropMetrics(id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "session ended"})
}

func (rt *Router) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := rt.sessions.Active(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	now := time.Now()
	infos := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		infos = append(infos, sessionInfo(&sessions[i], now))
	}
	rt.metrics.SetActiveSessions(len(infos))
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": len(infos),
		"sessions":        infos,
	})
}
