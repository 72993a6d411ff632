package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message             string     `json:"message"`
	SessionID           string     `json:"session_id"`
	ConversationHistory []chatTurn `json:"conversation_history,omitempty"`
}

type chatSource struct {
	ChunkID string              `json:"chunk_id"`
	DocID   string              `json:"doc_id"`
	Title   string              `json:"title"`
	Text    string              `json:"text"`
	Rank    int                 `json:"rank"`
	Score   float64             `json:"score"`
	Signals domain.SignalScores `json:"signals"`
}

type chatResponse struct {
	Answer      string                `json:"answer"`
	SessionID   string                `json:"session_id"`
	Artifact    domain.AnswerArtifact `json:"artifact"`
	Sources     []chatSource          `json:"sources"`
	Metrics     any                   `json:"metrics"`
	GeneratedBy string                `json:"generated_by"`
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "message is required"})
		return
	}

	start := time.Now()
	result, err := rt.ask.Ask(r.Context(), req.SessionID, strings.TrimSpace(req.Message), seedTurns(req.ConversationHistory))
	if err != nil {
		status := statusFor(err)
		// A session that was valid when the client sent the request but is
		// unknown or expired now is gone, not merely missing.
		if req.SessionID != "" && domain.IsKind(err, domain.ErrSessionNotFound) {
			status = http.StatusGone
		}
		rt.metrics.RecordAsk("api", "error", 0, time.Since(start))
		writeError(w, status, err)
		return
	}

	sources := make([]chatSource, 0, len(result.Sources))
	for _, p := range result.Sources {
		sources = append(sources, chatSource{
			ChunkID: p.ChunkID,
			DocID:   p.Document.ID,
			Title:   p.Document.Title,
			Text:    p.Text,
			Rank:    p.Rank,
			Score:   p.Final,
			Signals: p.Signals,
		})
	}

	rt.metrics.RecordAsk("api", string(result.Artifact.Kind), len(sources), time.Since(start))
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:      result.Artifact.Answer,
		SessionID:   result.SessionID,
		Artifact:    result.Artifact,
		Sources:     sources,
		Metrics:     result.Metrics,
		GeneratedBy: result.Artifact.GeneratedBy,
	})
}

func (rt *Router) diagnostics(w http.ResponseWriter, r *http.Request) {
	m, err := rt.ask.LastMetrics(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (rt *Router) indexInfo(w http.ResponseWriter, r *http.Request) {
	count, err := rt.index.Count(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": count})
}

// seedTurns converts client-supplied history into turns used only to seed a
// freshly created session.
func seedTurns(history []chatTurn) []domain.Turn {
	now := time.Now()
	out := make([]domain.Turn, 0, len(history))
	for _, t := range history {
		role := domain.RoleUser
		if t.Role == "assistant" {
			role = domain.RoleAssistant
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, domain.Turn{Role: role, Text: t.Content, Timestamp: now})
	}
	return out
}
