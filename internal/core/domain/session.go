package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnMeta carries the optional per-turn metadata surfaced back to clients.
type TurnMeta struct {
	Kind          AnswerKind `json:"kind,omitempty"`
	Sources       []string   `json:"sources,omitempty"`
	Clarification bool       `json:"clarification,omitempty"`
}

type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Meta      *TurnMeta `json:"meta,omitempty"`
}

// RetrievalSnapshot is the per-session record of the last retrieval, kept for
// diagnostics and clarification follow-ups.
type RetrievalSnapshot struct {
	Question    string               `json:"question"`
	PassageIDs  []string             `json:"passage_ids"`
	Diagnostics RetrievalDiagnostics `json:"diagnostics"`
	At          time.Time            `json:"at"`
}

// Session is the unit of conversational state. History is a sliding window of
// the last WindowK turns; LastActivity is monotonic until expiry.
type Session struct {
	ID            string             `json:"id"`
	CreatedAt     time.Time          `json:"created_at"`
	LastActivity  time.Time          `json:"last_activity"`
	Timeout       time.Duration      `json:"timeout"`
	History       []Turn             `json:"history"`
	ClarifyCount  int                `json:"clarify_count"`
	FocusHint     string             `json:"focus_hint,omitempty"`
	PendingAsk    string             `json:"pending_question,omitempty"`
	LastRetrieval *RetrievalSnapshot `json:"last_retrieval,omitempty"`
}

func (s *Session) Remaining(now time.Time) time.Duration {
	remaining := s.LastActivity.Add(s.Timeout).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *Session) Expired(now time.Time) bool {
	return s.LastActivity.Add(s.Timeout).Before(now)
}

// AppendTurn appends in order and trims the window to windowK turns.
func (s *Session) AppendTurn(turn Turn, windowK int) {
	s.History = append(s.History, turn)
	if windowK > 0 && len(s.History) > windowK {
		s.History = s.History[len(s.History)-windowK:]
	}
}

// LastAssistantTurn returns the most recent assistant turn, if any.
func (s *Session) LastAssistantTurn() *Turn {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return &s.History[i]
		}
	}
	return nil
}
