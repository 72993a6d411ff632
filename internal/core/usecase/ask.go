package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
)

var (
	errEmptyUtterance = errors.New("utterance is empty")
	errNoMetricsYet   = errors.New("no routed request for session yet")
)

// AskService is the single query-time entry point (C6): resolve the session,
// serialize on it, run the router, persist the mutated session, hand back
// the artifact with diagnostics.
type AskService struct {
	sessions ports.SessionStore
	router   *Router
	policy   func() RouterPolicy
	deadline time.Duration
	log      *slog.Logger

	mu          sync.Mutex
	lastMetrics map[string]ports.RouterMetrics
}

func NewAskService(sessions ports.SessionStore, router *Router, policy func() RouterPolicy, deadline time.Duration, log *slog.Logger) *AskService {
	return &AskService{
		sessions:    sessions,
		router:      router,
		policy:      policy,
		deadline:    deadline,
		log:         log,
		lastMetrics: make(map[string]ports.RouterMetrics),
	}
}

func (s *AskService) Ask(ctx context.Context, sessionID, utterance string, seedHistory []domain.Turn) (*ports.AskResult, error) {
	if utterance == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", errEmptyUtterance)
	}

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	policy := s.policy()

	created := false
	if sessionID == "" {
		sess, err := s.sessions.Create(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
		created = true
	}

	// The lock comes before the read: the store hands out snapshots, so the
	// whole read-modify-write must sit inside the per-session mutex or two
	// concurrent asks would each update from a stale clone.
	unlock, err := s.sessions.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if created {
		// Client-supplied history only seeds a fresh session; an existing
		// server-side record always wins.
		for _, t := range seedHistory {
			sess.AppendTurn(t, policy.WindowK)
		}
	}

	outcome, err := s.router.Run(ctx, sess, utterance)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, domain.WrapError(domain.ErrDeadlineExceeded, "ask", ctx.Err())
		}
		return nil, err
	}

	if updateErr := s.sessions.Update(ctx, sess); updateErr != nil {
		// A session that expired mid-request surfaces as 410 to the caller.
		if domain.IsKind(updateErr, domain.ErrSessionNotFound) {
			return nil, updateErr
		}
		s.log.Error("session_update_failed", "session_id", sessionID, "error", updateErr)
	}

	s.mu.Lock()
	s.lastMetrics[sessionID] = outcome.Metrics
	s.mu.Unlock()

	return &ports.AskResult{
		SessionID: sessionID,
		Artifact:  outcome.Artifact,
		Sources:   outcome.Passages,
		Metrics:   outcome.Metrics,
	}, nil
}

func (s *AskService) LastMetrics(ctx context.Context, sessionID string) (*ports.RouterMetrics, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.lastMetrics[sessionID]; ok {
		out := m
		return &out, nil
	}
	return nil, domain.WrapError(domain.ErrInvalidInput, "last metrics", errNoMetricsYet)
}

// DropMetrics releases the per-session diagnostic record once a session ends.
func (s *AskService) DropMetrics(sessionID string) {
	s.mu.Lock()
	delete(s.lastMetrics, sessionID)
	s.mu.Unlock()
}
