package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// fakeSessions is a minimal in-memory SessionStore for facade tests.
type fakeSessions struct {
	sessions map[string]*domain.Session
	nextID   int
	locks    int
	unlocks  int
	events   []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*domain.Session{}}
}

func (f *fakeSessions) Create(context.Context) (*domain.Session, error) {
	f.nextID++
	id := fmt.Sprintf("sess-%d", f.nextID)
	now := time.Now()
	sess := &domain.Session{ID: id, CreatedAt: now, LastActivity: now, Timeout: 30 * time.Minute}
	f.sessions[id] = sess
	out := *sess
	return &out, nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*domain.Session, error) {
	f.events = append(f.events, "get")
	sess, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get", fmt.Errorf("session %s", id))
	}
	out := *sess
	return &out, nil
}

func (f *fakeSessions) Extend(_ context.Context, id string) (time.Duration, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return 0, domain.WrapError(domain.ErrSessionNotFound, "extend", fmt.Errorf("session %s", id))
	}
	return sess.Timeout, nil
}

func (f *fakeSessions) End(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) Update(_ context.Context, sess *domain.Session) error {
	f.events = append(f.events, "update")
	if _, ok := f.sessions[sess.ID]; !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "update", fmt.Errorf("session %s", sess.ID))
	}
	out := *sess
	f.sessions[sess.ID] = &out
	return nil
}

func (f *fakeSessions) Lock(context.Context, string) (func(), error) {
	f.locks++
	f.events = append(f.events, "lock")
	return func() {
		f.unlocks++
		f.events = append(f.events, "unlock")
	}, nil
}

func (f *fakeSessions) Active(context.Context) ([]domain.Session, error) {
	out := make([]domain.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func newAskService(sessions *fakeSessions) *AskService {
	retriever := &fakeRetriever{result: retrievalWith(0.8, "a_chunk_0")}
	router := NewRouter(retriever, &fakeGenerator{}, unavailableChat{}, testPolicy(), testLogger())
	return NewAskService(sessions, router, testPolicy(), time.Minute, testLogger())
}

func TestAskCreatesSessionLazily(t *testing.T) {
	sessions := newFakeSessions()
	svc := newAskService(sessions)

	result, err := svc.Ask(context.Background(), "", "What balance is needed for Gold?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if result.SessionID == "" {
		t.Fatalf("no session id issued")
	}
	if _, ok := sessions.sessions[result.SessionID]; !ok {
		t.Fatalf("session not persisted")
	}
	if sessions.locks != 1 || sessions.unlocks != 1 {
		t.Fatalf("lock/unlock = %d/%d, want 1/1", sessions.locks, sessions.unlocks)
	}
}

func TestAskSeedsHistoryOnlyForFreshSessions(t *testing.T) {
	sessions := newFakeSessions()
	svc := newAskService(sessions)

	seed := []domain.Turn{
		{Role: domain.RoleUser, Text: "earlier question", Timestamp: time.Now()},
		{Role: domain.RoleAssistant, Text: "earlier answer", Timestamp: time.Now()},
	}
	result, err := svc.Ask(context.Background(), "", "follow up question about tiers", seed)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	stored := sessions.sessions[result.SessionID]
	if len(stored.History) != 4 {
		t.Fatalf("history length = %d, want seed(2)+turns(2)", len(stored.History))
	}
	if stored.History[0].Text != "earlier question" {
		t.Fatalf("seed not first: %q", stored.History[0].Text)
	}
}

func TestAskSerializesReadModifyWriteUnderLock(t *testing.T) {
	sessions := newFakeSessions()
	svc := newAskService(sessions)

	sess, err := sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sessions.events = nil

	if _, err := svc.Ask(context.Background(), sess.ID, "What balance is needed for Gold?", nil); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	// The store hands out snapshots, so the read and write-back must both
	// happen inside the session lock.
	want := []string{"lock", "get", "update", "unlock"}
	if len(sessions.events) != len(want) {
		t.Fatalf("events = %v, want %v", sessions.events, want)
	}
	for i, event := range want {
		if sessions.events[i] != event {
			t.Fatalf("events = %v, want %v", sessions.events, want)
		}
	}
}

func TestAskUnknownSessionSurfacesNotFound(t *testing.T) {
	svc := newAskService(newFakeSessions())

	_, err := svc.Ask(context.Background(), "missing", "q", nil)
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
}

func TestAskEmptyUtteranceRejected(t *testing.T) {
	svc := newAskService(newFakeSessions())

	_, err := svc.Ask(context.Background(), "", "", nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestAskLastMetricsRoundTrip(t *testing.T) {
	sessions := newFakeSessions()
	svc := newAskService(sessions)

	result, err := svc.Ask(context.Background(), "", "What balance is needed for Gold?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	m, err := svc.LastMetrics(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("LastMetrics() error = %v", err)
	}
	if m.Decision != "answer" {
		t.Fatalf("decision = %s", m.Decision)
	}
	if m.Threshold != 0.45 {
		t.Fatalf("threshold = %f", m.Threshold)
	}
}
