package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/config"
	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
	"github.com/emad-noorizadeh/eval-rag/internal/observability/logging"
	"github.com/emad-noorizadeh/eval-rag/internal/observability/metrics"
)

type fakeAsk struct {
	result *ports.AskResult
	err    error
}

func (f *fakeAsk) Ask(_ context.Context, sessionID, _ string, _ []domain.Turn) (*ports.AskResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	if sessionID != "" {
		out.SessionID = sessionID
	}
	return &out, nil
}

func (f *fakeAsk) LastMetrics(context.Context, string) (*ports.RouterMetrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	m := f.result.Metrics
	return &m, nil
}

func (f *fakeAsk) DropMetrics(string) {}

type fakeSessionStore struct {
	sessions map[string]*domain.Session
	nextID   int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*domain.Session{}}
}

func (f *fakeSessionStore) Create(context.Context) (*domain.Session, error) {
	f.nextID++
	id := fmt.Sprintf("sess-%032d", f.nextID)
	now := time.Now()
	sess := &domain.Session{ID: id, CreatedAt: now, LastActivity: now, Timeout: 30 * time.Minute}
	f.sessions[id] = sess
	out := *sess
	return &out, nil
}

func (f *fakeSessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get", fmt.Errorf("session %s", id))
	}
	out := *sess
	return &out, nil
}

func (f *fakeSessionStore) Extend(_ context.Context, id string) (time.Duration, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return 0, domain.WrapError(domain.ErrSessionNotFound, "extend", fmt.Errorf("session %s", id))
	}
	return sess.Timeout, nil
}

func (f *fakeSessionStore) End(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionStore) Update(_ context.Context, sess *domain.Session) error {
	out := *sess
	f.sessions[sess.ID] = &out
	return nil
}

func (f *fakeSessionStore) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

func (f *fakeSessionStore) Active(context.Context) ([]domain.Session, error) {
	out := make([]domain.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

type fakeCountIndex struct{ count int }

func (f *fakeCountIndex) KNN(context.Context, []float32, int, *domain.MetadataFilter) ([]domain.ScoredChunkRef, error) {
	return nil, nil
}
func (f *fakeCountIndex) BM25Chunk(context.Context, string, int, *domain.MetadataFilter) ([]domain.ScoredChunkRef, error) {
	return nil, nil
}
func (f *fakeCountIndex) BM25Meta(context.Context, string, int, *domain.MetadataFilter) ([]domain.ScoredDocRef, error) {
	return nil, nil
}
func (f *fakeCountIndex) TopChunks(context.Context, string, int) ([]domain.ScoredChunkRef, error) {
	return nil, nil
}
func (f *fakeCountIndex) Resolve(context.Context, string) (*domain.ResolvedChunk, error) {
	return nil, fmt.Errorf("not found")
}
func (f *fakeCountIndex) Count(context.Context) (int, error) { return f.count, nil }

func directResult() *ports.AskResult {
	return &ports.AskResult{
		SessionID: "sess-1",
		Artifact: domain.AnswerArtifact{
			Answer:        "Gold tier requires $20,000.",
			Kind:          domain.AnswerDirect,
			AnswerType:    "numeric",
			Confidence:    domain.ConfidenceHigh,
			Faithfulness:  domain.MetricOf(0.95),
			Completeness:  domain.MetricOf(1.0),
			CitedPassages: []string{"gold_chunk_0"},
			GeneratedBy:   "answer_node",
		},
		Sources: []domain.RetrievedPassage{
			{ChunkID: "gold_chunk_0", Text: "Gold tier requires $20,000.", Rank: 1, Final: 0.9,
				Document: domain.Document{ID: "gold", Title: "Preferred Rewards tiers"}},
		},
		Metrics: ports.RouterMetrics{Decision: "answer", Threshold: 0.45},
	}
}

func newTestRouter(ask ports.QueryService, sessions ports.SessionStore) http.Handler {
	return NewRouter(
		ask,
		sessions,
		&fakeCountIndex{count: 42},
		config.NewStore(config.DefaultChatConfig()),
		metrics.NewServerMetrics("test"),
		logging.NewJSONLogger("test", "error"),
		100, 100,
	).Handler()
}

func TestCreateAndGetSession(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /sessions status = %d", rec.Code)
	}
	var created sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SessionID == "" || created.TimeoutMinutes != 30 {
		t.Fatalf("unexpected session payload: %+v", created)
	}
	if diff := 30*60 - created.RemainingTime; diff < 0 || diff > 1 {
		t.Fatalf("remaining_time = %d, want ~1800", created.RemainingTime)
	}
	if _, err := time.Parse(time.RFC3339, created.CreatedAt); err != nil {
		t.Fatalf("created_at not ISO-8601: %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions/{id} status = %d", rec.Code)
	}
}

func TestGetUnknownSessionIs404(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestExtendAndDeleteSession(t *testing.T) {
	sessions := newFakeSessionStore()
	handler := newTestRouter(&fakeAsk{result: directResult()}, sessions)

	sess, _ := sessions.Create(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/extend", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("extend status = %d", rec.Code)
	}
	var extended struct {
		Message       string `json:"message"`
		RemainingTime int64  `json:"remaining_time"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &extended)
	if extended.RemainingTime <= 0 {
		t.Fatalf("remaining_time = %d", extended.RemainingTime)
	}

	// DELETE is idempotent.
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("delete status = %d", rec.Code)
		}
	}
}

func TestChatReturnsAnswerShape(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	body, _ := json.Marshal(chatRequest{Message: "What balance is needed for Gold?"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer == "" || resp.GeneratedBy != "answer_node" || len(resp.Sources) != 1 {
		t.Fatalf("unexpected chat payload: %+v", resp)
	}
}

func TestChatExpiredSessionIs410(t *testing.T) {
	ask := &fakeAsk{err: domain.WrapError(domain.ErrSessionNotFound, "ask", fmt.Errorf("session gone"))}
	handler := newTestRouter(ask, newFakeSessionStore())

	body, _ := json.Marshal(chatRequest{Message: "hello", SessionID: "expired-session"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	var payload errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Kind != "SessionNotFound" {
		t.Fatalf("kind = %q, want SessionNotFound", payload.Kind)
	}
}

func TestChatWithoutSessionNotFoundIs404(t *testing.T) {
	// No session id supplied: a not-found from below is a plain 404, not 410.
	ask := &fakeAsk{err: domain.WrapError(domain.ErrSessionNotFound, "ask", fmt.Errorf("no session"))}
	handler := newTestRouter(ask, newFakeSessionStore())

	body, _ := json.Marshal(chatRequest{Message: "hello"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	body, _ := json.Marshal(chatRequest{Message: "  "})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatConfigRoundTrip(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat-config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get config status = %d", rec.Code)
	}
	var current config.ChatConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &current); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if current.SimilarityThreshold != 0.45 {
		t.Fatalf("default threshold = %f", current.SimilarityThreshold)
	}

	// Partial update keeps unnamed fields.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat-config",
		bytes.NewReader([]byte(`{"similarity_threshold":0.6}`))))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated config.ChatConfig
	_ = json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.SimilarityThreshold != 0.6 || updated.ReclarifyThreshold != 0.35 {
		t.Fatalf("partial update broke config: %+v", updated)
	}
}

func TestChatConfigRejectsInvalid(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat-config",
		bytes.NewReader([]byte(`{"reclarify_threshold":0.9}`))))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var payload errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Kind != "ConfigurationInvalid" {
		t.Fatalf("kind = %q", payload.Kind)
	}
}

func TestIndexInfo(t *testing.T) {
	handler := newTestRouter(&fakeAsk{result: directResult()}, newFakeSessionStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index-info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Chunks int `json:"chunks"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.Chunks != 42 {
		t.Fatalf("chunks = %d", payload.Chunks)
	}
}

func TestListSessions(t *testing.T) {
	sessions := newFakeSessionStore()
	handler := newTestRouter(&fakeAsk{result: directResult()}, sessions)
	_, _ = sessions.Create(context.Background())
	_, _ = sessions.Create(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		ActiveSessions int `json:"active_sessions"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload.ActiveSessions != 2 {
		t.Fatalf("active_sessions = %d", payload.ActiveSessions)
	}
}
