package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

// sweepLockWait bounds how long the sweeper contends for a session that is
// mid-request; an active session is never destroyed under its caller.
const sweepLockWait = 100 * time.Millisecond

type entry struct {
	lock chan struct{} // buffered(1) cooperative request mutex
	sess domain.Session
}

// Store is the in-process session manager (C5): lazy creation, sliding
// inactivity timeout, background expiry sweep, per-session serialization.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	timeout time.Duration
	sweep   time.Duration
	now     func() time.Time
	log     *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

func NewStore(timeout, sweepInterval time.Duration, log *slog.Logger) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		timeout: timeout,
		sweep:   sweepInterval,
		now:     time.Now,
		log:     log,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweeper()
	return s
}

func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

func (s *Store) Create(context.Context) (*domain.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.now()
	sess := domain.Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Timeout:      s.timeout,
		History:      []domain.Turn{},
	}

	s.mu.Lock()
	s.entries[id] = &entry{lock: make(chan struct{}, 1), sess: sess}
	s.mu.Unlock()

	out := sess
	return &out, nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	now := s.now()
	if !ok || e.sess.Expired(now) {
		if ok {
			delete(s.entries, id)
		}
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("session %s", id))
	}
	if now.After(e.sess.LastActivity) {
		e.sess.LastActivity = now
	}
	out := cloneSession(e.sess)
	return &out, nil
}

func (s *Store) Extend(_ context.Context, id string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	now := s.now()
	if !ok || e.sess.Expired(now) {
		if ok {
			delete(s.entries, id)
		}
		return 0, domain.WrapError(domain.ErrSessionNotFound, "extend session", fmt.Errorf("session %s", id))
	}
	if now.After(e.sess.LastActivity) {
		e.sess.LastActivity = now
	}
	return e.sess.Remaining(now), nil
}

func (s *Store) End(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Update(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sess.ID]
	now := s.now()
	if !ok || e.sess.Expired(now) {
		if ok {
			delete(s.entries, sess.ID)
		}
		return domain.WrapError(domain.ErrSessionNotFound, "update session", fmt.Errorf("session %s", sess.ID))
	}
	prev := e.sess.LastActivity
	e.sess = cloneSession(*sess)
	// last_activity never goes backward.
	e.sess.LastActivity = prev
	if now.After(e.sess.LastActivity) {
		e.sess.LastActivity = now
	}
	return nil
}

// Lock serializes requests on one session; the expiry sweeper competes for
// the same slot.
func (s *Store) Lock(ctx context.Context, id string) (func(), error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "lock session", fmt.Errorf("session %s", id))
	}

	select {
	case e.lock <- struct{}{}:
		return func() { <-e.lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) Active(context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]domain.Session, 0, len(s.entries))
	for _, e := range s.entries {
		if e.sess.Expired(now) {
			continue
		}
		out = append(out, cloneSession(e.sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) sweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	now := s.now()

	s.mu.RLock()
	expired := make(map[string]*entry)
	for id, e := range s.entries {
		if e.sess.Expired(now) {
			expired[id] = e
		}
	}
	s.mu.RUnlock()

	for id, e := range expired {
		// Only destroy sessions nobody is actively serving.
		select {
		case e.lock <- struct{}{}:
		case <-time.After(sweepLockWait):
			continue
		}
		s.mu.Lock()
		if cur, ok := s.entries[id]; ok && cur == e && cur.sess.Expired(s.now()) {
			delete(s.entries, id)
			s.log.Info("session_expired", "session_id", id)
		}
		s.mu.Unlock()
		<-e.lock
	}
}

func cloneSession(sess domain.Session) domain.Session {
	out := sess
	out.History = append([]domain.Turn(nil), sess.History...)
	if sess.LastRetrieval != nil {
		snapshot := *sess.LastRetrieval
		snapshot.PassageIDs = append([]string(nil), sess.LastRetrieval.PassageIDs...)
		out.LastRetrieval = &snapshot
	}
	return out
}

// newSessionID draws 128 bits from crypto/rand; identifiers must be opaque
// and unguessable.
func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
