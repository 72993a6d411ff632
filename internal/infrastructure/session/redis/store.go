package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

const (
	sessionKeyPrefix = "session:"
	lockKeyPrefix    = "session-lock:"
	lockLease        = 90 * time.Second
	lockRetryDelay   = 25 * time.Millisecond
)

// Store keeps sessions in Redis with the key TTL as the sliding inactivity
// timeout: every touch refreshes the TTL, and expiry needs no sweeper of its
// own. Per-session serialization uses a lease lock.
type Store struct {
	client  *goredis.Client
	timeout time.Duration
	now     func() time.Time
}

func NewStore(client *goredis.Client, timeout time.Duration) *Store {
	return &Store{client: client, timeout: timeout, now: time.Now}
}

func (s *Store) Create(ctx context.Context) (*domain.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.now().UTC()
	sess := domain.Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Timeout:      s.timeout,
		History:      []domain.Turn{},
	}
	if err := s.write(ctx, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if now := s.now().UTC(); now.After(sess.LastActivity) {
		sess.LastActivity = now
	}
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Extend(ctx context.Context, id string) (time.Duration, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return sess.Remaining(s.now().UTC()), nil
}

func (s *Store) End(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, sess *domain.Session) error {
	current, err := s.read(ctx, sess.ID)
	if err != nil {
		return err
	}
	out := *sess
	// last_activity never goes backward.
	if current.LastActivity.After(out.LastActivity) {
		out.LastActivity = current.LastActivity
	}
	if now := s.now().UTC(); now.After(out.LastActivity) {
		out.LastActivity = now
	}
	return s.write(ctx, &out)
}

// Lock takes a lease on the session so concurrent asks serialize; the lease
// guards against a crashed holder wedging the session forever.
func (s *Store) Lock(ctx context.Context, id string) (func(), error) {
	key := lockKeyPrefix + id
	for {
		ok, err := s.client.SetNX(ctx, key, "1", lockLease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return func() {
				_ = s.client.Del(context.Background(), key).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (s *Store) Active(ctx context.Context) ([]domain.Session, error) {
	var out []domain.Session
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(sessionKeyPrefix):]
		sess, err := s.read(ctx, id)
		if err != nil {
			if domain.IsKind(err, domain.ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *sess)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

func (s *Store) read(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("session %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) write(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	// TTL equals the remaining inactivity window, so Redis expires the
	// session exactly when the sliding timeout elapses.
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.ID, data, sess.Timeout).Err(); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
