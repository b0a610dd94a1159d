package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/ynabimport/internal/domain"
)

// ExpiredSessionGrace is how long a snapshot outlives its challenge window.
// Within it a late confirm still finds the snapshot and is told it expired.
const ExpiredSessionGrace = time.Hour

// SessionStore implements usecase.SessionStore. Snapshots are sealed and
// the keys expire on their own once the challenge window and
// ExpiredSessionGrace have both passed.
type SessionStore struct {
	client *redis.Client
	sealer Sealer
	ttl    time.Duration
}

// NewSessionStore creates a SessionStore for sessions whose challenge is
// valid for challengeTTL.
func NewSessionStore(client *redis.Client, sealer Sealer, challengeTTL time.Duration) *SessionStore {
	return &SessionStore{client: client, sealer: sealer, ttl: challengeTTL + ExpiredSessionGrace}
}

func (s *SessionStore) key(sessionID string) string {
	return keyPrefix + "session:" + sessionID
}

// Save stores the snapshot, replacing any previous one.
func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	plaintext, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(session.SessionID), sealed, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load returns the snapshot stored for sessionID.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	sealed, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveSession, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", sessionID, err)
	}

	var session domain.Session
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes the snapshot.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
