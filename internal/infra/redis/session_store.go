package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"educards-match/internal/match"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions stay in a local map; their state machine is single-process.
//   - Redis carries a liveness marker per match (match:session:{id} -> moderator id)
//     so other instances can tell which matches exist and route joins here.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*match.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*match.Session),
	}
}

func (s *SessionStore) Add(session *match.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID()]; ok {
		return fmt.Errorf("match %s already registered", session.ID())
	}
	ok, err := s.client.SetNX(context.Background(), s.key(session.ID()), session.Moderator().ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("mark match %s: %w", session.ID(), err)
	}
	if !ok {
		return fmt.Errorf("match %s already registered elsewhere", session.ID())
	}
	s.sessions[session.ID()] = session
	return nil
}

func (s *SessionStore) Get(matchID string) (*match.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[matchID]
	return session, ok
}

func (s *SessionStore) Delete(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[matchID]; !ok {
		return
	}
	delete(s.sessions, matchID)
	// best-effort; the marker expires on its own
	if err := s.client.Del(context.Background(), s.key(matchID)).Err(); err != nil {
		log.Warn().Err(err).Str("match_id", matchID).Msg("clear match marker failed")
	}
}

// Exists reports whether any instance holds the match.
func (s *SessionStore) Exists(ctx context.Context, matchID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(matchID)).Result()
	return n > 0, err
}

func (s *SessionStore) key(matchID string) string {
	return "match:session:" + matchID
}
