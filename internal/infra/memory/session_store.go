package memory

import (
	"fmt"
	"sync"

	"educards-match/internal/match"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*match.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*match.Session),
	}
}

func (s *SessionStore) Add(session *match.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID()]; ok {
		return fmt.Errorf("match %s already registered", session.ID())
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
	delete(s.sessions, matchID)
}

// Len reports how many sessions are registered.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
