package session

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Save scans for expired sessions.
const sweepInterval = time.Minute

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
// Expired records are dropped on Load and by a periodic sweep in Save.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]Record
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, id string, rec Record, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		for k, r := range s.sessions {
			if now.After(r.ExpiresAt) {
				delete(s.sessions, k)
			}
		}
		s.lastSweep = now
	}

	s.sessions[id] = rec
	return nil
}

// Len returns the number of stored sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if s.now().After(rec.ExpiresAt) {
		delete(s.sessions, id)
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
