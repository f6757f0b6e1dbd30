package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/models"
)

// MemoryStore keeps identities and auth events in process memory.
// It backs the "memory" database driver and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]*models.Identity
	byEmail    map[string]uuid.UUID
	events     []models.AuthEvent
	eventIDs   map[uuid.UUID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[uuid.UUID]*models.Identity),
		byEmail:    make(map[string]uuid.UUID),
		eventIDs:   make(map[uuid.UUID]struct{}),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateIdentity(_ context.Context, id *models.Identity) error {
	email := models.NormalizeEmail(id.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return biometric.ErrDuplicateIdentity
	}

	id.ID = uuid.New()
	id.Email = email
	id.CreatedAt = time.Now().UTC()

	stored := *id
	stored.Embedding = slices.Clone(id.Embedding)
	s.identities[stored.ID] = &stored
	s.byEmail[email] = stored.ID
	return nil
}

func (s *MemoryStore) GetIdentityByEmail(_ context.Context, email string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return s.copyIdentity(id), nil
}

func (s *MemoryStore) GetIdentity(_ context.Context, id uuid.UUID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyIdentity(id), nil
}

func (s *MemoryStore) copyIdentity(id uuid.UUID) *models.Identity {
	stored, ok := s.identities[id]
	if !ok {
		return nil
	}
	out := *stored
	out.Embedding = slices.Clone(stored.Embedding)
	return &out
}

func (s *MemoryStore) CreateAuthEvent(_ context.Context, ev *models.AuthEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if _, seen := s.eventIDs[ev.ID]; seen {
		return false, nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.CreatedAt = time.Now().UTC()

	s.eventIDs[ev.ID] = struct{}{}
	s.events = append(s.events, *ev)
	return true, nil
}

func (s *MemoryStore) ListAuthEvents(_ context.Context, f EventFilter) ([]models.AuthEvent, int, error) {
	f = f.normalized()

	s.mu.RLock()
	var matched []models.AuthEvent
	for _, ev := range s.events {
		if f.Email != "" && ev.Email != f.Email {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		if f.Outcome != "" && ev.Outcome != f.Outcome {
			continue
		}
		matched = append(matched, ev)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b models.AuthEvent) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	total := len(matched)
	start := min(f.Offset, total)
	end := min(start+f.Limit, total)
	page := make([]models.AuthEvent, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}
