package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/models"
)

func TestMemoryStore_Identities(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	in := &models.Identity{
		Name:      "Ada",
		Email:     " Ada@Example.com",
		Embedding: models.Embedding{1, 2, 3},
	}
	if err := store.CreateIdentity(ctx, in); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if in.ID == uuid.Nil || in.CreatedAt.IsZero() {
		t.Fatalf("expected ID and CreatedAt to be assigned, got %+v", in)
	}

	got, err := store.GetIdentityByEmail(ctx, "ada@example.com")
	if err != nil || got == nil {
		t.Fatalf("GetIdentityByEmail = %v, %v", got, err)
	}
	if got.ID != in.ID {
		t.Errorf("id = %s, want %s", got.ID, in.ID)
	}

	// Callers must not be able to mutate stored state through returned records.
	got.Embedding[0] = 99
	again, _ := store.GetIdentity(ctx, in.ID)
	if again.Embedding[0] != 1 {
		t.Errorf("stored embedding was mutated: %v", again.Embedding)
	}

	err = store.CreateIdentity(ctx, &models.Identity{Name: "Other", Email: "ADA@example.com"})
	if !errors.Is(err, biometric.ErrDuplicateIdentity) {
		t.Errorf("expected ErrDuplicateIdentity, got %v", err)
	}

	missing, err := store.GetIdentityByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", missing, err)
	}
	if none, _ := store.GetIdentity(ctx, uuid.New()); none != nil {
		t.Errorf("expected nil for unknown id, got %+v", none)
	}
}

func TestMemoryStore_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const racers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateIdentity(ctx, &models.Identity{Name: "R", Email: "race@example.com"})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, biometric.ErrDuplicateIdentity) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created %d identities, want 1", created)
	}
}

func TestMemoryStore_AuthEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, kind := range []models.AuthEventKind{
		models.AuthEventEnroll, models.AuthEventVerify, models.AuthEventVerify,
	} {
		ev := &models.AuthEvent{
			Kind:      kind,
			Email:     "ada@example.com",
			Outcome:   models.OutcomeSuccess,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if ok, err := store.CreateAuthEvent(ctx, ev); err != nil || !ok {
			t.Fatalf("CreateAuthEvent = %v, %v", ok, err)
		}
		if ok, _ := store.CreateAuthEvent(ctx, ev); ok {
			t.Fatal("duplicate event id should be ignored")
		}
	}

	tests := []struct {
		name      string
		filter    EventFilter
		wantLen   int
		wantTotal int
	}{
		{"all", EventFilter{}, 3, 3},
		{"by kind", EventFilter{Kind: models.AuthEventVerify}, 2, 2},
		{"by email case-insensitive", EventFilter{Email: "ADA@example.com"}, 3, 3},
		{"other email", EventFilter{Email: "bob@example.com"}, 0, 0},
		{"paged", EventFilter{Limit: 1, Offset: 1}, 1, 3},
		{"offset past end", EventFilter{Offset: 10}, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, total, err := store.ListAuthEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListAuthEvents: %v", err)
			}
			if len(events) != tt.wantLen || total != tt.wantTotal {
				t.Errorf("got %d events (total %d), want %d (total %d)", len(events), total, tt.wantLen, tt.wantTotal)
			}
		})
	}

	events, _, _ := store.ListAuthEvents(ctx, EventFilter{})
	if !events[0].Timestamp.After(events[1].Timestamp) {
		t.Error("expected newest event first")
	}
}
