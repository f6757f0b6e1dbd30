// Package audit records enrollment and verification attempts.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
)

// Publisher accepts auth events. Implementations: the NATS producer, the
// WebSocket hub, and Direct.
type Publisher interface {
	PublishAuthEvent(ctx context.Context, ev models.AuthEvent) error
}

// Sink persists auth events. inserted is false for an already-stored event ID.
type Sink interface {
	CreateAuthEvent(ctx context.Context, ev *models.AuthEvent) (inserted bool, err error)
}

// NewEvent builds an event stamped with a fresh ID and the current time.
func NewEvent(kind models.AuthEventKind, email string, outcome models.AuthOutcome) models.AuthEvent {
	return models.AuthEvent{
		ID:        uuid.New(),
		Kind:      kind,
		Email:     models.NormalizeEmail(email),
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// Direct persists events synchronously. The API uses it when no event bus is configured.
type Direct struct {
	Sink Sink
}

func (d Direct) PublishAuthEvent(ctx context.Context, ev models.AuthEvent) error {
	_, err := d.Sink.CreateAuthEvent(ctx, &ev)
	return err
}

// Multi delivers to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishAuthEvent(ctx context.Context, ev models.AuthEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAuthEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store persists ev and reports whether it was new. Used by the audit worker.
func Store(ctx context.Context, sink Sink, ev models.AuthEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		return false, fmt.Errorf("auth event without id")
	}
	return sink.CreateAuthEvent(ctx, &ev)
}

// EmailRef is a short stable reference to an email for log lines.
func EmailRef(email string) string {
	sum := sha256.Sum256([]byte(models.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:4])
}
