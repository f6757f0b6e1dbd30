package models

import (
	"time"

	"github.com/google/uuid"
)

type AuthEventKind string

const (
	AuthEventEnroll AuthEventKind = "enroll"
	AuthEventVerify AuthEventKind = "verify"
)

type AuthOutcome string

const (
	OutcomeSuccess       AuthOutcome = "success"
	OutcomeMismatch      AuthOutcome = "mismatch"
	OutcomeNoFace        AuthOutcome = "no_face"
	OutcomeMultipleFaces AuthOutcome = "multiple_faces"
	OutcomeDuplicate     AuthOutcome = "duplicate"
	OutcomeNotFound      AuthOutcome = "not_found"
	OutcomeInvalidInput  AuthOutcome = "invalid_input"
	OutcomeError         AuthOutcome = "error"
)

// AuthEvent records one enrollment or verification attempt.
// It is published on the event bus and persisted by the audit worker.
type AuthEvent struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	Kind       AuthEventKind `json:"kind" db:"kind"`
	Email      string        `json:"email" db:"email"`
	IdentityID *uuid.UUID    `json:"identity_id,omitempty" db:"identity_id"`
	Outcome    AuthOutcome   `json:"outcome" db:"outcome"`
	Distance   *float64      `json:"distance,omitempty" db:"distance"`
	Timestamp  time.Time     `json:"timestamp" db:"timestamp"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}
