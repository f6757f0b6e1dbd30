package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Embedding is a fixed-dimension face descriptor produced by the extraction model.
type Embedding []float32

// Identity is an enrolled user bound to exactly one face embedding.
type Identity struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	DateOfBirth string    `json:"date_of_birth" db:"date_of_birth"`
	Email       string    `json:"email" db:"email"`
	Salary      string    `json:"salary,omitempty" db:"salary"`
	Embedding   Embedding `json:"-" db:"embedding"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasEmbedding reports whether enrollment attached a face embedding.
func (i *Identity) HasEmbedding() bool {
	return i != nil && len(i.Embedding) > 0
}

// Profile holds the user-supplied attributes submitted at enrollment.
type Profile struct {
	Name        string
	DateOfBirth string
	Email       string
	Salary      string
}

// Normalize trims every field and lower-cases the email.
func (p Profile) Normalize() Profile {
	return Profile{
		Name:        strings.TrimSpace(p.Name),
		DateOfBirth: strings.TrimSpace(p.DateOfBirth),
		Email:       NormalizeEmail(p.Email),
		Salary:      strings.TrimSpace(p.Salary),
	}
}

// NormalizeEmail returns the canonical lookup key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
