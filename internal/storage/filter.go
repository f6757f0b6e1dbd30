package storage

import "github.com/your-org/facegate/internal/models"

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventFilter selects auth events. Empty fields match everything.
type EventFilter struct {
	Email   string
	Kind    models.AuthEventKind
	Outcome models.AuthOutcome
	Limit   int
	Offset  int
}

func (f EventFilter) normalized() EventFilter {
	f.Email = models.NormalizeEmail(f.Email)
	if f.Limit <= 0 {
		f.Limit = defaultEventLimit
	}
	if f.Limit > maxEventLimit {
		f.Limit = maxEventLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
