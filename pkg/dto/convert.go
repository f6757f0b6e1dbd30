package dto

import (
	"time"

	"github.com/your-org/facegate/internal/models"
)

func FromIdentity(id *models.Identity) IdentityResponse {
	return IdentityResponse{
		ID:           id.ID,
		Name:         id.Name,
		DateOfBirth:  id.DateOfBirth,
		Email:        id.Email,
		Salary:       id.Salary,
		HasEmbedding: id.HasEmbedding(),
		CreatedAt:    id.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func FromAuthEvent(ev models.AuthEvent) AuthEventResponse {
	return AuthEventResponse{
		ID:         ev.ID,
		Kind:       string(ev.Kind),
		Email:      ev.Email,
		IdentityID: ev.IdentityID,
		Outcome:    string(ev.Outcome),
		Distance:   ev.Distance,
		Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
