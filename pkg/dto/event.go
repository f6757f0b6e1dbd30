package dto

import "github.com/google/uuid"

type AuthEventResponse struct {
	ID         uuid.UUID  `json:"id"`
	Kind       string     `json:"kind"`
	Email      string     `json:"email"`
	IdentityID *uuid.UUID `json:"identity_id,omitempty"`
	Outcome    string     `json:"outcome"`
	Distance   *float64   `json:"distance,omitempty"`
	Timestamp  string     `json:"timestamp"`
}

type AuthEventListResponse struct {
	Events []AuthEventResponse `json:"events"`
	Total  int                 `json:"total"`
}

type AuthEventQuery struct {
	Email   string `form:"email"`
	Kind    string `form:"kind" binding:"omitempty,oneof=enroll verify"`
	Outcome string `form:"outcome"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// WSEvent is a WebSocket message for real-time event delivery.
type WSEvent struct {
	Type string            `json:"type"` // auth_event
	Data AuthEventResponse `json:"data"`
}
