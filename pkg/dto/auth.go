package dto

import "github.com/google/uuid"

// RegisterRequest is the enrollment form. FaceImage is a data URI; a multipart
// file under the same field name is accepted instead. Form binding skips it
// because gin rejects a file part bound to a string field.
type RegisterRequest struct {
	Name        string `form:"name" json:"name"`
	DateOfBirth string `form:"dob" json:"dob"`
	Email       string `form:"email" json:"email"`
	Salary      string `form:"salary" json:"salary"`
	FaceImage   string `form:"-" json:"face_image"`
}

type LoginRequest struct {
	Email     string `form:"email" json:"email"`
	FaceImage string `form:"-" json:"face_image"`
}

type AuthResponse struct {
	ID       *uuid.UUID `json:"id,omitempty"`
	Message  string     `json:"message,omitempty"`
	Redirect string     `json:"redirect,omitempty"`
}

// IdentityResponse is an identity without its embedding.
type IdentityResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	DateOfBirth  string    `json:"dob"`
	Email        string    `json:"email"`
	Salary       string    `json:"salary,omitempty"`
	HasEmbedding bool      `json:"has_embedding"`
	CreatedAt    string    `json:"created_at"`
}
