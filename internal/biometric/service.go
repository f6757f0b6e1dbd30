package biometric

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

// Extractor turns a decoded raster into one embedding per detected face.
// An image without faces yields an empty slice and a nil error.
type Extractor interface {
	Extract(img image.Image) ([]models.Embedding, error)
}

// IdentityStore persists identity records keyed by lower-case email.
// CreateIdentity must enforce email uniqueness atomically and return
// ErrDuplicateIdentity when another record already owns the email.
// GetIdentityByEmail returns (nil, nil) when no record exists.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
}

type Options struct {
	// Tolerance is the default maximum distance still treated as the same person.
	// Zero means only identical embeddings match.
	Tolerance float64
	// RejectMultipleFacesOnVerify applies the enrollment rule (exactly one face) to logins too.
	// When false, verification compares against the first detected face.
	RejectMultipleFacesOnVerify bool
}

// MatchResult is the outcome of a 1:1 verification.
type MatchResult struct {
	Matched    bool
	IdentityID *uuid.UUID
	Distance   float64
}

// Service implements enrollment and verification over an extractor and an identity store.
type Service struct {
	store     IdentityStore
	extractor Extractor
	opts      Options
	logger    *slog.Logger
}

func NewService(store IdentityStore, extractor Extractor, opts Options) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		opts:      opts,
		logger:    slog.Default().With("component", "biometric"),
	}
}

// Tolerance returns the configured default match tolerance.
func (s *Service) Tolerance() float64 {
	return s.opts.Tolerance
}

// Enroll validates the profile, requires exactly one face in img, and stores a new
// identity carrying that face's embedding. Nothing is written on any error path.
func (s *Service) Enroll(ctx context.Context, profile models.Profile, img image.Image) (identity *models.Identity, err error) {
	defer func() {
		observability.Enrollments.WithLabelValues(string(OutcomeOf(err))).Inc()
	}()

	p := profile.Normalize()
	if err := ValidateProfile(p); err != nil {
		return nil, err
	}

	existing, err := s.store.GetIdentityByEmail(ctx, p.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateIdentity
	}

	embeddings, err := s.extract(img)
	if err != nil {
		return nil, err
	}
	switch {
	case len(embeddings) == 0:
		return nil, ErrNoFaceDetected
	case len(embeddings) > 1:
		return nil, fmt.Errorf("%w: %d faces", ErrMultipleFacesDetected, len(embeddings))
	}

	identity = &models.Identity{
		Name:        p.Name,
		DateOfBirth: p.DateOfBirth,
		Email:       p.Email,
		Salary:      p.Salary,
		Embedding:   embeddings[0],
	}
	// The pre-check above is only a fast path; the store decides concurrent races.
	if err := s.store.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	s.logger.Info("identity enrolled", "identity_id", identity.ID, "dim", len(identity.Embedding))
	return identity, nil
}

// Verify compares the face in img against the identity enrolled under email.
// A non-match is not an error: it returns a result with Matched false.
func (s *Service) Verify(ctx context.Context, email string, img image.Image, tolerance float64) (result *MatchResult, err error) {
	defer func() {
		outcome := OutcomeOf(err)
		if err == nil && !result.Matched {
			outcome = models.OutcomeMismatch
		}
		observability.Verifications.WithLabelValues(string(outcome)).Inc()
	}()

	if err := checkTolerance(tolerance); err != nil {
		return nil, err
	}

	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, &MissingFieldError{Field: "email"}
	}

	identity, err := s.store.GetIdentityByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	embeddings, err := s.extract(img)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, ErrNoFaceDetected
	}
	if len(embeddings) > 1 && s.opts.RejectMultipleFacesOnVerify {
		return nil, fmt.Errorf("%w: %d faces", ErrMultipleFacesDetected, len(embeddings))
	}

	if !identity.HasEmbedding() {
		s.logger.Warn("identity has no stored embedding", "identity_id", identity.ID)
		return nil, ErrIdentityNotFound
	}

	d, err := Distance(identity.Embedding, embeddings[0])
	if err != nil {
		return nil, err
	}
	observability.MatchDistance.Observe(d)

	result = &MatchResult{Matched: d <= tolerance, Distance: d}
	if result.Matched {
		id := identity.ID
		result.IdentityID = &id
	}
	return result, nil
}

func (s *Service) extract(img image.Image) ([]models.Embedding, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil raster", ErrExtraction)
	}

	start := time.Now()
	embeddings, err := s.extractor.Extract(img)
	if err != nil {
		if errors.Is(err, ErrExtraction) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	s.logger.Debug("faces extracted", "count", len(embeddings), "took", time.Since(start).String())
	observability.FacesPerImage.Observe(float64(len(embeddings)))
	return embeddings, nil
}

// ValidateProfile reports the first required field that is empty in a normalized profile.
func ValidateProfile(p models.Profile) error {
	required := []struct {
		field string
		value string
	}{
		{"name", p.Name},
		{"dob", p.DateOfBirth},
		{"email", p.Email},
	}
	for _, r := range required {
		if r.value == "" {
			return &MissingFieldError{Field: r.field}
		}
	}
	return nil
}
