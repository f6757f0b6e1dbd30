package biometric

import (
	"errors"
	"fmt"

	"github.com/your-org/facegate/internal/imaging"
	"github.com/your-org/facegate/internal/models"
)

// Input errors. The user can correct these and no state is changed.
var (
	ErrDuplicateIdentity     = errors.New("identity already enrolled")
	ErrIdentityNotFound      = errors.New("identity not found")
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
	ErrInvalidTolerance      = errors.New("tolerance must be a non-negative number")
)

// System errors.
var (
	ErrExtraction        = errors.New("face extraction failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// MissingFieldError reports a required profile field that is empty after trimming.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// IsInputError reports whether err is a user-correctable input error.
// Anything else (store failures, model failures) is a system error.
func IsInputError(err error) bool {
	var missing *MissingFieldError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, ErrDuplicateIdentity),
		errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrNoFaceDetected),
		errors.Is(err, ErrMultipleFacesDetected),
		errors.Is(err, ErrInvalidTolerance),
		errors.Is(err, imaging.ErrDecode):
		return true
	}
	return false
}

// OutcomeOf maps an enrollment or verification error to its audit outcome.
func OutcomeOf(err error) models.AuthOutcome {
	var missing *MissingFieldError
	switch {
	case err == nil:
		return models.OutcomeSuccess
	case errors.Is(err, ErrDuplicateIdentity):
		return models.OutcomeDuplicate
	case errors.Is(err, ErrIdentityNotFound):
		return models.OutcomeNotFound
	case errors.Is(err, ErrNoFaceDetected):
		return models.OutcomeNoFace
	case errors.Is(err, ErrMultipleFacesDetected):
		return models.OutcomeMultipleFaces
	case errors.As(err, &missing),
		errors.Is(err, ErrInvalidTolerance),
		errors.Is(err, imaging.ErrDecode):
		return models.OutcomeInvalidInput
	}
	return models.OutcomeError
}
