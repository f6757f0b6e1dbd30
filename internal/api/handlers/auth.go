package handlers

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/audit"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/imaging"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/session"
	"github.com/your-org/facegate/pkg/dto"
)

const (
	publishTimeout = 2 * time.Second
	archiveTimeout = 5 * time.Second
)

// IdentityReader looks identities up for login pre-checks and profile views.
type IdentityReader interface {
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
}

// CaptureArchiver stores enrollment images.
type CaptureArchiver interface {
	ArchiveCapture(ctx context.Context, identityID uuid.UUID, img image.Image) (string, error)
}

type AuthHandler struct {
	svc        *biometric.Service
	identities IdentityReader
	normalizer *imaging.Normalizer
	sessions   *session.Manager
	// Events and Archive are optional.
	Events  audit.Publisher
	Archive CaptureArchiver
}

func NewAuthHandler(svc *biometric.Service, identities IdentityReader, normalizer *imaging.Normalizer, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{svc: svc, identities: identities, normalizer: normalizer, sessions: sessions}
}

func (h *AuthHandler) Index(c *gin.Context) {
	c.Redirect(http.StatusFound, "/login")
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	profile := models.Profile{
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Email:       req.Email,
		Salary:      req.Salary,
	}.Normalize()

	var img image.Image
	err := biometric.ValidateProfile(profile)
	if err == nil && !h.hasFace(c, req.FaceImage) {
		err = errMissingImage
	}
	if err == nil {
		// An existing email wins over an unreadable image.
		if known, lookupErr := h.identities.GetIdentityByEmail(c.Request.Context(), profile.Email); lookupErr == nil && known != nil {
			err = biometric.ErrDuplicateIdentity
		}
	}
	if err == nil {
		img, err = h.readFace(c, req.FaceImage, "reg")
	}
	if err != nil {
		h.publish(c, audit.NewEvent(models.AuthEventEnroll, profile.Email, biometric.OutcomeOf(err)))
		h.fail(c, "register", profile.Email, err)
		return
	}

	identity, err := h.svc.Enroll(c.Request.Context(), profile, img)

	ev := audit.NewEvent(models.AuthEventEnroll, profile.Email, biometric.OutcomeOf(err))
	if identity != nil {
		ev.IdentityID = &identity.ID
	}
	h.publish(c, ev)

	if err != nil {
		h.fail(c, "register", profile.Email, err)
		return
	}

	h.archive(c, identity.ID, img)

	c.JSON(http.StatusCreated, dto.AuthResponse{
		ID:       &identity.ID,
		Message:  "account created, you can now log in",
		Redirect: "/login",
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	email := models.NormalizeEmail(req.Email)
	ctx := c.Request.Context()

	if email == "" {
		err := &biometric.MissingFieldError{Field: "email"}
		h.publish(c, audit.NewEvent(models.AuthEventVerify, email, biometric.OutcomeOf(err)))
		h.fail(c, "login", email, err)
		return
	}

	img, err := h.readFace(c, req.FaceImage, "login")
	if err != nil {
		// An unknown email takes precedence over a missing or bad image.
		if known, lookupErr := h.identities.GetIdentityByEmail(ctx, email); lookupErr == nil && known == nil {
			err = biometric.ErrIdentityNotFound
		}
		h.publish(c, audit.NewEvent(models.AuthEventVerify, email, biometric.OutcomeOf(err)))
		h.fail(c, "login", email, err)
		return
	}

	result, err := h.svc.Verify(ctx, email, img, h.svc.Tolerance())

	ev := audit.NewEvent(models.AuthEventVerify, email, biometric.OutcomeOf(err))
	if result != nil {
		d := result.Distance
		ev.Distance = &d
		ev.IdentityID = result.IdentityID
		if !result.Matched {
			ev.Outcome = models.OutcomeMismatch
		}
	}
	h.publish(c, ev)

	if err != nil {
		h.fail(c, "login", email, err)
		return
	}
	if !result.Matched {
		slog.Info("login rejected", "email_ref", audit.EmailRef(email), "distance", result.Distance)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "face does not match"})
		return
	}

	token, err := h.sessions.Create(ctx, *result.IdentityID)
	if err != nil {
		h.fail(c, "login", email, err)
		return
	}
	h.sessions.SetCookie(c.Writer, token)

	c.JSON(http.StatusOK, dto.AuthResponse{
		ID:       result.IdentityID,
		Message:  "logged in",
		Redirect: "/profile",
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.Destroy(c.Request.Context(), c.Request); err != nil {
		slog.Warn("destroy session", "error", err)
	}
	h.sessions.ClearCookie(c.Writer)
	c.JSON(http.StatusOK, dto.AuthResponse{Message: "logged out", Redirect: "/login"})
}

func (h *AuthHandler) Profile(c *gin.Context) {
	id, ok := auth.IdentityID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "please log in first", "redirect": "/login"})
		return
	}

	identity, err := h.identities.GetIdentity(c.Request.Context(), id)
	if err != nil {
		slog.Error("load profile", "identity_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}
	if identity == nil {
		if err := h.sessions.Destroy(c.Request.Context(), c.Request); err != nil {
			slog.Warn("destroy session", "error", err)
		}
		h.sessions.ClearCookie(c.Writer)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found", "redirect": "/login"})
		return
	}

	c.JSON(http.StatusOK, dto.FromIdentity(identity))
}

// hasFace reports whether the request carries a face image in either form,
// without decoding it.
func (h *AuthHandler) hasFace(c *gin.Context, dataURI string) bool {
	if dataURI != "" || c.PostForm("face_image") != "" {
		return true
	}
	_, err := c.FormFile("face_image")
	return err == nil
}

// readFace decodes the face image from a data URI field or, failing that, a
// multipart file of the same name.
func (h *AuthHandler) readFace(c *gin.Context, dataURI, hint string) (image.Image, error) {
	if dataURI == "" {
		dataURI = c.PostForm("face_image")
	}
	if dataURI != "" {
		return h.normalizer.NormalizeDataURI(dataURI, hint)
	}

	fh, err := c.FormFile("face_image")
	if err != nil {
		return nil, errMissingImage
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errMissingImage
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errMissingImage
	}
	return h.normalizer.Normalize(data, hint)
}

var errMissingImage = &biometric.MissingFieldError{Field: "face_image"}

func (h *AuthHandler) publish(c *gin.Context, ev models.AuthEvent) {
	if h.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), publishTimeout)
	defer cancel()
	if err := h.Events.PublishAuthEvent(ctx, ev); err != nil {
		slog.Warn("publish auth event", "event_id", ev.ID, "error", err)
	}
}

func (h *AuthHandler) archive(c *gin.Context, id uuid.UUID, img image.Image) {
	if h.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), archiveTimeout)
	defer cancel()
	if _, err := h.Archive.ArchiveCapture(ctx, id, img); err != nil {
		slog.Warn("archive enrollment capture", "identity_id", id, "error", err)
	}
}

// fail maps a biometric error to a response. User-facing text stays coarse;
// the typed error goes to the log.
func (h *AuthHandler) fail(c *gin.Context, op, email string, err error) {
	status, body := errorResponse(op, err)
	if biometric.IsInputError(err) {
		slog.Info(op+" rejected", "email_ref", audit.EmailRef(email), "error", err)
	} else {
		slog.Error(op+" failed", "email_ref", audit.EmailRef(email), "error", err)
	}
	c.JSON(status, body)
}

func errorResponse(op string, err error) (int, gin.H) {
	var missing *biometric.MissingFieldError
	switch {
	case errors.As(err, &missing) && missing.Field == "face_image" && op == "login":
		return http.StatusBadRequest, gin.H{"error": "capture a face image"}
	case errors.As(err, &missing):
		return http.StatusBadRequest, gin.H{"error": "missing required field: " + missing.Field}
	case errors.Is(err, biometric.ErrDuplicateIdentity):
		return http.StatusConflict, gin.H{"error": "email already registered, try logging in", "redirect": "/login"}
	case errors.Is(err, biometric.ErrIdentityNotFound):
		return http.StatusNotFound, gin.H{"error": "email not found, please register first", "redirect": "/register"}
	case errors.Is(err, biometric.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, gin.H{"error": "no clear face found in the image, try again"}
	case errors.Is(err, biometric.ErrMultipleFacesDetected):
		return http.StatusUnprocessableEntity, gin.H{"error": "more than one face in the image"}
	case errors.Is(err, imaging.ErrDecode):
		return http.StatusBadRequest, gin.H{"error": "could not read the image"}
	}
	return http.StatusInternalServerError, gin.H{"error": "an error occurred"}
}
