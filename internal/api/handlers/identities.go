package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/pkg/dto"
)

// CaptureReader fetches archived enrollment captures. A missing capture is (nil, nil).
type CaptureReader interface {
	GetCapture(ctx context.Context, identityID uuid.UUID) ([]byte, error)
}

// IdentityHandler serves the admin view of enrolled identities.
type IdentityHandler struct {
	identities IdentityReader
	captures   CaptureReader
}

func NewIdentityHandler(identities IdentityReader, captures CaptureReader) *IdentityHandler {
	return &IdentityHandler{identities: identities, captures: captures}
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	identity, err := h.identities.GetIdentity(c.Request.Context(), id)
	if err != nil {
		slog.Error("get identity", "identity_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}
	if identity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	c.JSON(http.StatusOK, dto.FromIdentity(identity))
}

// Capture returns the archived enrollment image.
func (h *IdentityHandler) Capture(c *gin.Context) {
	if h.captures == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "capture archive disabled"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	data, err := h.captures.GetCapture(c.Request.Context(), id)
	if err != nil {
		slog.Error("get capture", "identity_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "capture not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}
