package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/session"
)

const identityKey = "identity_id"

// RequireSession rejects requests without a valid session cookie and stores the
// session's identity ID in the gin context.
func RequireSession(m *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := m.FromRequest(c.Request.Context(), c.Request)
		if err != nil {
			slog.Error("resolve session", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "an error occurred",
			})
			return
		}
		if rec == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "please log in first",
				"redirect": "/login",
			})
			return
		}

		c.Set(identityKey, rec.IdentityID)
		c.Next()
	}
}

// IdentityID returns the identity bound to the request by RequireSession.
func IdentityID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
