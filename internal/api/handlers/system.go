package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Check is a named readiness probe. Ping errors are logged, not returned to callers.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type SystemHandler struct {
	checks []Check
}

func NewSystemHandler(checks ...Check) *SystemHandler {
	return &SystemHandler{checks: checks}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz runs every dependency check concurrently under one deadline.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	errs := make([]error, len(h.checks))
	var wg sync.WaitGroup
	for i, chk := range h.checks {
		i, chk := i, chk
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = chk.Ping(ctx)
		}()
	}
	wg.Wait()

	checks := make(map[string]string, len(h.checks))
	healthy := true
	for i, chk := range h.checks {
		if errs[i] != nil {
			slog.Warn("readiness check failed", "check", chk.Name, "error", errs[i])
			checks[chk.Name] = "unavailable"
			healthy = false
			continue
		}
		checks[chk.Name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
