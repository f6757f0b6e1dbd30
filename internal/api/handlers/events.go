package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/pkg/dto"
)

type EventLister interface {
	ListAuthEvents(ctx context.Context, f storage.EventFilter) ([]models.AuthEvent, int, error)
}

type EventHandler struct {
	events EventLister
}

func NewEventHandler(events EventLister) *EventHandler {
	return &EventHandler{events: events}
}

func (h *EventHandler) List(c *gin.Context) {
	var q dto.AuthEventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, total, err := h.events.ListAuthEvents(c.Request.Context(), storage.EventFilter{
		Email:   q.Email,
		Kind:    models.AuthEventKind(q.Kind),
		Outcome: models.AuthOutcome(q.Outcome),
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		slog.Error("list auth events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an error occurred"})
		return
	}

	resp := dto.AuthEventListResponse{
		Events: make([]dto.AuthEventResponse, 0, len(events)),
		Total:  total,
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, dto.FromAuthEvent(ev))
	}
	c.JSON(http.StatusOK, resp)
}
