package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/pkg/dto"
)

// EventObjects removes every stored original of an event.
type EventObjects interface {
	DeleteEvent(ctx context.Context, eventCode string) error
}

// IndexForgetter drops per-event caches held by the matching engine.
type IndexForgetter interface {
	Forget(eventCode string)
}

type EventHandler struct {
	store   storage.DescriptorStore
	objects EventObjects
	index   IndexForgetter
}

// NewEventHandler builds the event endpoints. objects and index may be nil.
func NewEventHandler(store storage.DescriptorStore, objects EventObjects, index IndexForgetter) *EventHandler {
	return &EventHandler{store: store, objects: objects, index: index}
}

// Create handles PUT /v1/events/:code. It is idempotent.
func (h *EventHandler) Create(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	existed, err := h.store.EventExists(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	ev, err := h.store.CreateEvent(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	} else {
		slog.Info("event created", "event_code", code)
	}
	c.JSON(status, dto.EventResponse{
		EventCode: ev.Code,
		Revision:  ev.Revision,
		CreatedAt: formatTime(ev.CreatedAt),
	})
}

// Delete handles DELETE /v1/events/:code, removing its photos and descriptors.
func (h *EventHandler) Delete(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	if err := h.store.DeleteEvent(c.Request.Context(), code); err != nil {
		respondError(c, err)
		return
	}
	if h.index != nil {
		h.index.Forget(code)
	}
	if h.objects != nil {
		if err := h.objects.DeleteEvent(c.Request.Context(), code); err != nil {
			slog.Warn("delete event originals", "event_code", code, "error", err)
		}
	}
	slog.Info("event deleted", "event_code", code)
	c.Status(http.StatusNoContent)
}

// Stats handles GET /v1/events/:code/stats.
func (h *EventHandler) Stats(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	stats, err := h.store.Stats(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}

	byStatus := make(map[string]int, len(stats.ByStatus))
	for s, n := range stats.ByStatus {
		byStatus[string(s)] = n
	}
	c.JSON(http.StatusOK, dto.EventStatsResponse{
		EventCode:   stats.EventCode,
		TotalPhotos: stats.TotalPhotos,
		TotalFaces:  stats.TotalFaces,
		ByStatus:    byStatus,
		PhotoIDs:    stats.PhotoIDs,
	})
}
