package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/pkg/dto"
)

// ObjectDeleter removes stored originals.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

type PhotoHandler struct {
	store    storage.DescriptorStore
	ingestor *pipeline.Ingestor
	objects  ObjectDeleter
	maxBytes int64
}

// NewPhotoHandler builds the photo endpoints. ingestor may be nil when no
// extractor is available; uploads then answer 503. objects may be nil.
func NewPhotoHandler(store storage.DescriptorStore, ingestor *pipeline.Ingestor, objects ObjectDeleter, maxBytes int64) *PhotoHandler {
	return &PhotoHandler{store: store, ingestor: ingestor, objects: objects, maxBytes: maxBytes}
}

// Upload handles POST /v1/events/:code/photos.
func (h *PhotoHandler) Upload(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	data, ok := readImage(c, h.maxBytes)
	if !ok {
		return
	}
	if h.ingestor == nil {
		abortWith(c, http.StatusServiceUnavailable, "extractor_unavailable", "face extractor not initialized")
		return
	}

	res, err := h.ingestor.Ingest(c.Request.Context(), code, data)
	if err != nil {
		status, errCode := statusFor(err)
		body := dto.IngestErrorResponse{ErrorResponse: dto.ErrorResponse{Error: err.Error(), Code: errCode}}
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
		if res != nil {
			photo := photoResponse(res.Photo, false)
			body.Photo = &photo
		}
		c.AbortWithStatusJSON(status, body)
		return
	}

	status := http.StatusCreated
	switch {
	case res.Duplicate:
		status = http.StatusOK
	case !res.Photo.Status.Terminal():
		status = http.StatusAccepted
	}
	c.JSON(status, photoResponse(res.Photo, res.Duplicate))
}

// Get handles GET /v1/events/:code/photos/:photoId.
func (h *PhotoHandler) Get(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	photo, err := h.store.GetPhoto(c.Request.Context(), code, c.Param("photoId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, photoResponse(*photo, false))
}

// Delete handles DELETE /v1/events/:code/photos/:photoId.
func (h *PhotoHandler) Delete(c *gin.Context) {
	code, ok := eventCode(c)
	if !ok {
		return
	}
	photoID := c.Param("photoId")

	photo, err := h.store.GetPhoto(c.Request.Context(), code, photoID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.DeletePhoto(c.Request.Context(), code, photoID); err != nil {
		respondError(c, err)
		return
	}
	if h.objects != nil && photo.ObjectKey != "" {
		if err := h.objects.Delete(c.Request.Context(), photo.ObjectKey); err != nil {
			slog.Warn("delete original", "key", photo.ObjectKey, "error", err)
		}
	}
	slog.Info("photo deleted", "event_code", code, "photo_id", photoID)
	c.Status(http.StatusNoContent)
}
