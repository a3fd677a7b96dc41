package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/internal/vision"
	"github.com/your-org/eventface/pkg/dto"
)

func abortWith(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg, Code: code})
}

// statusFor maps a pipeline or store error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrEventNotFound), errors.Is(err, pipeline.ErrEventDeleted):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "photo_not_found"
	case errors.Is(err, pipeline.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, string(models.ReasonUnsupportedFormat)
	case errors.Is(err, pipeline.ErrCorruptImage):
		return http.StatusUnprocessableEntity, string(models.ReasonCorruptImage)
	case errors.Is(err, pipeline.ErrNoFaceInSelfie):
		return http.StatusUnprocessableEntity, "no_face_in_selfie"
	case errors.Is(err, pipeline.ErrExtractionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(models.ReasonExtractionTimeout)
	case errors.Is(err, vision.ErrUnavailable):
		return http.StatusServiceUnavailable, "extractor_unavailable"
	case errors.Is(err, pipeline.ErrExtraction):
		return http.StatusServiceUnavailable, string(models.ReasonExtractionError)
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	abortWith(c, status, code, msg)
}

// eventCode validates the :code path parameter.
func eventCode(c *gin.Context) (string, bool) {
	code := c.Param("code")
	if !models.ValidEventCode(code) {
		abortWith(c, http.StatusBadRequest, "invalid_event_code", "event code must be 1-64 characters of [A-Za-z0-9_-]")
		return "", false
	}
	return code, true
}

// readImage reads the multipart "image" field, enforcing maxBytes on the
// whole request body.
func readImage(c *gin.Context, maxBytes int64) ([]byte, bool) {
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWith(c, http.StatusRequestEntityTooLarge, "image_too_large", "image exceeds upload limit")
			return nil, false
		}
		abortWith(c, http.StatusBadRequest, "image_required", "image file required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		abortWith(c, http.StatusBadRequest, "image_required", "read image failed")
		return nil, false
	}
	if len(data) == 0 {
		abortWith(c, http.StatusBadRequest, "image_required", "image file is empty")
		return nil, false
	}
	return data, true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func photoResponse(p models.Photo, duplicate bool) dto.PhotoResponse {
	resp := dto.PhotoResponse{
		PhotoID:    p.ID,
		EventCode:  p.EventCode,
		Status:     string(p.Status),
		Reason:     string(p.FailureReason),
		FaceCount:  p.FaceCount,
		Duplicate:  duplicate,
		UploadedAt: formatTime(p.UploadedAt),
	}
	if p.ProcessedAt != nil {
		resp.ProcessedAt = formatTime(*p.ProcessedAt)
	}
	return resp
}
