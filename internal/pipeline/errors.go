package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/your-org/eventface/internal/matching"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/internal/vision"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrCorruptImage      = errors.New("corrupt image")
	ErrNoFaceInSelfie    = errors.New("no face detected in selfie")
	ErrExtractionTimeout = errors.New("face extraction timed out")
	ErrExtraction        = errors.New("face extraction failed")
	// ErrEventDeleted means the event disappeared while a photo was in flight.
	ErrEventDeleted = errors.New("event deleted during ingestion")
)

type ErrorCategory string

const (
	CategoryNone      ErrorCategory = ""
	CategoryUser      ErrorCategory = "user"
	CategoryTransient ErrorCategory = "transient"
	CategoryIntegrity ErrorCategory = "integrity"
	CategoryInternal  ErrorCategory = "internal"
)

// Category classifies err for status mapping, logging and retry decisions.
func Category(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrCorruptImage),
		errors.Is(err, ErrNoFaceInSelfie),
		errors.Is(err, storage.ErrEventNotFound):
		return CategoryUser
	case errors.Is(err, ErrExtractionTimeout),
		errors.Is(err, ErrExtraction),
		errors.Is(err, vision.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	case errors.Is(err, ErrEventDeleted),
		errors.Is(err, storage.ErrDimensionMismatch),
		errors.Is(err, matching.ErrDimensionMismatch):
		return CategoryIntegrity
	}
	return CategoryInternal
}

// Reason maps a processing error onto the failure reason recorded for the photo.
func Reason(err error) models.FailureReason {
	switch {
	case err == nil:
		return models.ReasonNone
	case errors.Is(err, ErrUnsupportedFormat):
		return models.ReasonUnsupportedFormat
	case errors.Is(err, ErrCorruptImage):
		return models.ReasonCorruptImage
	case errors.Is(err, ErrExtractionTimeout):
		return models.ReasonExtractionTimeout
	}
	return models.ReasonExtractionError
}

// logError logs err at the level its category calls for.
func logError(msg string, err error, attrs ...any) {
	cat := Category(err)
	attrs = append(attrs, "error", err, "category", string(cat))
	switch cat {
	case CategoryUser:
		slog.Info(msg, attrs...)
	case CategoryTransient:
		slog.Warn(msg, attrs...)
	case CategoryIntegrity:
		observability.IntegrityErrors.WithLabelValues(integrityKind(err)).Inc()
		slog.Error(msg, attrs...)
	default:
		slog.Error(msg, attrs...)
	}
}

func integrityKind(err error) string {
	if errors.Is(err, ErrEventDeleted) {
		return "event_deleted"
	}
	return "dimension_mismatch"
}
