package models

import (
	"time"
)

type PhotoStatus string

const (
	PhotoStatusPending        PhotoStatus = "pending"
	PhotoStatusProcessed      PhotoStatus = "processed"
	PhotoStatusNoFaceDetected PhotoStatus = "no_face_detected"
	PhotoStatusFailed         PhotoStatus = "failed"
)

// Terminal reports whether the status is final. A photo leaves pending exactly once.
func (s PhotoStatus) Terminal() bool {
	switch s {
	case PhotoStatusProcessed, PhotoStatusNoFaceDetected, PhotoStatusFailed:
		return true
	}
	return false
}

func (s PhotoStatus) Valid() bool {
	return s == PhotoStatusPending || s.Terminal()
}

type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonUnsupportedFormat FailureReason = "unsupported_format"
	ReasonCorruptImage      FailureReason = "corrupt_image"
	ReasonExtractionTimeout FailureReason = "extraction_timeout"
	ReasonExtractionError   FailureReason = "extraction_error"
)

// Transient reports whether a failure came from the extractor rather than the image.
// Photos that failed transiently may be claimed again by an explicit re-upload.
func (r FailureReason) Transient() bool {
	return r == ReasonExtractionTimeout || r == ReasonExtractionError
}

type Photo struct {
	EventCode     string        `json:"event_code" db:"event_code"`
	ID            string        `json:"photo_id" db:"photo_id"`
	ContentHash   string        `json:"content_hash" db:"content_hash"`
	Status        PhotoStatus   `json:"status" db:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty" db:"failure_reason"`
	FaceCount     int           `json:"face_count" db:"face_count"`
	ObjectKey     string        `json:"object_key,omitempty" db:"object_key"` // MinIO key of the original, async mode only
	UploadedAt    time.Time     `json:"uploaded_at" db:"uploaded_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
}

// IngestTask is the message published to NATS for async ingestion.
type IngestTask struct {
	TaskID    string    `json:"task_id"`
	EventCode string    `json:"event_code"`
	PhotoID   string    `json:"photo_id"`
	ObjectKey string    `json:"object_key"`
	Enqueued  time.Time `json:"enqueued"`
}

// StatusNotification is published whenever a photo reaches a terminal status.
type StatusNotification struct {
	EventCode     string        `json:"event_code"`
	PhotoID       string        `json:"photo_id"`
	Status        PhotoStatus   `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	FaceCount     int           `json:"face_count"`
	Timestamp     time.Time     `json:"timestamp"`
}
