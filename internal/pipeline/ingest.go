package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/internal/vision"
)

// Notifier receives a photo's terminal status.
type Notifier interface {
	NotifyStatus(ctx context.Context, n models.StatusNotification) error
}

// TaskPublisher enqueues photos for the worker in async mode.
type TaskPublisher interface {
	PublishIngest(ctx context.Context, task models.IngestTask) error
}

// ObjectStore holds original bytes between the API and the worker.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type IngestConfig struct {
	ExtractionTimeout time.Duration
	MaxPixels         int
}

type Option func(*Ingestor)

// WithNotifier publishes terminal statuses to n.
func WithNotifier(n Notifier) Option {
	return func(in *Ingestor) { in.notifier = n }
}

// WithAsync makes Ingest hand photos to the worker instead of processing
// them inline.
func WithAsync(tasks TaskPublisher, objects ObjectStore) Option {
	return func(in *Ingestor) {
		in.tasks = tasks
		in.objects = objects
	}
}

// WithObjects lets a worker read and clean up originals without enabling
// async submission.
func WithObjects(objects ObjectStore) Option {
	return func(in *Ingestor) { in.objects = objects }
}

// Ingestor takes a photo from raw bytes to a terminal status.
type Ingestor struct {
	store     storage.DescriptorStore
	extractor vision.Extractor
	cfg       IngestConfig
	notifier  Notifier
	tasks     TaskPublisher
	objects   ObjectStore
}

func NewIngestor(store storage.DescriptorStore, extractor vision.Extractor, cfg IngestConfig, opts ...Option) *Ingestor {
	in := &Ingestor{store: store, extractor: extractor, cfg: cfg}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestResult describes the photo after an upload. Duplicate is set when
// the bytes were already known and no work was done.
type IngestResult struct {
	Photo     models.Photo
	Duplicate bool
}

// Ingest stores one uploaded photo for an event. Identical bytes always map
// to the same photo ID; a repeated upload returns the existing status.
//
// When processing ends in a failed status, the result is returned together
// with the cause so callers can report both.
func (in *Ingestor) Ingest(ctx context.Context, eventCode string, data []byte) (*IngestResult, error) {
	photoID := ContentHash(data)
	log := slog.With("event_code", eventCode, "photo_id", photoID)

	objectKey := ""
	if in.tasks != nil {
		objectKey = storage.PhotoKey(eventCode, photoID)
	}

	photo, created, err := in.store.BeginPhoto(ctx, eventCode, photoID, photoID, objectKey)
	if err != nil {
		return nil, fmt.Errorf("claim photo: %w", err)
	}
	if !created {
		observability.DuplicateUploads.Inc()
		log.Info("duplicate upload", "status", photo.Status)
		return &IngestResult{Photo: *photo, Duplicate: true}, nil
	}

	// Once claimed, the photo must reach a terminal status even if the
	// client goes away.
	ctx = context.WithoutCancel(ctx)

	if in.tasks != nil {
		return in.enqueue(ctx, *photo, data)
	}
	return in.process(ctx, *photo, data)
}

func (in *Ingestor) enqueue(ctx context.Context, photo models.Photo, data []byte) (*IngestResult, error) {
	err := in.objects.Put(ctx, photo.ObjectKey, data, http.DetectContentType(data))
	if err == nil {
		err = in.tasks.PublishIngest(ctx, models.IngestTask{
			TaskID:    uuid.NewString(),
			EventCode: photo.EventCode,
			PhotoID:   photo.ID,
			ObjectKey: photo.ObjectKey,
			Enqueued:  time.Now().UTC(),
		})
	}
	if err != nil {
		err = fmt.Errorf("%w: enqueue: %v", vision.ErrUnavailable, err)
		return in.finish(ctx, photo, nil, err)
	}
	slog.Info("photo queued", "event_code", photo.EventCode, "photo_id", photo.ID)
	return &IngestResult{Photo: photo}, nil
}

// ProcessTask runs a queued photo. It returns an error only when the task
// should be redelivered.
func (in *Ingestor) ProcessTask(ctx context.Context, task models.IngestTask) error {
	log := slog.With("event_code", task.EventCode, "photo_id", task.PhotoID, "task_id", task.TaskID)

	photo, err := in.store.GetPhoto(ctx, task.EventCode, task.PhotoID)
	switch {
	case errors.Is(err, storage.ErrEventNotFound):
		logError("discarding task", ErrEventDeleted, "event_code", task.EventCode, "photo_id", task.PhotoID)
		in.cleanup(ctx, task.ObjectKey)
		return nil
	case errors.Is(err, storage.ErrNotFound):
		log.Warn("discarding task for unknown photo")
		in.cleanup(ctx, task.ObjectKey)
		return nil
	case err != nil:
		return fmt.Errorf("load photo: %w", err)
	}
	if photo.Status.Terminal() {
		log.Info("task already processed", "status", photo.Status)
		return nil
	}

	data, err := in.objects.Get(ctx, task.ObjectKey)
	if err != nil {
		return fmt.Errorf("load original: %w", err)
	}

	if _, err := in.process(ctx, *photo, data); err != nil && Category(err) == CategoryInternal {
		return err
	}
	in.cleanup(ctx, task.ObjectKey)
	return nil
}

func (in *Ingestor) cleanup(ctx context.Context, key string) {
	if in.objects == nil || key == "" {
		return
	}
	if err := in.objects.Delete(ctx, key); err != nil {
		slog.Warn("delete original", "key", key, "error", err)
	}
}

// process decodes, extracts and records the outcome for a pending photo.
func (in *Ingestor) process(ctx context.Context, photo models.Photo, data []byte) (*IngestResult, error) {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	}()

	img, format, err := Decode(data, in.cfg.MaxPixels)
	if err != nil {
		return in.finish(ctx, photo, nil, err)
	}
	slog.Debug("photo decoded", "photo_id", photo.ID, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	faces, err := extract(ctx, in.extractor, img, in.cfg.ExtractionTimeout)
	if err != nil {
		return in.finish(ctx, photo, nil, err)
	}
	return in.finish(ctx, photo, faces, nil)
}

// finish records the terminal status for photo. cause is the processing
// error, if any; faces are stored when there is no cause.
func (in *Ingestor) finish(ctx context.Context, photo models.Photo, faces []models.Face, cause error) (*IngestResult, error) {
	log := slog.With("event_code", photo.EventCode, "photo_id", photo.ID)

	var err error
	switch {
	case cause != nil:
		photo.Status, photo.FailureReason = models.PhotoStatusFailed, Reason(cause)
		err = in.store.MarkStatus(ctx, photo.EventCode, photo.ID, photo.Status, photo.FailureReason)
	case len(faces) == 0:
		photo.Status = models.PhotoStatusNoFaceDetected
		err = in.store.MarkStatus(ctx, photo.EventCode, photo.ID, photo.Status, models.ReasonNone)
	default:
		photo.Status, photo.FaceCount = models.PhotoStatusProcessed, len(faces)
		err = in.store.Put(ctx, photo.EventCode, photo.ID, faces)
		if errors.Is(err, storage.ErrDimensionMismatch) {
			cause = err
			photo.Status, photo.FaceCount, photo.FailureReason = models.PhotoStatusFailed, 0, models.ReasonExtractionError
			err = in.store.MarkStatus(ctx, photo.EventCode, photo.ID, photo.Status, photo.FailureReason)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrEventNotFound):
		err = fmt.Errorf("%w: %s", ErrEventDeleted, photo.EventCode)
		logError("discarding ingestion result", err, "event_code", photo.EventCode, "photo_id", photo.ID)
		return nil, err
	case errors.Is(err, storage.ErrDuplicatePhoto), errors.Is(err, storage.ErrInvalidStatus):
		// Another writer (or the stale sweeper) finished this photo first.
		log.Warn("photo already finalized", "error", err)
	default:
		return nil, fmt.Errorf("record status: %w", err)
	}

	if stored, getErr := in.store.GetPhoto(ctx, photo.EventCode, photo.ID); getErr == nil {
		photo = *stored
	}

	if cause != nil {
		logError("photo failed", cause, "event_code", photo.EventCode, "photo_id", photo.ID, "reason", photo.FailureReason)
	} else {
		log.Info("photo processed", "status", photo.Status, "faces", photo.FaceCount)
		observability.FacesStored.Add(float64(photo.FaceCount))
	}
	observability.PhotosIngested.WithLabelValues(string(photo.Status), string(photo.FailureReason)).Inc()
	in.notify(ctx, photo)

	return &IngestResult{Photo: photo}, cause
}

func (in *Ingestor) notify(ctx context.Context, photo models.Photo) {
	if in.notifier == nil {
		return
	}
	err := in.notifier.NotifyStatus(ctx, models.StatusNotification{
		EventCode:     photo.EventCode,
		PhotoID:       photo.ID,
		Status:        photo.Status,
		FailureReason: photo.FailureReason,
		FaceCount:     photo.FaceCount,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("publish status", "photo_id", photo.ID, "error", err)
	}
}

// SweepStale fails photos that stayed pending since before cutoff and
// publishes their status.
func (in *Ingestor) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	swept, err := in.store.SweepStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale: %w", err)
	}
	for _, p := range swept {
		slog.Warn("stale photo failed", "event_code", p.EventCode, "photo_id", p.ID, "uploaded_at", p.UploadedAt)
		observability.PhotosIngested.WithLabelValues(string(p.Status), string(p.FailureReason)).Inc()
		in.notify(ctx, p)
		in.cleanup(ctx, p.ObjectKey)
	}
	observability.StalePhotosSwept.Add(float64(len(swept)))
	return len(swept), nil
}
