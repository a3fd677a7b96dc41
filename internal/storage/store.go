package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/your-org/eventface/internal/models"
)

var (
	ErrNotFound          = errors.New("photo not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrDuplicatePhoto    = errors.New("photo already ingested")
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
	ErrInvalidStatus     = errors.New("invalid photo status")
)

// DescriptorStore is the event-scoped embedding store. All methods are safe
// for concurrent use.
type DescriptorStore interface {
	// Dimension is the fixed descriptor length of the deployment.
	Dimension() int

	CreateEvent(ctx context.Context, code string) (*models.Event, error)
	EventExists(ctx context.Context, code string) (bool, error)
	// DeleteEvent removes the event with its photos and descriptors.
	DeleteEvent(ctx context.Context, code string) error

	// BeginPhoto claims photoID for ingestion. When the photo already exists
	// it is returned unchanged with created=false. A photo that failed for a
	// transient reason is reset to pending and returned with created=true.
	BeginPhoto(ctx context.Context, eventCode, photoID, contentHash, objectKey string) (photo *models.Photo, created bool, err error)
	GetPhoto(ctx context.Context, eventCode, photoID string) (*models.Photo, error)
	// Put persists all faces of a photo atomically.
	Put(ctx context.Context, eventCode, photoID string, faces []models.Face) error
	MarkStatus(ctx context.Context, eventCode, photoID string, status models.PhotoStatus, reason models.FailureReason) error
	DeletePhoto(ctx context.Context, eventCode, photoID string) error

	// DescriptorsFor returns a point-in-time snapshot of the event's descriptors.
	// An unknown event yields an empty snapshot.
	DescriptorsFor(ctx context.Context, eventCode string) (*Snapshot, error)
	// Revision changes whenever the event's descriptor set changes. Values
	// come from a store-wide sequence and are never reused, even by an event
	// that is deleted and created again under the same code.
	Revision(ctx context.Context, eventCode string) (int64, error)
	Stats(ctx context.Context, eventCode string) (*models.EventStats, error)
	// SweepStale fails photos that stayed pending since before cutoff.
	SweepStale(ctx context.Context, cutoff time.Time) ([]models.Photo, error)

	Ping(ctx context.Context) error
	Close()
}

type entry struct {
	photoID    string
	descriptor models.Vector
}

// Snapshot is an immutable view of one event's descriptors. It may be
// iterated any number of times and always yields the same pairs.
type Snapshot struct {
	revision int64
	entries  []entry
}

func newSnapshot(revision int64, entries []entry) *Snapshot {
	return &Snapshot{revision: revision, entries: entries}
}

// All yields (photoID, descriptor) pairs. Descriptors must not be modified.
func (s *Snapshot) All() iter.Seq2[string, models.Vector] {
	return func(yield func(string, models.Vector) bool) {
		for _, e := range s.entries {
			if !yield(e.photoID, e.descriptor) {
				return
			}
		}
	}
}

func (s *Snapshot) Len() int {
	return len(s.entries)
}

func (s *Snapshot) Revision() int64 {
	return s.revision
}

// checkDimension validates every face before anything is written.
func checkDimension(dim int, faces []models.Face) error {
	for i, f := range faces {
		if len(f.Descriptor) != dim {
			return fmt.Errorf("face %d has %d values, want %d: %w", i, len(f.Descriptor), dim, ErrDimensionMismatch)
		}
	}
	return nil
}
