package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/your-org/eventface/internal/models"
)

type memPhoto struct {
	photo models.Photo
	faces []models.Face
}

type memEvent struct {
	event  models.Event
	photos map[string]*memPhoto
	// entries is replaced, never modified in place, so snapshots can share it.
	entries []entry
}

// MemoryStore is an in-process DescriptorStore. A single RWMutex guards the
// maps; descriptor scans only hold the read lock long enough to copy a slice
// header.
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	events map[string]*memEvent
	now    func() time.Time
	// lastRevision is store-wide so an event code that is deleted and
	// recreated never sees a revision it had before.
	lastRevision int64
}

var _ DescriptorStore = (*MemoryStore)(nil)

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:    dim,
		events: make(map[string]*memEvent),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Dimension() int {
	return m.dim
}

func (m *MemoryStore) CreateEvent(_ context.Context, code string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev, ok := m.events[code]; ok {
		cp := ev.event
		return &cp, nil
	}
	ev := &memEvent{
		event:  models.Event{Code: code, Revision: m.nextRevision(), CreatedAt: m.now()},
		photos: make(map[string]*memPhoto),
	}
	m.events[code] = ev
	cp := ev.event
	return &cp, nil
}

// nextRevision must be called with mu held for writing.
func (m *MemoryStore) nextRevision() int64 {
	m.lastRevision++
	return m.lastRevision
}

func (m *MemoryStore) EventExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[code]
	return ok, nil
}

func (m *MemoryStore) DeleteEvent(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[code]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, code)
	return nil
}

func (m *MemoryStore) BeginPhoto(_ context.Context, eventCode, photoID, contentHash, objectKey string) (*models.Photo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return nil, false, ErrEventNotFound
	}

	if p, ok := ev.photos[photoID]; ok {
		if p.photo.Status == models.PhotoStatusFailed && p.photo.FailureReason.Transient() {
			p.photo.Status = models.PhotoStatusPending
			p.photo.FailureReason = models.ReasonNone
			p.photo.UploadedAt = m.now()
			p.photo.ProcessedAt = nil
			p.photo.ObjectKey = objectKey
			cp := p.photo
			return &cp, true, nil
		}
		cp := p.photo
		return &cp, false, nil
	}

	p := &memPhoto{photo: models.Photo{
		EventCode:   eventCode,
		ID:          photoID,
		ContentHash: contentHash,
		Status:      models.PhotoStatusPending,
		ObjectKey:   objectKey,
		UploadedAt:  m.now(),
	}}
	ev.photos[photoID] = p
	cp := p.photo
	return &cp, true, nil
}

func (m *MemoryStore) GetPhoto(_ context.Context, eventCode, photoID string) (*models.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return nil, ErrEventNotFound
	}
	p, ok := ev.photos[photoID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p.photo
	return &cp, nil
}

// Put stores the faces of a photo and marks it processed in one step. A photo
// that already has descriptors or a terminal status is left untouched.
func (m *MemoryStore) Put(_ context.Context, eventCode, photoID string, faces []models.Face) error {
	if err := checkDimension(m.dim, faces); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return ErrEventNotFound
	}
	p, ok := ev.photos[photoID]
	if !ok {
		p = &memPhoto{photo: models.Photo{
			EventCode:  eventCode,
			ID:         photoID,
			Status:     models.PhotoStatusPending,
			UploadedAt: m.now(),
		}}
		ev.photos[photoID] = p
	}
	if len(p.faces) > 0 || p.photo.Status.Terminal() {
		return ErrDuplicatePhoto
	}

	stored := make([]models.Face, len(faces))
	next := make([]entry, len(ev.entries), len(ev.entries)+len(faces))
	copy(next, ev.entries)
	for i, f := range faces {
		stored[i] = models.Face{Descriptor: slices.Clone(f.Descriptor), BBox: f.BBox}
		next = append(next, entry{photoID: photoID, descriptor: stored[i].Descriptor})
	}

	now := m.now()
	p.faces = stored
	p.photo.Status = models.PhotoStatusProcessed
	p.photo.FaceCount = len(stored)
	p.photo.ProcessedAt = &now
	ev.entries = next
	ev.event.Revision = m.nextRevision()
	return nil
}

func (m *MemoryStore) MarkStatus(_ context.Context, eventCode, photoID string, status models.PhotoStatus, reason models.FailureReason) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return ErrEventNotFound
	}
	p, ok := ev.photos[photoID]
	if !ok {
		return ErrNotFound
	}
	if p.photo.Status.Terminal() {
		return fmt.Errorf("%w: photo %s is already %s", ErrInvalidStatus, photoID, p.photo.Status)
	}

	p.photo.Status = status
	p.photo.FailureReason = reason
	if status.Terminal() {
		now := m.now()
		p.photo.ProcessedAt = &now
	}
	return nil
}

func (m *MemoryStore) DeletePhoto(_ context.Context, eventCode, photoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return ErrEventNotFound
	}
	p, ok := ev.photos[photoID]
	if !ok {
		return ErrNotFound
	}
	delete(ev.photos, photoID)

	if len(p.faces) > 0 {
		next := make([]entry, 0, len(ev.entries)-len(p.faces))
		for _, e := range ev.entries {
			if e.photoID != photoID {
				next = append(next, e)
			}
		}
		ev.entries = next
		ev.event.Revision = m.nextRevision()
	}
	return nil
}

func (m *MemoryStore) DescriptorsFor(_ context.Context, eventCode string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return newSnapshot(0, nil), nil
	}
	return newSnapshot(ev.event.Revision, ev.entries), nil
}

func (m *MemoryStore) Revision(_ context.Context, eventCode string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return 0, nil
	}
	return ev.event.Revision, nil
}

func (m *MemoryStore) Stats(_ context.Context, eventCode string) (*models.EventStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[eventCode]
	if !ok {
		return nil, ErrEventNotFound
	}

	stats := &models.EventStats{
		EventCode:   eventCode,
		TotalPhotos: len(ev.photos),
		TotalFaces:  len(ev.entries),
		ByStatus:    make(map[models.PhotoStatus]int),
		PhotoIDs:    make([]string, 0, len(ev.photos)),
	}
	for id, p := range ev.photos {
		stats.ByStatus[p.photo.Status]++
		stats.PhotoIDs = append(stats.PhotoIDs, id)
	}
	slices.Sort(stats.PhotoIDs)
	return stats, nil
}

func (m *MemoryStore) SweepStale(_ context.Context, cutoff time.Time) ([]models.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []models.Photo
	now := m.now()
	for _, ev := range m.events {
		for _, p := range ev.photos {
			if p.photo.Status != models.PhotoStatusPending || !p.photo.UploadedAt.Before(cutoff) {
				continue
			}
			p.photo.Status = models.PhotoStatusFailed
			p.photo.FailureReason = models.ReasonExtractionTimeout
			p.photo.ProcessedAt = &now
			swept = append(swept, p.photo)
		}
	}
	return swept, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() {}
