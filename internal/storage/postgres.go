package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/models"
)

const pgForeignKeyViolation = "23503"

const photoColumns = `event_code, photo_id, content_hash, status, failure_reason, face_count, object_key, uploaded_at, processed_at`

type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

var _ DescriptorStore = (*PostgresStore)(nil)

func NewPostgresStore(cfg config.DatabaseConfig, dim int) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(cfg.DSN(), cfg.MaxConns, dim)
}

func NewPostgresStoreFromDSN(dsn string, maxConns, dim int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, dim: dim}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Dimension() int {
	return s.dim
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, code string) (*models.Event, error) {
	ev := &models.Event{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (code) VALUES ($1)
		 ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		 RETURNING code, revision, created_at`, code,
	).Scan(&ev.Code, &ev.Revision, &ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) EventExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}
	return exists, nil
}

// DeleteEvent relies on ON DELETE CASCADE for photos and descriptors.
func (s *PostgresStore) DeleteEvent(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// --- Photos ---

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	p := &models.Photo{}
	err := row.Scan(&p.EventCode, &p.ID, &p.ContentHash, &p.Status, &p.FailureReason,
		&p.FaceCount, &p.ObjectKey, &p.UploadedAt, &p.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) BeginPhoto(ctx context.Context, eventCode, photoID, contentHash, objectKey string) (*models.Photo, bool, error) {
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		`INSERT INTO photos (event_code, photo_id, content_hash, status, object_key)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_code, photo_id) DO NOTHING
		 RETURNING `+photoColumns,
		eventCode, photoID, contentHash, models.PhotoStatusPending, objectKey))
	if err == nil {
		return p, true, nil
	}
	if isForeignKeyViolation(err) {
		return nil, false, ErrEventNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert photo: %w", err)
	}

	// Existing photo: a transient failure may be claimed again.
	p, err = scanPhoto(s.pool.QueryRow(ctx,
		`UPDATE photos
		 SET status = $3, failure_reason = '', uploaded_at = now(), processed_at = NULL, object_key = $4
		 WHERE event_code = $1 AND photo_id = $2 AND status = $5 AND failure_reason IN ($6, $7)
		 RETURNING `+photoColumns,
		eventCode, photoID, models.PhotoStatusPending, objectKey, models.PhotoStatusFailed,
		models.ReasonExtractionTimeout, models.ReasonExtractionError))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("reclaim photo: %w", err)
	}

	p, err = s.GetPhoto(ctx, eventCode, photoID)
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, eventCode, photoID string) (*models.Photo, error) {
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE event_code = $1 AND photo_id = $2`,
		eventCode, photoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.missing(ctx, eventCode)
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

// Put stores the faces of a photo and marks it processed in one transaction.
// The event row is locked for the duration, which serializes revision bumps.
func (s *PostgresStore) Put(ctx context.Context, eventCode, photoID string, faces []models.Face) error {
	if err := checkDimension(s.dim, faces); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE events SET revision = nextval('event_revision_seq') WHERE code = $1`, eventCode)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO photos (event_code, photo_id, content_hash, status)
		 VALUES ($1, $2, $2, $3)
		 ON CONFLICT (event_code, photo_id) DO NOTHING`,
		eventCode, photoID, models.PhotoStatusPending); err != nil {
		return fmt.Errorf("ensure photo: %w", err)
	}

	var status models.PhotoStatus
	var faceCount int
	if err := tx.QueryRow(ctx,
		`SELECT status, face_count FROM photos WHERE event_code = $1 AND photo_id = $2 FOR UPDATE`,
		eventCode, photoID).Scan(&status, &faceCount); err != nil {
		return fmt.Errorf("lock photo: %w", err)
	}
	if faceCount > 0 || status.Terminal() {
		return ErrDuplicatePhoto
	}

	batch := &pgx.Batch{}
	for i, f := range faces {
		batch.Queue(
			`INSERT INTO face_descriptors (event_code, photo_id, face_index, descriptor, bbox_x1, bbox_y1, bbox_x2, bbox_y2)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			eventCode, photoID, i, pgvector.NewVector(f.Descriptor),
			f.BBox.X1, f.BBox.Y1, f.BBox.X2, f.BBox.Y2)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert descriptors: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE photos SET status = $3, face_count = $4, processed_at = now()
		 WHERE event_code = $1 AND photo_id = $2`,
		eventCode, photoID, models.PhotoStatusProcessed, len(faces)); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkStatus(ctx context.Context, eventCode, photoID string, status models.PhotoStatus, reason models.FailureReason) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE photos
		 SET status = $3, failure_reason = $4,
		     processed_at = CASE WHEN $3 = $5 THEN NULL ELSE now() END
		 WHERE event_code = $1 AND photo_id = $2 AND status = $5`,
		eventCode, photoID, status, reason, models.PhotoStatusPending)
	if err != nil {
		return fmt.Errorf("mark status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	p, err := s.GetPhoto(ctx, eventCode, photoID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: photo %s is already %s", ErrInvalidStatus, photoID, p.Status)
}

func (s *PostgresStore) DeletePhoto(ctx context.Context, eventCode, photoID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete photo: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the event row before the photo row, in the same order as Put.
	var locked int
	err = tx.QueryRow(ctx, `SELECT 1 FROM events WHERE code = $1 FOR NO KEY UPDATE`, eventCode).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("lock event: %w", err)
	}

	var faceCount int
	err = tx.QueryRow(ctx,
		`DELETE FROM photos WHERE event_code = $1 AND photo_id = $2 RETURNING face_count`,
		eventCode, photoID).Scan(&faceCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("delete photo: %w", err)
	}

	if faceCount > 0 {
		if _, err := tx.Exec(ctx, `UPDATE events SET revision = nextval('event_revision_seq') WHERE code = $1`, eventCode); err != nil {
			return fmt.Errorf("bump revision: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete photo: %w", err)
	}
	return nil
}

// --- Descriptors ---

// DescriptorsFor reads the revision and all descriptors inside one
// repeatable-read transaction, so both describe the same instant.
func (s *PostgresStore) DescriptorsFor(ctx context.Context, eventCode string) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var revision int64
	err = tx.QueryRow(ctx, `SELECT revision FROM events WHERE code = $1`, eventCode).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return newSnapshot(0, nil), nil
		}
		return nil, fmt.Errorf("read revision: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT photo_id, descriptor FROM face_descriptors
		 WHERE event_code = $1 ORDER BY photo_id, face_index`, eventCode)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var photoID string
		var vec pgvector.Vector
		if err := rows.Scan(&photoID, &vec); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		entries = append(entries, entry{photoID: photoID, descriptor: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return newSnapshot(revision, entries), nil
}

// ListFaces returns the stored faces of one photo with their bounding boxes.
func (s *PostgresStore) ListFaces(ctx context.Context, eventCode, photoID string) ([]models.StoredFace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT face_index, descriptor, bbox_x1, bbox_y1, bbox_x2, bbox_y2
		 FROM face_descriptors WHERE event_code = $1 AND photo_id = $2 ORDER BY face_index`,
		eventCode, photoID)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()

	var faces []models.StoredFace
	for rows.Next() {
		sf := models.StoredFace{EventCode: eventCode, PhotoID: photoID}
		var vec pgvector.Vector
		if err := rows.Scan(&sf.Index, &vec, &sf.BBox.X1, &sf.BBox.Y1, &sf.BBox.X2, &sf.BBox.Y2); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		sf.Descriptor = vec.Slice()
		faces = append(faces, sf)
	}
	return faces, rows.Err()
}

func (s *PostgresStore) Revision(ctx context.Context, eventCode string) (int64, error) {
	var revision int64
	err := s.pool.QueryRow(ctx, `SELECT revision FROM events WHERE code = $1`, eventCode).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return revision, nil
}

func (s *PostgresStore) Stats(ctx context.Context, eventCode string) (*models.EventStats, error) {
	exists, err := s.EventExists(ctx, eventCode)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrEventNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT photo_id, status, face_count FROM photos WHERE event_code = $1 ORDER BY photo_id`, eventCode)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &models.EventStats{
		EventCode: eventCode,
		ByStatus:  make(map[models.PhotoStatus]int),
		PhotoIDs:  []string{},
	}
	for rows.Next() {
		var id string
		var status models.PhotoStatus
		var faces int
		if err := rows.Scan(&id, &status, &faces); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.TotalPhotos++
		stats.TotalFaces += faces
		stats.ByStatus[status]++
		stats.PhotoIDs = append(stats.PhotoIDs, id)
	}
	return stats, rows.Err()
}

func (s *PostgresStore) SweepStale(ctx context.Context, cutoff time.Time) ([]models.Photo, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE photos SET status = $1, failure_reason = $2, processed_at = now()
		 WHERE status = $3 AND uploaded_at < $4
		 RETURNING `+photoColumns,
		models.PhotoStatusFailed, models.ReasonExtractionTimeout, models.PhotoStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep stale photos: %w", err)
	}
	defer rows.Close()

	var swept []models.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swept photo: %w", err)
		}
		swept = append(swept, *p)
	}
	return swept, rows.Err()
}

// missing tells a missing photo apart from a missing event.
func (s *PostgresStore) missing(ctx context.Context, eventCode string) error {
	exists, err := s.EventExists(ctx, eventCode)
	if err != nil {
		return err
	}
	if !exists {
		return ErrEventNotFound
	}
	return ErrNotFound
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
