package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/eventface/internal/config"
)

// PhotoObjects keeps original upload bytes between the API and the worker.
type PhotoObjects struct {
	client *minio.Client
	bucket string
}

func NewPhotoObjects(cfg config.MinIOConfig) (*PhotoObjects, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &PhotoObjects{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PhotoKey is the object key of a photo's original bytes.
func PhotoKey(eventCode, photoID string) string {
	return eventPrefix(eventCode) + "photos/" + photoID
}

func eventPrefix(eventCode string) string {
	return "events/" + eventCode + "/"
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *PhotoObjects) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (s *PhotoObjects) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *PhotoObjects) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

func (s *PhotoObjects) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// DeleteEvent removes every object stored for an event in one batch request.
// A listing failure is reported even when every listed object was removed.
func (s *PhotoObjects) DeleteEvent(ctx context.Context, eventCode string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listed := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    eventPrefix(eventCode),
		Recursive: true,
	})
	objectsCh := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	go func() {
		defer close(objectsCh)
		listErr <- forwardObjects(ctx, listed, objectsCh)
	}()

	var removeErr error
	for result := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil && removeErr == nil {
			removeErr = fmt.Errorf("delete object %s: %w", result.ObjectName, result.Err)
			// Stop listing but keep draining results.
			cancel()
		}
	}
	if removeErr != nil {
		return removeErr
	}
	// RemoveObjects drains objectsCh before closing its results, so the
	// lister has already finished unless RemoveObjects gave up early.
	cancel()
	if err := <-listErr; err != nil {
		return fmt.Errorf("list objects of event %s: %w", eventCode, err)
	}
	return nil
}

// forwardObjects copies listed objects to out until the listing ends. It
// returns the first listing error, or ctx.Err() if ctx ends first.
func forwardObjects(ctx context.Context, in <-chan minio.ObjectInfo, out chan<- minio.ObjectInfo) error {
	for obj := range in {
		if obj.Err != nil {
			return obj.Err
		}
		select {
		case out <- obj:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Ping checks MinIO connectivity.
func (s *PhotoObjects) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
