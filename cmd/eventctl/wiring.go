package main

import (
	"context"
	"fmt"

	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/internal/vision"
)

func openStore(ctx context.Context) (*storage.PostgresStore, error) {
	store, err := storage.NewPostgresStore(cfg.Database, cfg.Vision.DescriptorDim)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// openObjects returns nil when no object storage is configured.
func openObjects() (*storage.PhotoObjects, error) {
	if cfg.MinIO.Endpoint == "" {
		return nil, nil
	}
	return storage.NewPhotoObjects(cfg.MinIO)
}

func openExtractor() (vision.Extractor, func(), error) {
	if cfg.Vision.Extractor == "remote" {
		return vision.NewRemoteExtractor(cfg.Vision.RemoteURL, cfg.Vision.DescriptorDim, cfg.Vision.ExtractionTimeout), func() {}, nil
	}
	if err := vision.InitRuntime(); err != nil {
		return nil, nil, err
	}
	ex, err := vision.NewONNXExtractor(cfg.Vision)
	if err != nil {
		vision.DestroyRuntime()
		return nil, nil, err
	}
	return ex, func() {
		ex.Close()
		vision.DestroyRuntime()
	}, nil
}

func ingestConfig() pipeline.IngestConfig {
	return pipeline.IngestConfig{
		ExtractionTimeout: cfg.Vision.ExtractionTimeout,
		MaxPixels:         cfg.Ingestion.MaxPixels,
	}
}
