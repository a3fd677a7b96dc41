package main

import (
	"context"
	"fmt"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/internal/vision"
)

func openStore(ctx context.Context, cfg *config.Config) (storage.DescriptorStore, error) {
	dim := cfg.Vision.DescriptorDim
	if cfg.Storage.Driver == "memory" {
		return storage.NewMemoryStore(dim), nil
	}

	pg, err := storage.NewPostgresStore(cfg.Database, dim)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, nil
}

// openExtractor builds the configured face extractor and its cleanup.
func openExtractor(cfg *config.Config) (vision.Extractor, func(), error) {
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
