package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/eventface/internal/api"
	"github.com/your-org/eventface/internal/api/handlers"
	"github.com/your-org/eventface/internal/api/ws"
	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/matching"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/queue"
	"github.com/your-org/eventface/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting eventface API",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"extractor", cfg.Vision.Extractor,
		"async", cfg.Ingestion.Async,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ready := map[string]handlers.Pinger{"store": store}

	// Originals are only kept when photos go through the worker.
	var objects *storage.PhotoObjects
	if cfg.Ingestion.Async || cfg.MinIO.Endpoint != "" {
		objects, err = storage.NewPhotoObjects(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		ready["minio"] = objects
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	var notifier pipeline.Notifier = hub
	var producer *queue.Producer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		ready["nats"] = producer
		notifier = producer

		// Statuses come back over NATS so every replica's clients see
		// photos finished by any replica or worker.
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create status consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		if err := consumer.ConsumeStatus(ctx, statusConsumerName(), hub.NotifyStatus); err != nil {
			slog.Warn("start status consumer", "error", err)
		}
	} else if cfg.Ingestion.Async {
		slog.Error("async ingestion requires nats.url")
		os.Exit(1)
	}

	engine := matching.NewEngine(store, matching.ConfigFrom(cfg.Matching))
	ingestCfg := pipeline.IngestConfig{
		ExtractionTimeout: cfg.Vision.ExtractionTimeout,
		MaxPixels:         cfg.Ingestion.MaxPixels,
	}

	// A missing extractor is not fatal: matches (and sync uploads) answer
	// 503 while status, stats and admin endpoints keep working.
	var ingestor *pipeline.Ingestor
	var querier *pipeline.Querier
	extractor, closeExtractor, err := openExtractor(cfg)
	if err != nil {
		slog.Warn("face extractor unavailable", "error", err)
	} else {
		defer closeExtractor()
		if p, ok := extractor.(handlers.Pinger); ok {
			ready["extractor"] = p
		}
		querier = pipeline.NewQuerier(extractor, engine, ingestCfg)
		slog.Info("face extractor ready", "kind", cfg.Vision.Extractor)
	}

	// Async uploads only enqueue, so they work without a local extractor.
	switch {
	case cfg.Ingestion.Async:
		ingestor = pipeline.NewIngestor(store, extractor, ingestCfg,
			pipeline.WithNotifier(notifier), pipeline.WithAsync(producer, objects))
	case extractor != nil:
		ingestor = pipeline.NewIngestor(store, extractor, ingestCfg, pipeline.WithNotifier(notifier))
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Store:          store,
		Ingestor:       ingestor,
		Querier:        querier,
		Hub:            hub,
		Objects:        objects,
		Index:          engine,
		ReadyChecks:    ready,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Vision.ExtractionTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Vision.ExtractionTimeout+10*time.Second)
	defer shutdownCancel()

	// In-flight uploads finish before the store closes.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

func statusConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid%d", os.Getpid())
	}
	return "api-status-" + host
}
