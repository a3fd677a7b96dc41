package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/pipeline"
	"github.com/your-org/eventface/internal/queue"
	"github.com/your-org/eventface/internal/storage"
	"github.com/your-org/eventface/internal/vision"
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

	slog.Info("starting eventface worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
		"extractor", cfg.Vision.Extractor,
	)

	if cfg.Storage.Driver != "postgres" {
		slog.Error("worker requires the postgres storage driver", "driver", cfg.Storage.Driver)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewPostgresStore(cfg.Database, cfg.Vision.DescriptorDim)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}

	objects, err := storage.NewPhotoObjects(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	var extractor vision.Extractor
	if cfg.Vision.Extractor == "remote" {
		extractor = vision.NewRemoteExtractor(cfg.Vision.RemoteURL, cfg.Vision.DescriptorDim, cfg.Vision.ExtractionTimeout)
	} else {
		if err := vision.InitRuntime(); err != nil {
			slog.Error("init onnx runtime", "error", err)
			os.Exit(1)
		}
		defer vision.DestroyRuntime()

		onnx, err := vision.NewONNXExtractor(cfg.Vision)
		if err != nil {
			slog.Error("init face extractor", "error", err)
			os.Exit(1)
		}
		defer onnx.Close()
		extractor = onnx
	}

	ingestor := pipeline.NewIngestor(store, extractor, pipeline.IngestConfig{
		ExtractionTimeout: cfg.Vision.ExtractionTimeout,
		MaxPixels:         cfg.Ingestion.MaxPixels,
	}, pipeline.WithObjects(objects), pipeline.WithNotifier(producer))

	slog.Info("ingestion pipeline initialized")

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeIngest(ctx, "ingest-workers", ingestor.ProcessTask, cfg.Vision.WorkerCount); err != nil {
		slog.Error("start ingest consumer", "error", err)
		os.Exit(1)
	}

	// Photos whose task was lost or exhausted its redeliveries would stay
	// pending forever.
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err = scheduler.Every(cfg.Ingestion.SweepInterval).Do(func() {
		cutoff := time.Now().Add(-cfg.Ingestion.StaleAfter)
		n, err := ingestor.SweepStale(ctx, cutoff)
		if err != nil {
			slog.Error("sweep stale photos", "error", err)
			return
		}
		if n > 0 {
			slog.Info("swept stale photos", "count", n)
		}
	})
	if err != nil {
		slog.Error("schedule stale sweeper", "error", err)
		os.Exit(1)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
