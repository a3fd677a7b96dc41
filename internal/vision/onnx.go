package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
)

// session pairs a detector and an embedder. ONNX sessions bind fixed tensors
// and are used by one goroutine at a time.
type session struct {
	detector *Detector
	embedder *Embedder
}

func (s *session) close() {
	s.detector.Close()
	s.embedder.Close()
}

// ONNXExtractor runs detection and recognition in-process. It holds a pool
// of sessions so concurrent callers do not contend on one tensor set.
type ONNXExtractor struct {
	pool     chan *session
	sessions []*session
}

// InitRuntime loads the ONNX Runtime shared library. Call once per process.
func InitRuntime() error {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

func NewONNXExtractor(cfg config.VisionConfig) (*ONNXExtractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectorModel)
	embPath := filepath.Join(cfg.ModelsDir, cfg.EmbedderModel)

	workers := max(cfg.WorkerCount, 1)
	e := &ONNXExtractor{pool: make(chan *session, workers)}

	slog.Info("loading face models", "detector", detPath, "embedder", embPath, "sessions", workers)
	for i := 0; i < workers; i++ {
		det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("load detector: %w", err)
		}
		emb, err := NewEmbedder(EmbedderConfig{
			ModelPath:  embPath,
			OutputName: cfg.EmbedderOutput,
			Dim:        cfg.DescriptorDim,
		}, nil)
		if err != nil {
			det.Close()
			e.Close()
			return nil, fmt.Errorf("load embedder: %w", err)
		}
		s := &session{detector: det, embedder: emb}
		e.sessions = append(e.sessions, s)
		e.pool <- s
	}
	slog.Info("face extractor ready")
	return e, nil
}

// Extract detects every face in img and computes its descriptor. Faces are
// ordered top-to-bottom, then left-to-right.
func (e *ONNXExtractor) Extract(ctx context.Context, img image.Image) ([]models.Face, error) {
	var s *session
	select {
	case s = <-e.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.pool <- s }()

	bounds := img.Bounds()

	start := time.Now()
	detW, detH := s.detector.InputSize()
	detections, err := s.detector.Detect(preprocessForDetection(img, detW, detH), bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	start = time.Now()
	embW, embH := s.embedder.InputSize()
	faces := make([]models.Face, 0, len(detections))
	for _, det := range detections {
		// Detector boxes are relative to the image origin.
		box := models.Rect{
			X1: det.Box.X1 + float32(bounds.Min.X),
			Y1: det.Box.Y1 + float32(bounds.Min.Y),
			X2: det.Box.X2 + float32(bounds.Min.X),
			Y2: det.Box.Y2 + float32(bounds.Min.Y),
		}
		crop := cropFace(img, box)
		if crop == nil {
			continue
		}
		descriptor, err := s.embedder.Embed(preprocessForEmbedding(crop, embW, embH))
		if err != nil {
			return nil, err
		}
		faces = append(faces, models.Face{Descriptor: descriptor, BBox: det.Box})
	}
	observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return faces, nil
}

// Close releases all ONNX sessions.
func (e *ONNXExtractor) Close() {
	for _, s := range e.sessions {
		s.close()
	}
	e.sessions = nil
}

// onnxLibPath returns the ONNX Runtime shared library name for the platform.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
