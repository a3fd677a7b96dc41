package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/vision"
)

type extractResult struct {
	faces []models.Face
	err   error
}

// extract runs the extractor in its own goroutine and stops waiting at the
// deadline. A timed-out call keeps running in the background until the
// extractor observes the cancelled context.
func extract(ctx context.Context, ex vision.Extractor, img image.Image, timeout time.Duration) ([]models.Face, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan extractResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- extractResult{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()
		faces, err := ex.Extract(ctx, img)
		done <- extractResult{faces: faces, err: err}
	}()

	var res extractResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = extractResult{err: ctx.Err()}
	}
	observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	switch {
	case res.err == nil:
		return res.faces, nil
	case errors.Is(res.err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", ErrExtractionTimeout, timeout)
	case errors.Is(res.err, context.Canceled), errors.Is(res.err, vision.ErrUnavailable):
		return nil, res.err
	}
	return nil, fmt.Errorf("%w: %v", ErrExtraction, res.err)
}
