package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/vision"
)

// Matcher is the part of the matching engine the query path needs.
type Matcher interface {
	Match(ctx context.Context, eventCode string, query models.Vector, threshold float64, maxResults int) (models.MatchResult, error)
	Threshold() float64
	MaxResults() int
}

// Querier finds an event's photos that contain the person in a selfie.
type Querier struct {
	extractor vision.Extractor
	matcher   Matcher
	cfg       IngestConfig
}

func NewQuerier(extractor vision.Extractor, matcher Matcher, cfg IngestConfig) *Querier {
	return &Querier{extractor: extractor, matcher: matcher, cfg: cfg}
}

// Query matches the dominant face of selfie against eventCode. maxResults
// <= 0 falls back to the configured cap, where zero means unlimited.
func (q *Querier) Query(ctx context.Context, eventCode string, selfie []byte, maxResults int) (models.MatchResult, error) {
	start := time.Now()
	result, err := q.query(ctx, eventCode, selfie, maxResults)
	observability.StageDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := string(Category(err))
		if errors.Is(err, ErrNoFaceInSelfie) {
			outcome = "no_face"
		}
		observability.MatchQueries.WithLabelValues(outcome).Inc()
		logError("selfie query failed", err, "event_code", eventCode)
		return nil, err
	}
	observability.MatchQueries.WithLabelValues("ok").Inc()
	slog.Info("selfie matched", "event_code", eventCode, "matches", len(result))
	return result, nil
}

func (q *Querier) query(ctx context.Context, eventCode string, selfie []byte, maxResults int) (models.MatchResult, error) {
	img, _, err := Decode(selfie, q.cfg.MaxPixels)
	if err != nil {
		return nil, err
	}

	faces, err := extract(ctx, q.extractor, img, q.cfg.ExtractionTimeout)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceInSelfie
	}
	face := SelectFace(faces)

	if maxResults <= 0 {
		maxResults = q.matcher.MaxResults()
	}
	result, err := q.matcher.Match(ctx, eventCode, face.Descriptor, q.matcher.Threshold(), maxResults)
	if err != nil {
		return nil, fmt.Errorf("match selfie: %w", err)
	}
	return result, nil
}

// SelectFace picks the face a selfie is about: the largest bounding box,
// then the highest, then the leftmost, then the first reported.
func SelectFace(faces []models.Face) models.Face {
	best := faces[0]
	for _, f := range faces[1:] {
		if better(f.BBox, best.BBox) {
			best = f
		}
	}
	return best
}

func better(a, b models.Rect) bool {
	if a.Area() != b.Area() {
		return a.Area() > b.Area()
	}
	if a.Y1 != b.Y1 {
		return a.Y1 < b.Y1
	}
	return a.X1 < b.X1
}
