package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/your-org/eventface/internal/matching"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/storage"
)

type spyMatcher struct {
	calls      int
	query      models.Vector
	maxResults int
	result     models.MatchResult
}

func (s *spyMatcher) Match(_ context.Context, _ string, q models.Vector, _ float64, maxResults int) (models.MatchResult, error) {
	s.calls++
	s.query = q
	s.maxResults = maxResults
	return s.result, nil
}

func (s *spyMatcher) Threshold() float64 { return 0.6 }
func (s *spyMatcher) MaxResults() int    { return 50 }

func TestQuery_NoFace(t *testing.T) {
	m := &spyMatcher{}
	q := NewQuerier(&fakeExtractor{}, m, IngestConfig{ExtractionTimeout: time.Second})

	_, err := q.Query(context.Background(), "E1", pngBytes(t, 1), 0)
	if !errors.Is(err, ErrNoFaceInSelfie) {
		t.Fatalf("expected ErrNoFaceInSelfie, got %v", err)
	}
	if m.calls != 0 {
		t.Error("matcher must not run without a face")
	}
}

func TestQuery_DecodeErrors(t *testing.T) {
	q := NewQuerier(&fakeExtractor{}, &spyMatcher{}, IngestConfig{})
	if _, err := q.Query(context.Background(), "E1", []byte("nope"), 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestQuery_MaxResults(t *testing.T) {
	m := &spyMatcher{}
	q := NewQuerier(&fakeExtractor{faces: oneFace()}, m, IngestConfig{})

	_, _ = q.Query(context.Background(), "E1", pngBytes(t, 2), 3)
	if m.maxResults != 3 {
		t.Errorf("expected caller cap 3, got %d", m.maxResults)
	}
	_, _ = q.Query(context.Background(), "E1", pngBytes(t, 2), 0)
	if m.maxResults != 50 {
		t.Errorf("expected configured cap 50, got %d", m.maxResults)
	}
}

func TestSelectFace(t *testing.T) {
	face := func(id float32, box models.Rect) models.Face {
		return models.Face{Descriptor: models.Vector{id, 0}, BBox: box}
	}
	tests := []struct {
		name  string
		faces []models.Face
		want  float32
	}{
		{"single", []models.Face{face(1, models.Rect{X2: 1, Y2: 1})}, 1},
		{"largest wins", []models.Face{
			face(1, models.Rect{X2: 2, Y2: 2}),
			face(2, models.Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}),
		}, 2},
		{"tie by top edge", []models.Face{
			face(1, models.Rect{X1: 0, Y1: 10, X2: 4, Y2: 14}),
			face(2, models.Rect{X1: 20, Y1: 5, X2: 24, Y2: 9}),
		}, 2},
		{"tie by left edge", []models.Face{
			face(1, models.Rect{X1: 10, Y1: 0, X2: 14, Y2: 4}),
			face(2, models.Rect{X1: 3, Y1: 0, X2: 7, Y2: 4}),
		}, 2},
		{"full tie keeps first", []models.Face{
			face(1, models.Rect{X2: 4, Y2: 4}),
			face(2, models.Rect{X2: 4, Y2: 4}),
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectFace(tt.faces).Descriptor[0]; got != tt.want {
				t.Errorf("selected face %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuery_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(testDim)
	_, _ = store.CreateEvent(ctx, "E1")
	_ = store.Put(ctx, "E1", "p1", []models.Face{{Descriptor: models.Vector{0.3, 0}}})
	_ = store.Put(ctx, "E1", "p2", []models.Face{{Descriptor: models.Vector{0.8, 0}}, {Descriptor: models.Vector{0, 0.1}}})

	engine := matching.NewEngine(store, matching.Config{Threshold: 0.5})
	ex := &fakeExtractor{faces: []models.Face{{Descriptor: models.Vector{0, 0}, BBox: models.Rect{X2: 5, Y2: 5}}}}
	q := NewQuerier(ex, engine, IngestConfig{ExtractionTimeout: time.Second})

	got, err := q.Query(ctx, "E1", pngBytes(t, 3), 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].PhotoID != "p2" || got[1].PhotoID != "p1" {
		t.Errorf("unexpected result: %+v", got)
	}
}
