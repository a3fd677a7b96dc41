package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/storage"
)

func face(x, y float32) models.Face {
	return models.Face{Descriptor: models.Vector{x, y}, BBox: models.Rect{X2: 1, Y2: 1}}
}

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	if _, err := s.CreateEvent(ctx, "E1"); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := s.Put(ctx, "E1", "p1", []models.Face{face(0.3, 0)}); err != nil {
		t.Fatalf("put p1: %v", err)
	}
	if err := s.Put(ctx, "E1", "p2", []models.Face{face(0.8, 0), face(0, 0.1)}); err != nil {
		t.Fatalf("put p2: %v", err)
	}
	return s
}

func assertMatches(t *testing.T, got models.MatchResult, want []models.Match) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].PhotoID != want[i].PhotoID {
			t.Errorf("match %d: expected photo %s, got %s", i, want[i].PhotoID, got[i].PhotoID)
		}
		if math.Abs(got[i].Distance-want[i].Distance) > 1e-6 {
			t.Errorf("match %d: expected distance %.4f, got %.4f", i, want[i].Distance, got[i].Distance)
		}
	}
}

func TestEngine_Match_Scenario(t *testing.T) {
	e := NewEngine(seededStore(t), Config{Threshold: 0.5})

	got, err := e.Match(context.Background(), "E1", models.Vector{0, 0}, 0.5, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	assertMatches(t, got, []models.Match{
		{PhotoID: "p2", Distance: 0.1},
		{PhotoID: "p1", Distance: 0.3},
	})
}

func TestEngine_Match_Threshold(t *testing.T) {
	e := NewEngine(seededStore(t), Config{})
	if e.Threshold() != DefaultThreshold {
		t.Fatalf("expected default threshold %.2f, got %.2f", DefaultThreshold, e.Threshold())
	}

	tests := []struct {
		name      string
		threshold float64
		want      []string
	}{
		{"none", 0.05, nil},
		{"closest only", 0.2, []string{"p2"}},
		{"both", 0.5, []string{"p2", "p1"}},
		{"wide", 2.0, []string{"p2", "p1"}},
	}
	var prev map[string]bool
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Match(context.Background(), "E1", models.Vector{0, 0}, tt.threshold, 0)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, got)
			}
			ids := make(map[string]bool)
			for i, m := range got {
				if m.PhotoID != tt.want[i] {
					t.Errorf("position %d: expected %s, got %s", i, tt.want[i], m.PhotoID)
				}
				ids[m.PhotoID] = true
			}
			// Raising the threshold never drops a photo.
			for id := range prev {
				if !ids[id] {
					t.Errorf("photo %s lost when threshold grew to %.2f", id, tt.threshold)
				}
			}
			prev = ids
		})
	}
}

func TestEngine_Match_Deterministic(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	_, _ = s.CreateEvent(ctx, "E1")
	// Equal distances force the photo ID tie-break.
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Put(ctx, "E1", id, []models.Face{face(0.1, 0)}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	e := NewEngine(s, Config{Threshold: 0.6})

	first, err := e.Match(ctx, "E1", models.Vector{0, 0}, 0.6, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := e.Match(ctx, "E1", models.Vector{0, 0}, 0.6, 0)
		if fmt.Sprint(again) != fmt.Sprint(first) {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
	if first[0].PhotoID != "a" || first[1].PhotoID != "b" || first[2].PhotoID != "c" {
		t.Errorf("expected tie-break by photo ID, got %+v", first)
	}
}

func TestEngine_Match_MaxResults(t *testing.T) {
	e := NewEngine(seededStore(t), Config{})
	got, err := e.Match(context.Background(), "E1", models.Vector{0, 0}, 0.6, 1)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0].PhotoID != "p2" {
		t.Errorf("expected only p2, got %+v", got)
	}
}

func TestEngine_Match_DimensionMismatch(t *testing.T) {
	e := NewEngine(seededStore(t), Config{})
	_, err := e.Match(context.Background(), "E1", models.Vector{0, 0, 0}, 0.6, 0)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEngine_Match_EmptyEvents(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	_, _ = s.CreateEvent(ctx, "empty")
	e := NewEngine(s, Config{})

	for _, code := range []string{"empty", "unknown"} {
		got, err := e.Match(ctx, code, models.Vector{0, 0}, 0.6, 0)
		if err != nil {
			t.Errorf("%s: unexpected error %v", code, err)
		}
		if len(got) != 0 {
			t.Errorf("%s: expected no matches, got %+v", code, got)
		}
	}
}

func TestEngine_Match_EventScoped(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	_, _ = s.CreateEvent(ctx, "E2")
	_ = s.Put(ctx, "E2", "other", []models.Face{face(0, 0)})
	e := NewEngine(s, Config{})

	got, _ := e.Match(ctx, "E1", models.Vector{0, 0}, 0.6, 0)
	for _, m := range got {
		if m.PhotoID == "other" {
			t.Fatal("match leaked a photo from another event")
		}
	}
}

func TestEngine_Match_ANN(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	_, _ = s.CreateEvent(ctx, "E1")
	for i := 0; i < 200; i++ {
		x := float32(i) / 10
		if err := s.Put(ctx, "E1", fmt.Sprintf("p%03d", i), []models.Face{face(x, x)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	annCfg := config.ANNConfig{Enabled: true, MinDescriptors: 10, Candidates: 50, EfSearch: 100, MaxNeighbors: 16}
	exact := NewEngine(s, Config{Threshold: 0.6})
	approx := NewEngine(s, Config{Threshold: 0.6, ANN: annCfg})

	query := models.Vector{5, 5}
	want, err := exact.Match(ctx, "E1", query, 0.6, 0)
	if err != nil {
		t.Fatalf("exact: %v", err)
	}
	got, err := approx.Match(ctx, "E1", query, 0.6, 0)
	if err != nil {
		t.Fatalf("ann: %v", err)
	}
	assertMatches(t, got, want)

	// A new write bumps the revision and must be visible through the index.
	if err := s.Put(ctx, "E1", "new", []models.Face{face(5, 5)}); err != nil {
		t.Fatalf("put new: %v", err)
	}
	got, _ = approx.Match(ctx, "E1", query, 0.6, 0)
	if len(got) == 0 || got[0].PhotoID != "new" {
		t.Errorf("expected rebuilt index to return 'new' first, got %+v", got)
	}
}

func TestEngine_Match_ANNRecreatedEvent(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	annCfg := config.ANNConfig{Enabled: true, MinDescriptors: 1, Candidates: 1, EfSearch: 20, MaxNeighbors: 8}
	e := NewEngine(s, Config{Threshold: 0.5, ANN: annCfg})

	// Both incarnations of E1 see the same number of writes, so a per-event
	// counter would repeat its values.
	fill := func(first string, firstFace models.Face) {
		t.Helper()
		if _, err := s.CreateEvent(ctx, "E1"); err != nil {
			t.Fatalf("create event: %v", err)
		}
		if err := s.Put(ctx, "E1", first, []models.Face{firstFace}); err != nil {
			t.Fatalf("put %s: %v", first, err)
		}
		for i := 0; i < 5; i++ {
			if err := s.Put(ctx, "E1", fmt.Sprintf("%s-far%d", first, i), []models.Face{face(9, float32(i))}); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
	}

	fill("old", face(0, 0))
	got, err := e.Match(ctx, "E1", models.Vector{0, 0}, 0.5, 0)
	if err != nil || len(got) != 1 || got[0].PhotoID != "old" {
		t.Fatalf("expected old photo before delete, got %+v (%v)", got, err)
	}

	// Deleted straight through the store, as another process would, so
	// the engine never hears about it.
	if err := s.DeleteEvent(ctx, "E1"); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	fill("new", face(9, 9))

	got, err = e.Match(ctx, "E1", models.Vector{0, 0}, 0.5, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("recreated event returned photos of the deleted one: %+v", got)
	}
}

func TestEngine_Match_ANNReturnsEveryQualifyingPhoto(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	_, _ = s.CreateEvent(ctx, "E1")
	for i := 0; i < 300; i++ {
		x := float32(i%20) / 1000
		y := float32(i/20) / 1000
		if err := s.Put(ctx, "E1", fmt.Sprintf("p%03d", i), []models.Face{face(x, y)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	annCfg := config.ANNConfig{Enabled: true, MinDescriptors: 1, Candidates: 50, EfSearch: 100, MaxNeighbors: 16}
	exact := NewEngine(s, Config{Threshold: 0.6})
	approx := NewEngine(s, Config{Threshold: 0.6, ANN: annCfg})

	want, _ := exact.Match(ctx, "E1", models.Vector{0, 0}, 0.6, 0)
	got, err := approx.Match(ctx, "E1", models.Vector{0, 0}, 0.6, 0)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(want) != 300 {
		t.Fatalf("expected 300 exact matches, got %d", len(want))
	}
	assertMatches(t, got, want)
}

func TestEngine_Match_ANNConcurrent(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore(2)
	for _, code := range []string{"E1", "E2"} {
		_, _ = s.CreateEvent(ctx, code)
		for i := 0; i < 100; i++ {
			x := float32(i) / 10
			if err := s.Put(ctx, code, fmt.Sprintf("p%03d", i), []models.Face{face(x, 0)}); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
	}

	annCfg := config.ANNConfig{Enabled: true, MinDescriptors: 1, Candidates: 5, EfSearch: 50, MaxNeighbors: 8}
	exact := NewEngine(s, Config{Threshold: 0.25})
	approx := NewEngine(s, Config{Threshold: 0.25, ANN: annCfg})
	query := models.Vector{3, 0}
	want, _ := exact.Match(ctx, "E1", query, 0.25, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := []string{"E1", "E2"}[i%2]
			got, err := approx.Match(ctx, code, query, 0.25, 0)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != len(want) {
				errs <- fmt.Errorf("%s: expected %d matches, got %d", code, len(want), len(got))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestDistance(t *testing.T) {
	got := Distance(models.Vector{0, 0}, models.Vector{3, 4})
	if got != 5 {
		t.Errorf("expected 5, got %f", got)
	}
}
