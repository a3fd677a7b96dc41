package matching

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/observability"
	"github.com/your-org/eventface/internal/storage"
)

// DefaultThreshold is the working threshold of the 128-d face descriptor space.
const DefaultThreshold = 0.6

var ErrDimensionMismatch = errors.New("query dimension mismatch")

type Config struct {
	Threshold  float64
	MaxResults int
	ANN        config.ANNConfig
}

// ConfigFrom maps the matching section of the service config.
func ConfigFrom(c config.MatchingConfig) Config {
	return Config{Threshold: c.Threshold, MaxResults: c.MaxResults, ANN: c.ANN}
}

// Engine answers "which photos of this event contain this face".
type Engine struct {
	store storage.DescriptorStore
	cfg   Config
	ann   *annCache
}

func NewEngine(store storage.DescriptorStore, cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	e := &Engine{store: store, cfg: cfg}
	if cfg.ANN.Enabled {
		e.ann = newANNCache(cfg.ANN)
	}
	return e
}

// Threshold is the configured distance threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

// MaxResults is the configured result cap; zero means unlimited.
func (e *Engine) MaxResults() int {
	return e.cfg.MaxResults
}

// Match returns the event's photos holding at least one descriptor within
// threshold of query, ordered by distance then photo ID. A photo appears once
// with its closest descriptor. maxResults <= 0 returns every match.
func (e *Engine) Match(ctx context.Context, eventCode string, query models.Vector, threshold float64, maxResults int) (models.MatchResult, error) {
	if dim := e.store.Dimension(); len(query) != dim {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(query), dim)
	}

	start := time.Now()
	snap, err := e.store.DescriptorsFor(ctx, eventCode)
	if err != nil {
		return nil, fmt.Errorf("load descriptors: %w", err)
	}

	var best map[string]float64
	ok := false
	if e.ann != nil && snap.Len() >= e.cfg.ANN.MinDescriptors {
		best, ok = e.ann.candidates(eventCode, snap, query, threshold)
	}
	if !ok {
		best = scan(snap, query, threshold)
	}

	result := rank(best, maxResults)

	observability.DescriptorsScanned.Observe(float64(snap.Len()))
	observability.MatchResults.Observe(float64(len(result)))
	observability.StageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	slog.Debug("match completed",
		"event_code", eventCode,
		"descriptors", snap.Len(),
		"matches", len(result),
		"duration", time.Since(start),
	)
	return result, nil
}

// scan is the exhaustive path: every descriptor is compared against query.
func scan(snap *storage.Snapshot, query models.Vector, threshold float64) map[string]float64 {
	d := newDistancer(query)
	best := make(map[string]float64)
	for photoID, desc := range snap.All() {
		if len(desc) != len(query) {
			continue
		}
		dist := d.distance(desc)
		if dist > threshold {
			continue
		}
		if cur, ok := best[photoID]; !ok || dist < cur {
			best[photoID] = dist
		}
	}
	return best
}

func rank(best map[string]float64, maxResults int) models.MatchResult {
	result := make(models.MatchResult, 0, len(best))
	for id, dist := range best {
		result = append(result, models.Match{PhotoID: id, Distance: dist})
	}
	slices.SortFunc(result, func(a, b models.Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.PhotoID, b.PhotoID)
	})
	if maxResults > 0 && len(result) > maxResults {
		result = result[:maxResults]
	}
	return result
}

// Forget releases any cached index for an event.
func (e *Engine) Forget(eventCode string) {
	if e.ann != nil {
		e.ann.forget(eventCode)
	}
}
