package matching

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/coder/hnsw"

	"github.com/your-org/eventface/internal/config"
	"github.com/your-org/eventface/internal/models"
	"github.com/your-org/eventface/internal/storage"
)

// annIndex is an HNSW graph over one snapshot of an event. Node keys index
// into photoIDs. It is read-only once built.
type annIndex struct {
	revision int64
	graph    *hnsw.Graph[int]
	photoIDs []string
	vectors  []models.Vector
}

// annSlot holds the current graph of one event. build serializes rebuilds
// of that event only.
type annSlot struct {
	build sync.Mutex
	index atomic.Pointer[annIndex]
}

// annCache keeps one graph per event and rebuilds it when the event's
// revision moves. Store revisions are never reused, so a graph can only be
// served for the exact snapshot it was built from.
type annCache struct {
	cfg config.ANNConfig

	mu    sync.Mutex
	slots map[string]*annSlot
}

func newANNCache(cfg config.ANNConfig) *annCache {
	return &annCache{cfg: cfg, slots: make(map[string]*annSlot)}
}

func (c *annCache) slot(eventCode string) *annSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[eventCode]
	if !ok {
		s = &annSlot{}
		c.slots[eventCode] = s
	}
	return s
}

// get returns the graph for snap, building it if needed. It returns nil
// while another goroutine is rebuilding the same event.
func (c *annCache) get(eventCode string, snap *storage.Snapshot) *annIndex {
	s := c.slot(eventCode)
	if idx := s.index.Load(); idx != nil && idx.revision == snap.Revision() {
		return idx
	}
	if !s.build.TryLock() {
		return nil
	}
	defer s.build.Unlock()

	if idx := s.index.Load(); idx != nil && idx.revision == snap.Revision() {
		return idx
	}
	idx := c.build(snap)
	if cur := s.index.Load(); cur == nil || cur.revision < idx.revision {
		s.index.Store(idx)
	}
	return idx
}

func (c *annCache) build(snap *storage.Snapshot) *annIndex {
	g := hnsw.NewGraph[int]()
	g.M = c.cfg.MaxNeighbors
	g.Ml = 1.0 / float64(c.cfg.MaxNeighbors)
	g.EfSearch = c.cfg.EfSearch
	g.Distance = hnsw.EuclideanDistance
	// Fixed seed keeps graph layout, and so candidate sets, reproducible.
	g.Rng = rand.New(rand.NewSource(1))

	idx := &annIndex{revision: snap.Revision(), graph: g}
	for photoID, desc := range snap.All() {
		key := len(idx.photoIDs)
		idx.photoIDs = append(idx.photoIDs, photoID)
		idx.vectors = append(idx.vectors, desc)
		g.Add(hnsw.MakeNode(key, []float32(desc)))
	}
	return idx
}

// candidates narrows the search through the graph and recomputes exact
// distances for the returned nodes. The neighbour count doubles until the
// farthest candidate lies beyond threshold, so no qualifying photo is cut
// off by the candidate limit. ok is false when the caller should scan
// instead: the graph is being rebuilt, or the search would cover it all.
func (c *annCache) candidates(eventCode string, snap *storage.Snapshot, query models.Vector, threshold float64) (best map[string]float64, ok bool) {
	idx := c.get(eventCode, snap)
	if idx == nil {
		return nil, false
	}
	n := idx.graph.Len()
	best = make(map[string]float64)
	if n == 0 {
		return best, true
	}

	d := newDistancer(query)
	for k := max(c.cfg.Candidates, 1); k < n; k *= 2 {
		clear(best)
		farthest := 0.0
		nodes := idx.graph.Search([]float32(query), k)
		for _, node := range nodes {
			dist := d.distance(idx.vectors[node.Key])
			farthest = max(farthest, dist)
			if dist > threshold {
				continue
			}
			photoID := idx.photoIDs[node.Key]
			if cur, ok := best[photoID]; !ok || dist < cur {
				best[photoID] = dist
			}
		}
		if len(nodes) < k || farthest > threshold {
			return best, true
		}
	}
	return nil, false
}

// forget drops a cached graph, used when an event is deleted.
func (c *annCache) forget(eventCode string) {
	c.mu.Lock()
	delete(c.slots, eventCode)
	c.mu.Unlock()
}
