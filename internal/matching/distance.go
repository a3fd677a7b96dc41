package matching

import (
	"gonum.org/v1/gonum/floats"

	"github.com/your-org/eventface/internal/models"
)

// distancer computes Euclidean distances against a fixed query. It widens
// stored float32 descriptors into a reusable float64 buffer so gonum can
// accumulate in full precision. Not safe for concurrent use.
type distancer struct {
	query []float64
	buf   []float64
}

func newDistancer(query models.Vector) *distancer {
	q := make([]float64, len(query))
	for i, v := range query {
		q[i] = float64(v)
	}
	return &distancer{query: q, buf: make([]float64, len(query))}
}

func (d *distancer) distance(v models.Vector) float64 {
	for i, x := range v {
		d.buf[i] = float64(x)
	}
	return floats.Distance(d.query, d.buf, 2)
}

// Distance is the Euclidean distance between two descriptors of equal length.
func Distance(a, b models.Vector) float64 {
	return newDistancer(a).distance(b)
}
