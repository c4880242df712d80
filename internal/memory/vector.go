package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Index is an append-only nearest-neighbour index. Rows are opaque ids
// handed out by Add; there is no point delete.
type Index interface {
	// Add appends a vector and returns its row id.
	Add(vector []float32) (int, error)
	// Search returns up to k rows ordered by ascending distance.
	Search(vector []float32, k int) ([]Hit, error)
	// Len returns the number of rows, orphaned ones included.
	Len() int
}

// Hit is one search result.
type Hit struct {
	Row      int
	Distance float64
}

// FlatL2Index is an exhaustive Euclidean index.
type FlatL2Index struct {
	dimension int

	mu      sync.RWMutex
	vectors [][]float32
}

// NewFlatL2Index creates an index for vectors of the given dimension.
func NewFlatL2Index(dimension int) *FlatL2Index {
	return &FlatL2Index{dimension: dimension}
}

func (x *FlatL2Index) Add(vector []float32) (int, error) {
	if len(vector) != x.dimension {
		return 0, fmt.Errorf("vector dimension %d, index expects %d", len(vector), x.dimension)
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = append(x.vectors, v)
	return len(x.vectors) - 1, nil
}

func (x *FlatL2Index) Search(vector []float32, k int) ([]Hit, error) {
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("query dimension %d, index expects %d", len(vector), x.dimension)
	}
	x.mu.RLock()
	hits := make([]Hit, 0, len(x.vectors))
	for row, v := range x.vectors {
		hits = append(hits, Hit{Row: row, Distance: l2Distance(vector, v)})
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (x *FlatL2Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Similarity converts an L2 distance into a score in (0, 1].
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}
