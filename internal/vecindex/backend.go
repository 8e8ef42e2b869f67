package vecindex

import (
	"sort"

	"github.com/shibudb.org/vector-core/internal/vecheap"
)

// Match is one scored result from Search: an internal VectorId and its
// similarity score under the backend's metric.
type Match struct {
	ID    uint64
	Score float64
}

// Backend wraps a heap and implements deterministic brute-force top-k
// similarity search. It exposes only the capability set a future ANN
// backend would also need to support — nothing that presupposes brute
// force — so it can be swapped without touching the facade, WAL codec,
// or snapshot codec.
type Backend struct {
	heap   *vecheap.Heap
	metric Metric
}

// New wraps heap with a brute-force search backend scoring under metric.
func New(heap *vecheap.Heap, metric Metric) *Backend {
	return &Backend{heap: heap, metric: metric}
}

// Heap returns the backend's underlying heap, for callers (the facade,
// snapshot codec) that need direct access.
func (b *Backend) Heap() *vecheap.Heap { return b.heap }

// Metric returns the backend's configured similarity metric.
func (b *Backend) Metric() Metric { return b.metric }

// Dim returns the configured embedding dimension.
func (b *Backend) Dim() int { return b.heap.Dim() }

// Len returns the number of live vectors.
func (b *Backend) Len() int { return b.heap.Len() }

// Insert stores embedding under id, overwriting any existing vector at id.
func (b *Backend) Insert(id uint64, embedding []float32) error {
	return b.heap.Upsert(id, embedding)
}

// Delete removes id, reporting whether it was present.
func (b *Backend) Delete(id uint64) bool {
	return b.heap.Delete(id)
}

// Get returns the stored embedding for id, if live.
func (b *Backend) Get(id uint64) ([]float32, bool) {
	return b.heap.Get(id)
}

// Contains reports whether id is live.
func (b *Backend) Contains(id uint64) bool {
	return b.heap.Contains(id)
}

// Search scores every live vector against query and returns the top k
// matches, score descending with ties broken by ascending id. It is
// read-only: no heap mutation, no version bump. A k of 0 or an empty
// heap returns an empty (non-nil) slice; a dimension-mismatched query
// also returns empty, since the backend is defensive and leaves raising
// DimensionMismatch to the facade.
func (b *Backend) Search(query []float32, k int) []Match {
	if k == 0 || b.heap.Len() == 0 {
		return []Match{}
	}
	if len(query) != b.heap.Dim() {
		return []Match{}
	}

	matches := make([]Match, 0, b.heap.Len())
	b.heap.Iter(func(e vecheap.Entry) bool {
		matches = append(matches, Match{ID: e.ID, Score: Sim(b.metric, query, e.Embedding)})
		return true
	})

	sort.Slice(matches, func(i, j int) bool {
		si, sj := matches[i].Score, matches[j].Score
		if si != sj {
			// If either side is NaN both comparisons are false and
			// the sort falls through to the id tie-break, keeping NaN
			// ordering stable.
			if si > sj {
				return true
			}
			if si < sj {
				return false
			}
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
