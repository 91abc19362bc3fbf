package index

import (
	"container/heap"
	"sort"
	"sync"
)

// Flat is a brute-force exact index: every query scores every stored vector.
// O(n) per query, but it always returns the true nearest neighbors, which
// keeps retrieval deterministic.
type Flat struct {
	mu      sync.RWMutex
	dims    int
	sim     Similarity
	vectors map[string][]float32
}

// NewFlat creates a flat index for vectors of the given dimensionality,
// scored by sim.
func NewFlat(dims int, sim Similarity) *Flat {
	return &Flat{
		dims:    dims,
		sim:     sim,
		vectors: make(map[string][]float32),
	}
}

// Upsert inserts or replaces the vector stored under id.
func (f *Flat) Upsert(id string, vector []float32) error {
	if err := checkDims(f.dims, len(vector)); err != nil {
		return err
	}

	v := make([]float32, len(vector))
	copy(v, vector)

	f.mu.Lock()
	f.vectors[id] = v
	f.mu.Unlock()
	return nil
}

// Delete removes the entry for id.
func (f *Flat) Delete(id string) {
	f.mu.Lock()
	delete(f.vectors, id)
	f.mu.Unlock()
}

// Len reports the number of stored entries.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dims reports the fixed dimensionality of stored vectors.
func (f *Flat) Dims() int { return f.dims }

// Search returns up to k candidates by descending similarity, ties broken by
// ascending id.
func (f *Flat) Search(query []float32, k int) ([]Candidate, error) {
	if err := checkDims(f.dims, len(query)); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// Keep the k best in a min-heap so large stores don't sort everything.
	h := &candidateHeap{}
	heap.Init(h)
	for id, v := range f.vectors {
		c := Candidate{ID: id, Score: f.sim(query, v)}
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		if worse((*h)[0], c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}

	out := make([]Candidate, h.Len())
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out, nil
}

// worse reports whether a ranks strictly below b: lower score, or equal
// score with a later id.
func worse(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// candidateHeap is a min-heap by rank; the root is the weakest candidate.
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
