// Package vectorindex holds chunk vectors in memory keyed by chunk id.
//
// The index tracks which entries changed since it was loaded so the storage
// layer can persist only the difference inside a build transaction.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector has the wrong length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyID is returned for a blank chunk id
	ErrEmptyID = errors.New("chunk id is required")
)

// Index maps chunk ids to vectors of one fixed dimension
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string][]float32
	dirty     map[string]struct{}
	deleted   map[string]struct{}
}

// New creates an empty index. A zero dimension is fixed by the first insert.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		dirty:     make(map[string]struct{}),
		deleted:   make(map[string]struct{}),
	}
}

// Dimension returns the vector length
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// Len returns the number of vectors
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Insert adds or replaces the vector for id
func (x *Index) Insert(id string, vec []float32) error {
	if id == "" {
		return ErrEmptyID
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dimension == 0 {
		x.dimension = len(vec)
	}
	if len(vec) != x.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dimension)
	}

	x.vectors[id] = append([]float32(nil), vec...)
	x.dirty[id] = struct{}{}
	delete(x.deleted, id)
	return nil
}

// load adds a vector that is already persisted
func (x *Index) load(id string, vec []float32) error {
	if err := x.Insert(id, vec); err != nil {
		return err
	}
	x.mu.Lock()
	delete(x.dirty, id)
	x.mu.Unlock()
	return nil
}

// Load builds a clean index from persisted vectors
func Load(dimension int, vectors map[string][]float32) (*Index, error) {
	x := New(dimension)
	for id, vec := range vectors {
		if err := x.load(id, vec); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", id, err)
		}
	}
	return x, nil
}

// Delete removes the vector for id. Deleting a missing id is a no-op.
func (x *Index) Delete(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.vectors[id]; !ok {
		delete(x.dirty, id)
		return
	}
	delete(x.vectors, id)
	delete(x.dirty, id)
	x.deleted[id] = struct{}{}
}

// Get returns a copy of the vector for id
func (x *Index) Get(id string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	vec, ok := x.vectors[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

// IDs returns all ids in sorted order
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, 0, len(x.vectors))
	for id := range x.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Changes returns the vectors inserted and ids deleted since the last MarkClean
func (x *Index) Changes() (upserts map[string][]float32, deletes []string) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	upserts = make(map[string][]float32, len(x.dirty))
	for id := range x.dirty {
		upserts[id] = x.vectors[id]
	}
	deletes = make([]string, 0, len(x.deleted))
	for id := range x.deleted {
		deletes = append(deletes, id)
	}
	sort.Strings(deletes)
	return upserts, deletes
}

// HasChanges reports whether anything is pending
func (x *Index) HasChanges() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.dirty) > 0 || len(x.deleted) > 0
}

// MarkClean forgets pending changes after they were persisted
func (x *Index) MarkClean() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dirty = make(map[string]struct{})
	x.deleted = make(map[string]struct{})
}

// Cosine returns the cosine similarity of two equal-length vectors
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
