// Package store implements IndexedVectorStore: the façade composing
// vecbuf + hnsw + simfn into the single coherent interface the persona
// memory manager builds on, per spec.md §4.4.
//
// Grounded on the teacher's SQLiteStore façade shape (New/Init/Upsert/
// Search/Close in pkg/core/store.go), generalized from a SQLite-row backend
// to the in-process vecbuf+hnsw pair, since spec.md's Non-goals exclude
// persisting the vector buffer itself.
package store

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/hnsw"
	"github.com/corvid-labs/personamemory/internal/simfn"
	"github.com/corvid-labs/personamemory/internal/vecbuf"
)

// Config configures the store's buffer and index.
type Config struct {
	MaxMemoryBytes int64
	Dimensions     int
	HNSW           hnsw.Config
}

// Hit is one ranked result from Search, before metadata enrichment.
type Hit struct {
	ID         uuid.UUID
	Similarity float32
}

// SearchOptions controls a Search call per spec.md §4.4.
type SearchOptions struct {
	Limit     int
	Threshold float32
	Filter    func(id uuid.UUID) bool // applied after similarity ranking
	Ef        int                     // per-query override of efSearch; 0 = use index default
}

// Store composes the buffer, the index, and the similarity space. It holds
// no lock of its own: the buffer and the index each guard their own state
// with their own read/write lock, so a buffer write and the matching index
// update are two separate critical sections, not one. Neither the metadata
// store nor the embedding function is ever called from this package.
type Store struct {
	buffer *vecbuf.Buffer
	index  *hnsw.Index
	metric simfn.Metric
}

// New constructs a Store sized per cfg.
func New(cfg Config) (*Store, error) {
	buf, err := vecbuf.New(cfg.MaxMemoryBytes, cfg.Dimensions)
	if err != nil {
		return nil, errs.Wrap("store.New", err)
	}
	if cfg.HNSW.Metric == "" {
		cfg.HNSW.Metric = simfn.Cosine
	}
	idx := hnsw.New(buf, cfg.HNSW)
	return &Store{buffer: buf, index: idx, metric: cfg.HNSW.Metric}, nil
}

// Dimensions returns the store's fixed vector width.
func (s *Store) Dimensions() int { return s.buffer.Dimensions() }

// AddVector inserts vec under id into the buffer, then links it into the
// index. On the graph path a memory becomes visible to searches once the
// index link is made; below the index threshold Search scans the buffer
// directly, so there the vector is visible as soon as the buffer insert
// completes. If index insertion fails, the buffer insert is rolled back so
// callers observe an all-or-nothing operation.
func (s *Store) AddVector(ctx context.Context, id uuid.UUID, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap("store.AddVector", errs.ErrTimeout)
	}

	slot, err := s.buffer.Insert(id, vec)
	if err != nil {
		return errs.Wrap("store.AddVector", err)
	}

	if err := s.index.Insert(slot); err != nil {
		// Roll back the buffer insert so the caller sees all-or-nothing.
		_, _ = s.buffer.Delete(id)
		return errs.Wrap("store.AddVector", err)
	}

	return nil
}

// GetVector returns the vector stored for id.
func (s *Store) GetVector(id uuid.UUID) ([]float32, error) {
	vec, err := s.buffer.Get(id)
	if err != nil {
		return nil, errs.Wrap("store.GetVector", err)
	}
	return vec, nil
}

// UpdateVector replaces id's stored vector in place. The index graph is
// left as-is: a replace never changes the slot, and the stale distances it
// introduces are self-correcting because every comparison recomputes
// distance against the buffer's current contents.
func (s *Store) UpdateVector(id uuid.UUID, vec []float32) error {
	if err := s.buffer.Replace(id, vec); err != nil {
		return errs.Wrap("store.UpdateVector", err)
	}
	return nil
}

// DeleteVector removes id from the index and frees its slot in the buffer.
func (s *Store) DeleteVector(id uuid.UUID) error {
	slot, ok := s.buffer.SlotOf(id)
	if !ok {
		return errs.Wrap("store.DeleteVector", errs.ErrNotFound)
	}
	s.index.Delete(slot)
	if _, delErr := s.buffer.Delete(id); delErr != nil {
		return errs.Wrap("store.DeleteVector", delErr)
	}
	return nil
}

// Search runs a top-k similarity search, over-fetching from the index and
// applying opts.Filter and opts.Threshold after ranking, per spec.md §4.4's
// filter-application-order rule: the index is asked for
// max(3*limit, ef) candidates, filters run after similarity ranking, and
// the final top-k is the first `limit` that pass both the filter and the
// threshold.
func (s *Store) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap("store.Search", errs.ErrTimeout)
	}
	if len(query) != s.buffer.Dimensions() {
		return nil, errs.Wrap("store.Search", errs.ErrDimensionMismatch)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	ef := opts.Ef
	overFetch := opts.Limit * 3
	if ef > overFetch {
		overFetch = ef
	}

	results := s.index.Search(query, overFetch, ef)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	hits := make([]Hit, 0, opts.Limit)
	for _, r := range results {
		id, ok := s.buffer.IDAt(r.Slot)
		if !ok {
			continue // freed between index search and buffer lookup
		}
		if r.Similarity < opts.Threshold {
			continue
		}
		if opts.Filter != nil && !opts.Filter(id) {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: r.Similarity})
		if len(hits) >= opts.Limit {
			break
		}
	}

	return hits, nil
}

// Stats reports buffer usage.
func (s *Store) Stats() vecbuf.Stats { return s.buffer.Stats() }

// Cleanup is a no-op: the buffer and index need no background compaction of
// their own (slot recycling is immediate). The persona layer's cleanup does
// not call it.
func (s *Store) Cleanup() {}
