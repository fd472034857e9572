package hnsw_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/personamemory/internal/hnsw"
	"github.com/corvid-labs/personamemory/internal/simfn"
	"github.com/corvid-labs/personamemory/internal/vecbuf"
)

// graphConfig forces every Search call through the real multilayer graph
// path instead of the below-threshold exhaustive fallback.
func graphConfig() hnsw.Config {
	cfg := hnsw.DefaultConfig()
	cfg.IndexThreshold = 0
	cfg.Seed = 7
	return cfg
}

// insertUnit inserts a unit vector into both buffer and index, returning its
// slot.
func insertUnit(t *testing.T, buf *vecbuf.Buffer, idx *hnsw.Index, vec []float32) int {
	t.Helper()
	slot, err := buf.Insert(uuid.New(), vec)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(slot))
	return slot
}

func TestSearchFindsNearestUnitVector(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	east := insertUnit(t, buf, idx, []float32{1, 0})
	north := insertUnit(t, buf, idx, []float32{0, 1})
	_ = insertUnit(t, buf, idx, []float32{-1, 0})

	results := idx.Search([]float32{0.9, 0.1}, 1, 50)
	require.Len(t, results, 1)
	assert.Equal(t, east, results[0].Slot)

	results = idx.Search([]float32{0.1, 0.9}, 1, 50)
	require.Len(t, results, 1)
	assert.Equal(t, north, results[0].Slot)
}

func TestSearchReturnsKResultsOrderedBySimilarity(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	insertUnit(t, buf, idx, []float32{1, 0})
	insertUnit(t, buf, idx, []float32{0.9, 0.1})
	insertUnit(t, buf, idx, []float32{0, 1})
	insertUnit(t, buf, idx, []float32{-1, 0})

	results := idx.Search([]float32{1, 0}, 2, 50)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
}

func TestSearchBelowThresholdMatchesExhaustiveScan(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)

	cfg := hnsw.DefaultConfig() // default IndexThreshold (1000) keeps this below-threshold
	idx := hnsw.New(buf, cfg)

	east := insertUnit(t, buf, idx, []float32{1, 0})
	insertUnit(t, buf, idx, []float32{0, 1})

	results := idx.Search([]float32{1, 0}, 1, 50)
	require.Len(t, results, 1)
	assert.Equal(t, east, results[0].Slot)
}

func TestSearchOnEmptyIndexReturnsNil(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	results := idx.Search([]float32{1, 0}, 5, 50)
	assert.Empty(t, results)
}

func TestDeleteRemovesNodeFromResults(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	east := insertUnit(t, buf, idx, []float32{1, 0})
	insertUnit(t, buf, idx, []float32{0.9, 0.1})
	insertUnit(t, buf, idx, []float32{0, 1})

	ok := idx.Delete(east)
	assert.True(t, ok)

	results := idx.Search([]float32{1, 0}, 3, 50)
	for _, r := range results {
		assert.NotEqual(t, east, r.Slot)
	}
}

func TestDeleteUnknownSlotReturnsFalse(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	insertUnit(t, buf, idx, []float32{1, 0})
	assert.False(t, idx.Delete(999))
}

func TestDeleteEntryPointPromotesReplacement(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	first := insertUnit(t, buf, idx, []float32{1, 0})
	insertUnit(t, buf, idx, []float32{0, 1})
	insertUnit(t, buf, idx, []float32{-1, 0})
	require.Equal(t, 3, idx.Size())

	assert.True(t, idx.Delete(first))
	assert.Equal(t, 2, idx.Size())

	// The graph must still answer queries correctly after losing its
	// original entry point.
	results := idx.Search([]float32{0, 1}, 1, 50)
	require.Len(t, results, 1)
	assert.NotEqual(t, first, results[0].Slot)
}

func TestInsertSameSlotTwiceIsNoop(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	slot := insertUnit(t, buf, idx, []float32{1, 0})
	require.NoError(t, idx.Insert(slot))
	assert.Equal(t, 1, idx.Size())
}

func TestSizeTracksInsertionsAndDeletions(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, graphConfig())

	assert.Equal(t, 0, idx.Size())
	a := insertUnit(t, buf, idx, []float32{1, 0})
	insertUnit(t, buf, idx, []float32{0, 1})
	assert.Equal(t, 2, idx.Size())

	idx.Delete(a)
	assert.Equal(t, 1, idx.Size())
}

func TestNewAppliesDefaultsForZeroFields(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)
	idx := hnsw.New(buf, hnsw.Config{})

	insertUnit(t, buf, idx, []float32{1, 0})
	results := idx.Search([]float32{1, 0}, 1, 0)
	require.Len(t, results, 1)
}

// randomUnitVector fills a dim-dimensional vector with standard-normal
// components and normalizes it to unit length.
func randomUnitVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	var sumSq float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		sumSq += x * x
	}
	norm := float32(1)
	if sumSq > 0 {
		norm = float32(1 / math.Sqrt(sumSq))
	}
	for i := range v {
		v[i] *= norm
	}
	return v
}

// TestSearchRecallAtKMatchesExhaustiveBaseline covers spec.md §8's recall@k
// property at a scaled-down corpus size: the graph path's top-k must agree
// with the exhaustive baseline on at least 90% of slots.
func TestSearchRecallAtKMatchesExhaustiveBaseline(t *testing.T) {
	const (
		n   = 400
		dim = 32
		k   = 10
	)
	rng := rand.New(rand.NewSource(42))

	buf, err := vecbuf.New(64*1024*1024, dim)
	require.NoError(t, err)

	graphIdx := hnsw.New(buf, graphConfig())
	// A second index over the same buffer, never inserted into, whose
	// default IndexThreshold (1000) exceeds n so every Search call on it
	// takes the exhaustive scan path in hnsw.go's exhaustiveLocked, which
	// reads straight from the shared buffer rather than from either
	// index's own node set.
	exhaustiveIdx := hnsw.New(buf, hnsw.DefaultConfig())

	for i := 0; i < n; i++ {
		insertUnit(t, buf, graphIdx, randomUnitVector(rng, dim))
	}

	const numQueries = 20
	var totalOverlap, totalExpected int
	for q := 0; q < numQueries; q++ {
		query := randomUnitVector(rng, dim)

		graphResults := graphIdx.Search(query, k, 64)
		exactResults := exhaustiveIdx.Search(query, k, 64)

		exact := make(map[int]bool, len(exactResults))
		for _, r := range exactResults {
			exact[r.Slot] = true
		}
		for _, r := range graphResults {
			if exact[r.Slot] {
				totalOverlap++
			}
		}
		totalExpected += len(exactResults)
	}

	recall := float64(totalOverlap) / float64(totalExpected)
	assert.GreaterOrEqual(t, recall, 0.9, "graph search recall@%d fell below 0.9 against the exhaustive baseline", k)
}

func TestEuclideanMetricOrdersByDistance(t *testing.T) {
	buf, err := vecbuf.New(1024*1024, 2)
	require.NoError(t, err)

	cfg := graphConfig()
	cfg.Metric = simfn.Euclidean
	idx := hnsw.New(buf, cfg)

	near := insertUnit(t, buf, idx, []float32{1, 1})
	insertUnit(t, buf, idx, []float32{10, 10})

	results := idx.Search([]float32{1.1, 1.1}, 1, 50)
	require.Len(t, results, 1)
	assert.Equal(t, near, results[0].Slot)
}
