package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/hnsw"
	"github.com/corvid-labs/personamemory/internal/store"
)

func newStore(t *testing.T, dim int) *store.Store {
	t.Helper()
	cfg := hnsw.DefaultConfig()
	cfg.IndexThreshold = 0 // exercise the real graph path in these tests
	s, err := store.New(store.Config{
		MaxMemoryBytes: 1024 * 1024,
		Dimensions:     dim,
		HNSW:           cfg,
	})
	require.NoError(t, err)
	return s
}

func TestAddVectorAndSearchRoundTrip(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.AddVector(ctx, id, []float32{1, 0}))

	hits, err := s.Search(ctx, []float32{1, 0}, store.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
}

func TestAddVectorRejectsDimensionMismatch(t *testing.T) {
	s := newStore(t, 4)
	ctx := context.Background()

	err := s.AddVector(ctx, uuid.New(), []float32{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDimensionMismatch))
}

func TestAddVectorDuplicateIDLeavesOriginalUntouched(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.AddVector(ctx, id, []float32{1, 0}))

	// Re-adding the same id should fail (duplicate in the buffer) and must
	// not leave a half-inserted entry behind.
	err := s.AddVector(ctx, id, []float32{0, 1})
	require.Error(t, err)

	vec, err := s.GetVector(id)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec, "original vector must be untouched by the failed re-insert")
}

func TestSearchAppliesThresholdAfterRanking(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.AddVector(ctx, uuid.New(), []float32{1, 0}))
	require.NoError(t, s.AddVector(ctx, uuid.New(), []float32{-1, 0}))

	hits, err := s.Search(ctx, []float32{1, 0}, store.SearchOptions{Limit: 10, Threshold: 0.5})
	require.NoError(t, err)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Similarity, float32(0.5))
	}
}

func TestSearchAppliesFilterAfterRanking(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	keep := uuid.New()
	exclude := uuid.New()
	require.NoError(t, s.AddVector(ctx, keep, []float32{1, 0}))
	require.NoError(t, s.AddVector(ctx, exclude, []float32{0.9, 0.1}))

	hits, err := s.Search(ctx, []float32{1, 0}, store.SearchOptions{
		Limit:  10,
		Filter: func(id uuid.UUID) bool { return id == keep },
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, keep, hits[0].ID)
}

func TestSearchDefaultsLimitWhenUnset(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()
	require.NoError(t, s.AddVector(ctx, uuid.New(), []float32{1, 0}))

	hits, err := s.Search(ctx, []float32{1, 0}, store.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUpdateVectorReplacesInPlace(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.AddVector(ctx, id, []float32{1, 0}))
	require.NoError(t, s.UpdateVector(id, []float32{0, 1}))

	vec, err := s.GetVector(id)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestDeleteVectorRemovesFromSearch(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.AddVector(ctx, id, []float32{1, 0}))
	require.NoError(t, s.AddVector(ctx, uuid.New(), []float32{0, 1}))

	require.NoError(t, s.DeleteVector(id))

	_, err := s.GetVector(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	hits, err := s.Search(ctx, []float32{1, 0}, store.SearchOptions{Limit: 10})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, id, h.ID)
	}
}

func TestDeleteVectorUnknownIDReturnsNotFound(t *testing.T) {
	s := newStore(t, 2)
	err := s.DeleteVector(uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestSearchRejectsCanceledContext(t *testing.T) {
	s := newStore(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Search(ctx, []float32{1, 0}, store.SearchOptions{Limit: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTimeout))
}

func TestStatsReflectsInsertsAndDeletes(t *testing.T) {
	s := newStore(t, 2)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, s.AddVector(ctx, id, []float32{1, 0}))
	assert.Equal(t, 1, s.Stats().Occupied)

	require.NoError(t, s.DeleteVector(id))
	assert.Equal(t, 0, s.Stats().Occupied)
}
