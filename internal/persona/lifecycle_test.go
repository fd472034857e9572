package persona_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/personamemory/internal/persona"
)

func TestEnforceMemoryLimitsNoopWhenUnderCap(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 10, 24*time.Hour)

	_, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "one lonely memory"})
	require.NoError(t, err)

	require.NoError(t, mgr.EnforceMemoryLimits(ctx, p.ID))

	active, err := meta.CountActiveMemories(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestEnforceMemoryLimitsEvictsDownToCap(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 10, 24*time.Hour)

	for i := 0; i < 10; i++ {
		low := 0.1
		_, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "filler", Importance: &low})
		require.NoError(t, err)
	}
	// The 11th insert pushes the persona over its cap, which triggers
	// AddMemory's own EnforceMemoryLimits call.
	high := 0.95
	extra, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "important one", Importance: &high})
	require.NoError(t, err)

	active, err := meta.CountActiveMemories(ctx, p.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, active, 10)

	stillThere, err := meta.GetMemoryRecord(ctx, extra.ID)
	require.NoError(t, err)
	assert.Equal(t, high, stillThere.Importance)
}

func TestCleanupExpiredMemoriesRemovesOldLowImportance(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, time.Minute)

	low := 0.1
	rec, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "will expire", Importance: &low})
	require.NoError(t, err)

	// Backdate the record past the persona's decay window.
	stored, err := meta.GetMemoryRecord(ctx, rec.ID)
	require.NoError(t, err)
	stored.Timestamp = time.Now().Add(-2 * time.Hour)
	require.NoError(t, meta.PutMemoryRecord(ctx, stored))

	deleted, err := mgr.CleanupExpiredMemories(ctx, []uuid.UUID{p.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = meta.GetMemoryRecord(ctx, rec.ID)
	require.Error(t, err)
}

func TestCleanupExpiredMemoriesRetainsPerpetualTier(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, time.Minute)

	high := 0.85
	rec, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "cherished memory", Importance: &high})
	require.NoError(t, err)

	stored, err := meta.GetMemoryRecord(ctx, rec.ID)
	require.NoError(t, err)
	stored.Timestamp = time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, meta.PutMemoryRecord(ctx, stored))

	deleted, err := mgr.CleanupExpiredMemories(ctx, []uuid.UUID{p.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted, "importance at or above the perpetual threshold must survive cleanup regardless of age")

	_, err = meta.GetMemoryRecord(ctx, rec.ID)
	require.NoError(t, err)
}

func TestCleanupExpiredMemoriesSkipsUnexpiredMemories(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, 24*time.Hour)

	low := 0.1
	rec, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "brand new", Importance: &low})
	require.NoError(t, err)

	deleted, err := mgr.CleanupExpiredMemories(ctx, []uuid.UUID{p.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = meta.GetMemoryRecord(ctx, rec.ID)
	require.NoError(t, err)
}
