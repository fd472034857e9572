package persona_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/personamemory/internal/embedding/local"
	"github.com/corvid-labs/personamemory/internal/hnsw"
	"github.com/corvid-labs/personamemory/internal/metastore"
	"github.com/corvid-labs/personamemory/internal/persona"
	"github.com/corvid-labs/personamemory/internal/store"
)

const testDim = 32

// newTestManager builds a Manager over a real SQLite-backed metastore (in a
// per-test temp file) and a real indexed vector store, mirroring how
// runServer wires the same pieces in production.
func newTestManager(t *testing.T) (*persona.Manager, *metastore.Store) {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	meta, err := metastore.Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	cfg := hnsw.DefaultConfig()
	cfg.IndexThreshold = 0
	st, err := store.New(store.Config{
		MaxMemoryBytes: 16 * 1024 * 1024,
		Dimensions:     testDim,
		HNSW:           cfg,
	})
	require.NoError(t, err)

	embedder := local.New(testDim)
	mgr := persona.New(st, meta, embedder, nil)
	return mgr, meta
}

func createTestPersona(t *testing.T, mgr *persona.Manager, maxSize int, decay time.Duration) metastore.Persona {
	t.Helper()
	p, err := mgr.CreatePersona(context.Background(), "owner-1", "assistant", metastore.PersonaConfig{
		MaxMemorySize:   maxSize,
		MemoryDecayTime: decay,
	})
	require.NoError(t, err)
	return p
}

func TestCreatePersonaValidatesMaxMemorySize(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreatePersona(ctx, "owner", "p", metastore.PersonaConfig{
		MaxMemorySize:   9,
		MemoryDecayTime: time.Hour,
	})
	require.Error(t, err)

	_, err = mgr.CreatePersona(ctx, "owner", "p", metastore.PersonaConfig{
		MaxMemorySize:   10001,
		MemoryDecayTime: time.Hour,
	})
	require.Error(t, err)
}

func TestCreatePersonaValidatesDecayTime(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreatePersona(ctx, "owner", "p", metastore.PersonaConfig{
		MaxMemorySize:   10,
		MemoryDecayTime: 30 * time.Second,
	})
	require.Error(t, err)

	_, err = mgr.CreatePersona(ctx, "owner", "p", metastore.PersonaConfig{
		MaxMemorySize:   10,
		MemoryDecayTime: 400 * 24 * time.Hour,
	})
	require.Error(t, err)
}

func TestCreatePersonaAcceptsBoundaryValues(t *testing.T) {
	mgr, _ := newTestManager(t)
	p := createTestPersona(t, mgr, 10, time.Minute)
	assert.Equal(t, "owner-1", p.Owner)
	assert.NotEqual(t, p.ID.String(), "")
}

func TestAddMemoryPersistsAndIndexesVector(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, 24*time.Hour)

	rec, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{
		Content: "the user prefers dark mode",
	})
	require.NoError(t, err)
	assert.Equal(t, metastore.TypeFact, rec.MemoryType)
	assert.NotZero(t, rec.Importance)

	stored, err := meta.GetMemoryRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.OriginalContent, stored.OriginalContent)
}

func TestAddMemoryRejectsUnknownPersona(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.AddMemory(context.Background(), uuid.New(), persona.AddMemoryInput{Content: "x"})
	require.Error(t, err)
}

func TestAddMemoryUsesExplicitImportanceWhenProvided(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, 24*time.Hour)

	explicit := 0.42
	rec, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{
		Content:    "a fact with pinned importance",
		Importance: &explicit,
	})
	require.NoError(t, err)
	assert.Equal(t, explicit, rec.Importance)
}

func TestAddMemoryEnforcesCapByEvictingLowestScoring(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 10, 24*time.Hour)

	for i := 0; i < 10; i++ {
		low := 0.01
		_, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{
			Content:    fmt.Sprintf("filler memory number %d", i),
			Importance: &low,
		})
		require.NoError(t, err)
	}

	high := 0.99
	_, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{
		Content:    "a memory that matters a great deal",
		Importance: &high,
	})
	require.NoError(t, err)

	active, err := meta.CountActiveMemories(ctx, p.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, active, 10, "enforcement must bring the persona back within its cap")

	recs, err := meta.ListByPersona(ctx, p.ID, metastore.ListFilters{}, 0)
	require.NoError(t, err)
	found := false
	for _, r := range recs {
		if r.Importance == high {
			found = true
		}
	}
	assert.True(t, found, "the highest-importance memory must survive eviction")
}

func TestAddConversationExchangeLinksBothMessages(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, 24*time.Hour)

	userRec, assistantRec, err := mgr.AddConversationExchange(ctx, p.ID, "hi there", "hello, how can I help?", "")
	require.NoError(t, err)
	require.NotEmpty(t, userRec.ConversationID)
	assert.Equal(t, userRec.ConversationID, assistantRec.ConversationID)
	assert.Equal(t, metastore.SpeakerUser, userRec.Speaker)
	assert.Equal(t, metastore.SpeakerAssistant, assistantRec.Speaker)

	history, err := mgr.GetConversationHistory(ctx, p.ID, userRec.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRetrieveRelevantMemoriesScopesToPersona(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	p1 := createTestPersona(t, mgr, 100, 24*time.Hour)
	p2 := createTestPersona(t, mgr, 100, 24*time.Hour)

	_, err := mgr.AddMemory(ctx, p1.ID, persona.AddMemoryInput{Content: "loves hiking in the mountains"})
	require.NoError(t, err)
	_, err = mgr.AddMemory(ctx, p2.ID, persona.AddMemoryInput{Content: "loves hiking in the mountains"})
	require.NoError(t, err)

	results, err := mgr.RetrieveRelevantMemories(ctx, p1.ID, "hiking in the mountains", persona.RetrieveOptions{Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, p1.ID, r.Record.PersonaID)
	}
}

func TestRetrieveRelevantMemoriesEmptyIsNotError(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, 24*time.Hour)

	results, err := mgr.RetrieveRelevantMemories(ctx, p.ID, "anything at all", persona.RetrieveOptions{Limit: 5, Threshold: 2})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveRelevantMemoriesBumpsAccessBookkeeping(t *testing.T) {
	mgr, meta := newTestManager(t)
	ctx := context.Background()
	p := createTestPersona(t, mgr, 100, 24*time.Hour)

	rec, err := mgr.AddMemory(ctx, p.ID, persona.AddMemoryInput{Content: "remember this specific fact"})
	require.NoError(t, err)

	_, err = mgr.RetrieveRelevantMemories(ctx, p.ID, "remember this specific fact", persona.RetrieveOptions{Limit: 5})
	require.NoError(t, err)

	updated, err := meta.GetMemoryRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.AccessCount)
}
