// Package persona implements PersonaMemoryManager, the lifecycle layer from
// spec.md §4.5: it maps human-meaningful operations (add memory, add
// conversation turn, semantic recall) onto IndexedVectorStore, enforcing
// per-persona capacity, importance-weighted eviction, time-decay cleanup,
// and similarity+importance+recency score fusion.
//
// Grounded on the teacher's pkg/memory package for the retain/recall
// lifecycle shape (Retain → Recall → cleanup), generalized from Hindsight's
// layered-knowledge model to this system's flat per-persona memory set with
// explicit capacity and decay policy.
package persona

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/personamemory/internal/embedding"
	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/logx"
	"github.com/corvid-labs/personamemory/internal/metastore"
	"github.com/corvid-labs/personamemory/internal/store"
)

const (
	minMaxMemorySize = 10
	maxMaxMemorySize = 10000
	minDecayTime     = time.Minute
	maxDecayTime     = 365 * 24 * time.Hour

	// perpetualImportanceThreshold is the default floor above which a memory
	// is retained regardless of age during cleanupExpiredMemories.
	perpetualImportanceThreshold = 0.7

	// recencyHalfLifeHours sets λ in recencyFactor = exp(-λ·ageHours) so the
	// factor halves roughly every 7 days, per spec.md's final-score formula.
	recencyHalfLifeHours = 7 * 24.0
)

// Manager is the PersonaMemoryManager described in spec.md §4.5.
type Manager struct {
	store     *store.Store
	meta      *metastore.Store
	embedder  embedding.Provider
	log       logx.Logger
	decayFloor float64 // retention threshold used by cleanupExpiredMemories
}

// New constructs a Manager over an already-built vector store, metadata
// store, and embedding provider.
func New(st *store.Store, meta *metastore.Store, embedder embedding.Provider, log logx.Logger) *Manager {
	if log == nil {
		log = logx.Nop()
	}
	return &Manager{store: st, meta: meta, embedder: embedder, log: log, decayFloor: perpetualImportanceThreshold}
}

// CreatePersona validates config and persists a new persona record.
func (m *Manager) CreatePersona(ctx context.Context, owner, name string, cfg metastore.PersonaConfig) (metastore.Persona, error) {
	if cfg.MaxMemorySize < minMaxMemorySize || cfg.MaxMemorySize > maxMaxMemorySize {
		return metastore.Persona{}, errs.Validationf("maxMemorySize must be in [%d, %d]", minMaxMemorySize, maxMaxMemorySize)
	}
	if cfg.MemoryDecayTime < minDecayTime || cfg.MemoryDecayTime > maxDecayTime {
		return metastore.Persona{}, errs.Validationf("memoryDecayTime must be in [%s, %s]", minDecayTime, maxDecayTime)
	}

	p := metastore.Persona{
		ID:        uuid.New(),
		Owner:     owner,
		Name:      name,
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	if err := m.meta.PutPersona(ctx, p); err != nil {
		return metastore.Persona{}, errs.Wrap("persona.CreatePersona", err)
	}
	return p, nil
}

// AddMemoryInput is the caller-supplied content for AddMemory.
type AddMemoryInput struct {
	MemoryType     metastore.MemoryType
	Content        string
	ConversationID string
	Speaker        metastore.Speaker
	Tags           []string
	Context        map[string]any
	Importance     *float64 // nil triggers fallbackImportance
}

// AddMemory implements spec.md's addMemory: validate persona, embed content,
// insert into the indexed store, persist metadata, then enforce the
// persona's cap if it was exceeded.
func (m *Manager) AddMemory(ctx context.Context, personaID uuid.UUID, in AddMemoryInput) (metastore.MemoryRecord, error) {
	p, err := m.meta.GetPersona(ctx, personaID)
	if err != nil {
		return metastore.MemoryRecord{}, errs.Wrap("persona.AddMemory", err)
	}

	vec, err := m.embedder.Embed(ctx, in.Content)
	if err != nil {
		return metastore.MemoryRecord{}, errs.Wrap("persona.AddMemory", errs.ErrDependency)
	}

	memType := in.MemoryType
	if memType == "" {
		memType = metastore.TypeFact
	}
	if !metastore.ValidMemoryType(memType) {
		return metastore.MemoryRecord{}, errs.Validationf("unknown memory type %q", memType)
	}

	now := time.Now()
	importance := 0.0
	if in.Importance != nil {
		importance = *in.Importance
	} else {
		importance = fallbackImportance(in.Content, now, 0, "")
	}

	rec := metastore.MemoryRecord{
		ID:              uuid.New(),
		PersonaID:       personaID,
		MemoryType:      memType,
		Importance:      importance,
		Timestamp:       now,
		OriginalContent: in.Content,
		ConversationID:  in.ConversationID,
		Speaker:         in.Speaker,
		Tags:            in.Tags,
		Context:         in.Context,
		LastAccessedAt:  now,
		AccessCount:     0,
		StoredVector:    vec,
	}

	if err := m.store.AddVector(ctx, rec.ID, vec); err != nil {
		return metastore.MemoryRecord{}, errs.Wrap("persona.AddMemory", err)
	}
	if err := m.meta.PutMemoryRecord(ctx, rec); err != nil {
		_ = m.store.DeleteVector(rec.ID)
		return metastore.MemoryRecord{}, errs.Wrap("persona.AddMemory", err)
	}

	active, err := m.meta.CountActiveMemories(ctx, personaID)
	if err != nil {
		m.log.Warn("count active memories failed", "persona", personaID, "err", err)
	} else if active > p.Config.MaxMemorySize {
		if err := m.EnforceMemoryLimits(ctx, personaID); err != nil {
			m.log.Warn("enforce memory limits failed", "persona", personaID, "err", err)
		}
	}

	return rec, nil
}

// AddConversationExchange stores a user/assistant message pair linked by a
// shared conversation id, rolling back the first insert if the second
// fails.
func (m *Manager) AddConversationExchange(ctx context.Context, personaID uuid.UUID, userMsg, assistantMsg, conversationID string) (metastore.MemoryRecord, metastore.MemoryRecord, error) {
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	userRec, err := m.AddMemory(ctx, personaID, AddMemoryInput{
		MemoryType:     metastore.TypeConversation,
		Content:        userMsg,
		ConversationID: conversationID,
		Speaker:        metastore.SpeakerUser,
	})
	if err != nil {
		return metastore.MemoryRecord{}, metastore.MemoryRecord{}, errs.Wrap("persona.AddConversationExchange", err)
	}

	assistantRec, err := m.AddMemory(ctx, personaID, AddMemoryInput{
		MemoryType:     metastore.TypeConversation,
		Content:        assistantMsg,
		ConversationID: conversationID,
		Speaker:        metastore.SpeakerAssistant,
	})
	if err != nil {
		// Roll back the first insert so the exchange is all-or-nothing.
		_ = m.store.DeleteVector(userRec.ID)
		_ = m.meta.DeleteMemoryRecord(ctx, userRec.ID)
		return metastore.MemoryRecord{}, metastore.MemoryRecord{}, errs.Wrap("persona.AddConversationExchange", err)
	}

	return userRec, assistantRec, nil
}

// RetrieveOptions controls retrieveRelevantMemories.
type RetrieveOptions struct {
	Limit       int
	Threshold   float32
	MemoryTypes []metastore.MemoryType // empty means no type restriction
	MaxAge      time.Duration          // zero means no age restriction
}

// ScoredMemory pairs a memory record with its final fused score.
type ScoredMemory struct {
	Record     metastore.MemoryRecord
	Similarity float32
	FinalScore float64
}

// RetrieveRelevantMemories implements spec.md's retrieveRelevantMemories:
// embed the query, search with an over-fetch of 2x the requested limit,
// enrich with metadata, compute the final score, sort descending, truncate.
func (m *Manager) RetrieveRelevantMemories(ctx context.Context, personaID uuid.UUID, query string, opts RetrieveOptions) ([]ScoredMemory, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap("persona.RetrieveRelevantMemories", errs.ErrDependency)
	}

	var cutoff time.Time
	if opts.MaxAge > 0 {
		cutoff = time.Now().Add(-opts.MaxAge)
	}

	// personaID membership, memoryTypes, and maxAge are all enforced as a
	// post-search filter because the vector store has no notion of persona
	// scoping or metadata of its own; the filter closure checks the
	// metadata store per candidate id.
	filter := func(id uuid.UUID) bool {
		rec, err := m.meta.GetMemoryRecord(ctx, id)
		if err != nil || rec.PersonaID != personaID {
			return false
		}
		if len(opts.MemoryTypes) > 0 {
			matched := false
			for _, t := range opts.MemoryTypes {
				if rec.MemoryType == t {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		if !cutoff.IsZero() && rec.Timestamp.Before(cutoff) {
			return false
		}
		return true
	}

	hits, err := m.store.Search(ctx, queryVec, store.SearchOptions{
		Limit:     opts.Limit * 2,
		Threshold: opts.Threshold,
		Filter:    filter,
	})
	if err != nil {
		return nil, errs.Wrap("persona.RetrieveRelevantMemories", err)
	}

	scored := make([]ScoredMemory, 0, len(hits))
	for _, h := range hits {
		rec, err := m.meta.GetMemoryRecord(ctx, h.ID)
		if err != nil {
			continue
		}
		final := finalScore(float64(h.Similarity), rec.Importance, rec.Timestamp)
		scored = append(scored, ScoredMemory{Record: rec, Similarity: h.Similarity, FinalScore: final})

		rec.AccessCount++
		rec.LastAccessedAt = time.Now()
		if err := m.meta.PutMemoryRecord(ctx, rec); err != nil {
			m.log.Warn("access-count update failed", "memory", rec.ID, "err", err)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].FinalScore > scored[j].FinalScore })
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return scored, nil
}

// finalScore implements spec.md's score fusion:
// finalScore = similarity + 0.10*importance + 0.05*recencyFactor.
func finalScore(similarity, importance float64, timestamp time.Time) float64 {
	ageHours := time.Since(timestamp).Hours()
	lambda := math.Ln2 / recencyHalfLifeHours
	recencyFactor := math.Exp(-lambda * ageHours)
	return similarity + 0.10*importance + 0.05*recencyFactor
}

// GetConversationHistory returns every memory sharing conversationID,
// ordered oldest-first, truncated to limit.
func (m *Manager) GetConversationHistory(ctx context.Context, personaID uuid.UUID, conversationID string, limit int) ([]metastore.MemoryRecord, error) {
	recs, err := m.meta.ListByPersona(ctx, personaID, metastore.ListFilters{ConversationID: conversationID}, limit)
	if err != nil {
		return nil, errs.Wrap("persona.GetConversationHistory", err)
	}
	return recs, nil
}
