package persona

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/metastore"
)

// evictionCandidate pairs a memory record with its computed eviction score.
type evictionCandidate struct {
	record metastore.MemoryRecord
	score  float64
}

// EnforceMemoryLimits implements spec.md's enforceMemoryLimits: when a
// persona's active memory count exceeds its configured cap, evict the
// highest-eviction-score memories until back within cap.
//
// evict = 0.5*(1-importance) + 0.3*ageFraction + 0.2*(1-recentAccessFactor)
func (m *Manager) EnforceMemoryLimits(ctx context.Context, personaID uuid.UUID) error {
	p, err := m.meta.GetPersona(ctx, personaID)
	if err != nil {
		return errs.Wrap("persona.EnforceMemoryLimits", err)
	}

	recs, err := m.meta.ListByPersona(ctx, personaID, metastore.ListFilters{}, 0)
	if err != nil {
		return errs.Wrap("persona.EnforceMemoryLimits", err)
	}
	if len(recs) <= p.Config.MaxMemorySize {
		return nil
	}

	oldest, newest := oldestNewest(recs)
	span := newest.Sub(oldest)
	if span <= 0 {
		span = time.Second
	}

	candidates := make([]evictionCandidate, 0, len(recs))
	for _, r := range recs {
		ageFraction := float64(r.Timestamp.Sub(oldest)) / float64(span)
		ageFraction = 1 - ageFraction // older records (smaller timestamp) get a larger ageFraction
		recentAccessFactor := recentAccessScore(r.LastAccessedAt, oldest, newest)
		score := 0.5*(1-r.Importance) + 0.3*ageFraction + 0.2*(1-recentAccessFactor)
		candidates = append(candidates, evictionCandidate{record: r, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].record.ID.String() < candidates[j].record.ID.String()
	})

	toEvict := len(recs) - p.Config.MaxMemorySize
	for i := 0; i < toEvict && i < len(candidates); i++ {
		id := candidates[i].record.ID
		if err := m.store.DeleteVector(id); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return errs.Wrap("persona.EnforceMemoryLimits", err)
		}
		if err := m.meta.DeleteMemoryRecord(ctx, id); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return errs.Wrap("persona.EnforceMemoryLimits", err)
		}
	}
	return nil
}

// oldestNewest returns the earliest and latest timestamps across recs.
func oldestNewest(recs []metastore.MemoryRecord) (oldest, newest time.Time) {
	oldest, newest = recs[0].Timestamp, recs[0].Timestamp
	for _, r := range recs[1:] {
		if r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
		}
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	return oldest, newest
}

// recentAccessScore maps lastAccessedAt linearly into [0,1] across the
// window between oldest and newest (EnforceMemoryLimits passes the set's
// earliest and latest creation timestamps), clamped at both ends: a memory
// last accessed at or after newest scores 1, one at or before oldest
// scores 0.
func recentAccessScore(lastAccessedAt, oldest, newest time.Time) float64 {
	span := newest.Sub(oldest)
	if span <= 0 {
		return 1
	}
	frac := float64(lastAccessedAt.Sub(oldest)) / float64(span)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return frac
}

// CleanupExpiredMemories implements spec.md's cleanupExpiredMemories: for
// every persona, delete memories whose age exceeds the persona's
// memoryDecayTime AND whose importance is below the perpetual-tier
// threshold. Memories at or above the threshold are retained regardless of
// age.
func (m *Manager) CleanupExpiredMemories(ctx context.Context, personaIDs []uuid.UUID) (int, error) {
	deleted := 0
	now := time.Now()

	for _, personaID := range personaIDs {
		p, err := m.meta.GetPersona(ctx, personaID)
		if err != nil {
			return deleted, errs.Wrap("persona.CleanupExpiredMemories", err)
		}

		cutoff := now.Add(-p.Config.MemoryDecayTime)
		recs, err := m.meta.ListByPersona(ctx, personaID, metastore.ListFilters{OlderThan: &cutoff}, 0)
		if err != nil {
			return deleted, errs.Wrap("persona.CleanupExpiredMemories", err)
		}

		for _, r := range recs {
			if r.Importance >= m.decayFloor {
				continue // perpetual tier: retained regardless of age
			}
			if err := m.store.DeleteVector(r.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
				return deleted, errs.Wrap("persona.CleanupExpiredMemories", err)
			}
			if err := m.meta.DeleteMemoryRecord(ctx, r.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
				return deleted, errs.Wrap("persona.CleanupExpiredMemories", err)
			}
			deleted++
		}
	}
	return deleted, nil
}
