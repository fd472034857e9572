// Package metastore implements the metadata store adapter from spec.md
// §4.6: a durable, key-addressable record store for persona configs, memory
// records, api keys, and audit log entries, backed by modernc.org/sqlite —
// the teacher's own driver, chosen again here for the same reason (pure Go,
// no cgo).
package metastore

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType enumerates the memory kinds shared verbatim between persona
// records and search filters (spec.md §9 open question: the enumeration
// must match exactly on both sides of the wire boundary).
type MemoryType string

const (
	TypeConversation MemoryType = "conversation"
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypeContext      MemoryType = "context"
	TypeSystem       MemoryType = "system"
)

// ValidMemoryType reports whether t is one of the recognized memory types.
func ValidMemoryType(t MemoryType) bool {
	switch t {
	case TypeConversation, TypeFact, TypePreference, TypeContext, TypeSystem:
		return true
	default:
		return false
	}
}

// Speaker enumerates who produced a conversation-type memory.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// MemoryRecord is the durable metadata attached to a VectorId, per spec.md
// §3.
type MemoryRecord struct {
	ID               uuid.UUID
	PersonaID        uuid.UUID
	MemoryType       MemoryType
	Importance       float64
	Timestamp        time.Time
	OriginalContent  string
	ConversationID   string
	Speaker          Speaker
	Tags             []string
	Context          map[string]any
	LastAccessedAt   time.Time
	AccessCount      int
	// StoredVector optionally caches the embedding so it can be re-inserted
	// into the buffer on startup without calling the embedding provider
	// again, per spec.md §6.2 ("re-embedding if the stored vector is
	// absent").
	StoredVector []float32
}

// PersonaConfig holds the tunables spec.md §4.5 validates at creation time.
type PersonaConfig struct {
	MaxMemorySize   int
	MemoryDecayTime time.Duration
}

// Persona is the named container owning a set of memory records.
type Persona struct {
	ID        uuid.UUID
	Owner     string
	Name      string
	Config    PersonaConfig
	CreatedAt time.Time
}

// ListFilters narrows a listByPersona call.
type ListFilters struct {
	MemoryTypes    []MemoryType
	OlderThan      *time.Time
	NewerThan      *time.Time
	ConversationID string
}

// ApiKeyRecord is the durable row backing an issued api key (internal/apikey
// computes Hash; this store only persists and looks it up).
type ApiKeyRecord struct {
	ID          string
	Name        string
	Hash        string
	Permissions []string
	RateLimit   int
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}
