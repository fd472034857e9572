package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/corvid-labs/personamemory/internal/errs"
)

// Store is the SQLite-backed metadata store adapter from spec.md §4.6.
// Grounded on the teacher's SQLiteStore.Init/createTables idiom
// (pkg/core/store.go), generalized to the persona/memory-record/api-key/
// audit-log keyspaces this system needs instead of the teacher's
// documents/collections schema.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes schema migration only; *sql.DB is already safe for concurrent queries

	idGen *snowflake.Node
}

// Open opens (creating if necessary) the SQLite database at path and
// applies schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap("metastore.Open", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, errs.Wrap("metastore.Open", err)
	}

	idGen, err := snowflake.NewNode(1)
	if err != nil {
		return nil, errs.Wrap("metastore.Open", err)
	}

	s := &Store{db: db, idGen: idGen}
	if err := s.migrate(ctx); err != nil {
		return nil, errs.Wrap("metastore.Open", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// migrate creates tables idempotently, following the teacher's
// CREATE-TABLE-IF-NOT-EXISTS idiom. Legacy-column additions use the
// rename-copy-drop pattern spec.md §6.2 specifies; see migrateLegacyColumns.
func (s *Store) migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		max_memory_size INTEGER NOT NULL,
		memory_decay_time_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_records (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
		memory_type TEXT NOT NULL,
		importance REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		original_content TEXT NOT NULL,
		conversation_id TEXT,
		speaker TEXT,
		tags TEXT,
		context TEXT,
		last_accessed_at DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		vector BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_memory_records_persona ON memory_records(persona_id);
	CREATE INDEX IF NOT EXISTS idx_memory_records_conversation ON memory_records(persona_id, conversation_id);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		permissions TEXT NOT NULL,
		rate_limit_per_minute INTEGER NOT NULL,
		expires_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor_key_id TEXT,
		action TEXT NOT NULL,
		target TEXT,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return s.migrateLegacyColumns(ctx)
}

// migrateLegacyColumns recreates a table via rename-copy-drop when it is
// missing a column this version expects, preserving ids, matching spec.md
// §6.2's migration policy. memory_records.access_count is the column most
// likely to be absent in a pre-access-tracking database.
func (s *Store) migrateLegacyColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(memory_records)")
	if err != nil {
		return err
	}
	defer rows.Close()

	hasAccessCount := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == "access_count" {
			hasAccessCount = true
		}
	}
	if hasAccessCount {
		return nil
	}

	const renameCopyDrop = `
	ALTER TABLE memory_records RENAME TO memory_records_legacy;
	CREATE TABLE memory_records (
		id TEXT PRIMARY KEY,
		persona_id TEXT NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
		memory_type TEXT NOT NULL,
		importance REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		original_content TEXT NOT NULL,
		conversation_id TEXT,
		speaker TEXT,
		tags TEXT,
		context TEXT,
		last_accessed_at DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		vector BLOB
	);
	INSERT INTO memory_records (id, persona_id, memory_type, importance, timestamp,
		original_content, conversation_id, speaker, tags, context, last_accessed_at, vector)
	SELECT id, persona_id, memory_type, importance, timestamp,
		original_content, conversation_id, speaker, tags, context, timestamp, vector
	FROM memory_records_legacy;
	DROP TABLE memory_records_legacy;
	`
	_, err = s.db.ExecContext(ctx, renameCopyDrop)
	return err
}

func (s *Store) nextID() string { return s.idGen.Generate().String() }

// NextID exposes the store's snowflake id generator for callers (e.g. the
// CLI) that need to mint an id before a record's other fields are known.
func (s *Store) NextID() string { return s.nextID() }

// --- personas ---

func (s *Store) PutPersona(ctx context.Context, p Persona) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (id, owner, name, max_memory_size, memory_decay_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner=excluded.owner, name=excluded.name,
			max_memory_size=excluded.max_memory_size, memory_decay_time_ms=excluded.memory_decay_time_ms`,
		p.ID.String(), p.Owner, p.Name, p.Config.MaxMemorySize, p.Config.MemoryDecayTime.Milliseconds(), p.CreatedAt)
	if err != nil {
		return errs.Wrap("metastore.PutPersona", err)
	}
	return nil
}

func (s *Store) GetPersona(ctx context.Context, id uuid.UUID) (Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owner, name, max_memory_size, memory_decay_time_ms, created_at FROM personas WHERE id = ?`, id.String())
	var p Persona
	var idStr string
	var decayMS int64
	if err := row.Scan(&idStr, &p.Owner, &p.Name, &p.Config.MaxMemorySize, &decayMS, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Persona{}, errs.Wrap("metastore.GetPersona", errs.ErrNotFound)
		}
		return Persona{}, errs.Wrap("metastore.GetPersona", err)
	}
	p.ID, _ = uuid.Parse(idStr)
	p.Config.MemoryDecayTime = time.Duration(decayMS) * time.Millisecond
	return p, nil
}

func (s *Store) DeletePersona(ctx context.Context, id uuid.UUID) error {
	// memory_records cascades via ON DELETE CASCADE once foreign_keys=ON.
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id.String())
	if err != nil {
		return errs.Wrap("metastore.DeletePersona", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap("metastore.DeletePersona", errs.ErrNotFound)
	}
	return nil
}

// ListAllPersonaIDs returns every persona id, for startup buffer rebuild
// (spec.md §6.2).
func (s *Store) ListAllPersonaIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM personas`)
	if err != nil {
		return nil, errs.Wrap("metastore.ListAllPersonaIDs", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, errs.Wrap("metastore.ListAllPersonaIDs", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- memory records ---

func (s *Store) PutMemoryRecord(ctx context.Context, r MemoryRecord) error {
	if err := validateVector(r.StoredVector); err != nil {
		return errs.Wrap("metastore.PutMemoryRecord", err)
	}
	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return errs.Wrap("metastore.PutMemoryRecord", err)
	}
	ctxJSON, err := json.Marshal(r.Context)
	if err != nil {
		return errs.Wrap("metastore.PutMemoryRecord", err)
	}
	vecBytes, err := encodeVector(r.StoredVector)
	if err != nil {
		return errs.Wrap("metastore.PutMemoryRecord", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, persona_id, memory_type, importance, timestamp,
			original_content, conversation_id, speaker, tags, context, last_accessed_at, access_count, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET memory_type=excluded.memory_type, importance=excluded.importance,
			timestamp=excluded.timestamp, original_content=excluded.original_content, conversation_id=excluded.conversation_id,
			speaker=excluded.speaker, tags=excluded.tags, context=excluded.context,
			last_accessed_at=excluded.last_accessed_at, access_count=excluded.access_count, vector=excluded.vector`,
		r.ID.String(), r.PersonaID.String(), string(r.MemoryType), r.Importance, r.Timestamp,
		r.OriginalContent, r.ConversationID, string(r.Speaker), string(tagsJSON), string(ctxJSON),
		r.LastAccessedAt, r.AccessCount, vecBytes)
	if err != nil {
		return errs.Wrap("metastore.PutMemoryRecord", err)
	}
	return nil
}

func (s *Store) GetMemoryRecord(ctx context.Context, id uuid.UUID) (MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, persona_id, memory_type, importance, timestamp, original_content,
			conversation_id, speaker, tags, context, last_accessed_at, access_count, vector
		FROM memory_records WHERE id = ?`, id.String())
	return scanMemoryRecord(row)
}

func scanMemoryRecord(row *sql.Row) (MemoryRecord, error) {
	var r MemoryRecord
	var idStr, personaStr, tagsJSON, ctxJSON string
	var convID, speaker sql.NullString
	var vecBytes []byte
	if err := row.Scan(&idStr, &personaStr, &r.MemoryType, &r.Importance, &r.Timestamp,
		&r.OriginalContent, &convID, &speaker, &tagsJSON, &ctxJSON, &r.LastAccessedAt, &r.AccessCount, &vecBytes); err != nil {
		if err == sql.ErrNoRows {
			return MemoryRecord{}, errs.Wrap("metastore.GetMemoryRecord", errs.ErrNotFound)
		}
		return MemoryRecord{}, errs.Wrap("metastore.GetMemoryRecord", err)
	}
	r.ID, _ = uuid.Parse(idStr)
	r.PersonaID, _ = uuid.Parse(personaStr)
	r.ConversationID = convID.String
	r.Speaker = Speaker(speaker.String)
	_ = json.Unmarshal([]byte(tagsJSON), &r.Tags)
	_ = json.Unmarshal([]byte(ctxJSON), &r.Context)
	vec, err := decodeVector(vecBytes)
	if err != nil {
		return MemoryRecord{}, errs.Wrap("metastore.GetMemoryRecord", err)
	}
	r.StoredVector = vec
	return r, nil
}

func (s *Store) DeleteMemoryRecord(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id.String())
	if err != nil {
		return errs.Wrap("metastore.DeleteMemoryRecord", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Wrap("metastore.DeleteMemoryRecord", errs.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateMemoryRecord(ctx context.Context, id uuid.UUID, apply func(*MemoryRecord)) error {
	rec, err := s.GetMemoryRecord(ctx, id)
	if err != nil {
		return err
	}
	apply(&rec)
	return s.PutMemoryRecord(ctx, rec)
}

// ListByPersona returns every memory record for personaID matching filters,
// sorted by timestamp ascending (callers that want other orders re-sort).
func (s *Store) ListByPersona(ctx context.Context, personaID uuid.UUID, filters ListFilters, limit int) ([]MemoryRecord, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, persona_id, memory_type, importance, timestamp, original_content,
		conversation_id, speaker, tags, context, last_accessed_at, access_count, vector
		FROM memory_records WHERE persona_id = ?`)
	args := []any{personaID.String()}

	if len(filters.MemoryTypes) > 0 {
		query.WriteString(" AND memory_type IN (")
		for i, t := range filters.MemoryTypes {
			if i > 0 {
				query.WriteString(",")
			}
			query.WriteString("?")
			args = append(args, string(t))
		}
		query.WriteString(")")
	}
	if filters.OlderThan != nil {
		query.WriteString(" AND timestamp < ?")
		args = append(args, *filters.OlderThan)
	}
	if filters.NewerThan != nil {
		query.WriteString(" AND timestamp > ?")
		args = append(args, *filters.NewerThan)
	}
	if filters.ConversationID != "" {
		query.WriteString(" AND conversation_id = ?")
		args = append(args, filters.ConversationID)
	}
	query.WriteString(" ORDER BY timestamp ASC")
	if limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, errs.Wrap("metastore.ListByPersona", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var r MemoryRecord
		var idStr, personaStr, tagsJSON, ctxJSON string
		var convID, speaker sql.NullString
		var vecBytes []byte
		if err := rows.Scan(&idStr, &personaStr, &r.MemoryType, &r.Importance, &r.Timestamp,
			&r.OriginalContent, &convID, &speaker, &tagsJSON, &ctxJSON, &r.LastAccessedAt, &r.AccessCount, &vecBytes); err != nil {
			return nil, errs.Wrap("metastore.ListByPersona", err)
		}
		r.ID, _ = uuid.Parse(idStr)
		r.PersonaID, _ = uuid.Parse(personaStr)
		r.ConversationID = convID.String
		r.Speaker = Speaker(speaker.String)
		_ = json.Unmarshal([]byte(tagsJSON), &r.Tags)
		_ = json.Unmarshal([]byte(ctxJSON), &r.Context)
		vec, err := decodeVector(vecBytes)
		if err != nil {
			return nil, errs.Wrap("metastore.ListByPersona", err)
		}
		r.StoredVector = vec
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveMemories(ctx context.Context, personaID uuid.UUID) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_records WHERE persona_id = ?`, personaID.String())
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, errs.Wrap("metastore.CountActiveMemories", err)
	}
	return n, nil
}

// --- api keys ---

func (s *Store) PutApiKey(ctx context.Context, k ApiKeyRecord) error {
	permsJSON, err := json.Marshal(k.Permissions)
	if err != nil {
		return errs.Wrap("metastore.PutApiKey", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, permissions, rate_limit_per_minute, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.Hash, string(permsJSON), k.RateLimit, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return errs.Wrap("metastore.PutApiKey", err)
	}
	return nil
}

func (s *Store) GetApiKey(ctx context.Context, id string) (ApiKeyRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, key_hash, permissions, rate_limit_per_minute, expires_at, created_at FROM api_keys WHERE id = ?`, id)
	var k ApiKeyRecord
	var permsJSON string
	if err := row.Scan(&k.ID, &k.Name, &k.Hash, &permsJSON, &k.RateLimit, &k.ExpiresAt, &k.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ApiKeyRecord{}, errs.Wrap("metastore.GetApiKey", errs.ErrNotFound)
		}
		return ApiKeyRecord{}, errs.Wrap("metastore.GetApiKey", err)
	}
	_ = json.Unmarshal([]byte(permsJSON), &k.Permissions)
	return k, nil
}

// --- audit log ---

// RecordAudit appends an immutable audit-log entry, used by the api-key and
// wire layers (§6.1). Ids are generated with snowflake rather than uuid:
// this is a high-volume, append-only, naturally-time-ordered table, the
// same role snowflake plays in ob-labs-powermem-go.
func (s *Store) RecordAudit(ctx context.Context, actorKeyID, action, target string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (id, actor_key_id, action, target, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.nextID(), actorKeyID, action, target, time.Now())
	if err != nil {
		return errs.Wrap("metastore.RecordAudit", err)
	}
	return nil
}
