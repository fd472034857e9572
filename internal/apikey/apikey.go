// Package apikey implements the wire API's authentication primitive from
// spec.md §6.1: opaque per-key secrets validated against a hashed store,
// each carrying a permission set, a requests-per-minute rate limit, and an
// optional expiration.
//
// No library in the retrieval pack hashes credentials (golang.org/x/crypto
// appears only as an indirect dependency pulled in by an unrelated
// transport, never imported directly for password/secret hashing), so this
// package uses the standard library's crypto/sha256 with a salt and
// iterated rounds rather than reaching for an unverified dependency; see
// DESIGN.md.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corvid-labs/personamemory/internal/errs"
)

// Permission is one scope an api key may carry.
type Permission string

const (
	PermRead            Permission = "read"
	PermWrite           Permission = "write"
	PermVectorsRead     Permission = "vectors:read"
	PermVectorsWrite    Permission = "vectors:write"
	PermPersonasRead    Permission = "personas:read"
	PermPersonasWrite   Permission = "personas:write"
	PermAdmin           Permission = "admin"
)

// ValidPermission reports whether p is a recognized scope.
func ValidPermission(p Permission) bool {
	switch p {
	case PermRead, PermWrite, PermVectorsRead, PermVectorsWrite, PermPersonasRead, PermPersonasWrite, PermAdmin:
		return true
	default:
		return false
	}
}

// Key is the durable record stored per issued api key; Hash is never
// reversed back into the plaintext secret.
type Key struct {
	ID          string
	Name        string
	Hash        string
	Permissions []Permission
	RateLimit   int // requests per minute
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// HasPermission reports whether k's scopes satisfy need, with admin
// satisfying anything.
func (k Key) HasPermission(need Permission) bool {
	for _, p := range k.Permissions {
		if p == PermAdmin || p == need {
			return true
		}
	}
	return false
}

// Expired reports whether k's expiration has passed as of now.
func (k Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Generate produces a new random plaintext secret and its salted hash,
// using saltRounds iterations of SHA-256 as the cost factor spec.md's
// apiKeySaltRounds configuration option tunes. The plaintext embeds id so a
// presented key can be routed to its record without scanning every issued
// key: `pmk_<id>_<secret>`.
func Generate(id string, saltRounds int) (plaintext string, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", errs.Wrap("apikey.Generate", errs.ErrInternal)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	plaintext = "pmk_" + id + "_" + secret

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", errs.Wrap("apikey.Generate", errs.ErrInternal)
	}
	hash = hashSecret(secret, salt, saltRounds)
	return plaintext, hash, nil
}

// ParseID extracts the embedded key id from a presented plaintext key,
// without needing to look the key up first.
func ParseID(plaintext string) (id string, secret string, ok bool) {
	const prefix = "pmk_"
	if !strings.HasPrefix(plaintext, prefix) {
		return "", "", false
	}
	rest := plaintext[len(prefix):]
	idx := strings.IndexByte(rest, '_')
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// hashSecret applies rounds iterations of SHA-256 over secret+salt,
// prefixing the output with the hex salt so Verify can recover it.
func hashSecret(secret string, salt []byte, rounds int) string {
	if rounds < 1 {
		rounds = 1
	}
	sum := append([]byte(secret), salt...)
	for i := 0; i < rounds; i++ {
		h := sha256.Sum256(sum)
		sum = h[:]
	}
	return fmt.Sprintf("%s$%d$%s", hex.EncodeToString(salt), rounds, hex.EncodeToString(sum))
}

// Verify reports whether secret hashes to storedHash, in constant time.
func Verify(secret, storedHash string) bool {
	parts := strings.SplitN(storedHash, "$", 3)
	if len(parts) != 3 {
		return false
	}
	rounds, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	candidate := hashSecret(secret, salt, rounds)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

// Limiter tracks a sliding per-key request count, per spec.md's
// rateLimitWindowMs/rateLimitMaxRequests configuration. Safe for concurrent
// use: gin dispatches each request on its own goroutine, and a single
// Limiter is shared across every request the wire API serves.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	counts map[string][]time.Time
}

// NewLimiter builds a Limiter with the given window and max requests per
// window.
func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{window: window, max: max, counts: make(map[string][]time.Time)}
}

// Allow reports whether keyID may make another request now, recording the
// attempt if so.
func (l *Limiter) Allow(ctx context.Context, keyID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := l.counts[keyID][:0]
	for _, t := range l.counts[keyID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.max {
		l.counts[keyID] = recent
		return false
	}
	l.counts[keyID] = append(recent, now)
	return true
}
