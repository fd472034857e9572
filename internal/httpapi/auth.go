package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/personamemory/internal/apikey"
	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/metastore"
)

// contextKeyAuth is the gin context key holding the resolved api key
// record for the current request, grounded on chirino-memory-service's
// security.ContextKeyUserID pattern.
const contextKeyAuth = "apiKey"

// failUnauthenticated writes the 401 case spec.md §6.1 distinguishes from
// the 403 "insufficient permission" case handled by fail/statusFor: no
// key presented, the key is malformed, unknown, wrong, or expired.
func failUnauthenticated(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, envelope{Status: "error", Error: "unauthenticated", Message: message})
}

// authMiddleware validates the X-API-Key header against the hashed store
// and attaches the resolved key to the gin context.
func authMiddleware(meta *metastore.Store, limiter *apikey.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-API-Key")
		if presented == "" {
			failUnauthenticated(c, "missing X-API-Key header")
			c.Abort()
			return
		}

		id, secret, ok := apikey.ParseID(presented)
		if !ok {
			failUnauthenticated(c, "malformed api key")
			c.Abort()
			return
		}

		rec, err := meta.GetApiKey(c.Request.Context(), id)
		if err != nil {
			failUnauthenticated(c, "unknown api key")
			c.Abort()
			return
		}
		if !apikey.Verify(secret, rec.Hash) {
			failUnauthenticated(c, "invalid api key")
			c.Abort()
			return
		}

		perms := make([]apikey.Permission, len(rec.Permissions))
		for i, p := range rec.Permissions {
			perms[i] = apikey.Permission(p)
		}
		key := apikey.Key{ID: rec.ID, Name: rec.Name, Hash: rec.Hash, Permissions: perms, RateLimit: rec.RateLimit, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt}

		now := time.Now()
		if key.Expired(now) {
			failUnauthenticated(c, "api key expired")
			c.Abort()
			return
		}
		if !limiter.Allow(c.Request.Context(), key.ID, now) {
			fail(c, errs.Wrap("httpapi.auth", errs.ErrRateLimited))
			c.Abort()
			return
		}

		// Best-effort: an audit-log write failure must never block the request.
		_ = meta.RecordAudit(c.Request.Context(), key.ID, c.Request.Method, c.Request.URL.Path)

		c.Set(contextKeyAuth, key)
		c.Next()
	}
}

// requirePermission aborts the request unless the resolved key carries need.
func requirePermission(need apikey.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(contextKeyAuth)
		if !exists {
			failUnauthenticated(c, "no authenticated api key on request")
			c.Abort()
			return
		}
		key := v.(apikey.Key)
		if !key.HasPermission(need) {
			fail(c, errs.Wrap("httpapi.auth", errs.ErrPermission))
			c.Abort()
			return
		}
		c.Next()
	}
}
