package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corvid-labs/personamemory/internal/apikey"
	"github.com/corvid-labs/personamemory/internal/metastore"
	"github.com/corvid-labs/personamemory/internal/persona"
	"github.com/corvid-labs/personamemory/internal/store"
)

// NewEngine builds the gin.Engine serving spec.md §6.1's wire API, wiring
// api-key auth, the persona lifecycle, and the raw vector store endpoints.
func NewEngine(st *store.Store, meta *metastore.Store, mgr *persona.Manager, rateWindow time.Duration, rateMax int) *gin.Engine {
	// Request bodies bind into fixed structs; a JSON key with no matching
	// field is a validation error rather than being silently dropped.
	gin.EnableJsonDecoderDisallowUnknownFields()

	r := gin.New()
	r.Use(gin.Recovery())

	limiter := apikey.NewLimiter(rateWindow, rateMax)
	auth := authMiddleware(meta, limiter)

	mountPersonaRoutes(r, mgr, meta, auth)
	mountVectorRoutes(r, st, auth)

	return r
}
