package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/corvid-labs/personamemory/internal/apikey"
	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/metastore"
	"github.com/corvid-labs/personamemory/internal/persona"
)

// mountPersonaRoutes wires the persona CRUD and memory/conversation
// endpoints from spec.md §6.1. Grounded on chirino-memory-service's
// MountRoutes(r *gin.Engine, store, auth) shape.
func mountPersonaRoutes(r *gin.Engine, mgr *persona.Manager, meta *metastore.Store, auth gin.HandlerFunc) {
	g := r.Group("/api/personas", auth)

	g.POST("", requirePermission(apikey.PermPersonasWrite), createPersona(mgr))
	g.GET("", requirePermission(apikey.PermPersonasRead), listPersonas(meta))
	g.GET("/:id", requirePermission(apikey.PermPersonasRead), getPersona(meta))
	g.PUT("/:id", requirePermission(apikey.PermPersonasWrite), updatePersona(meta))
	g.DELETE("/:id", requirePermission(apikey.PermPersonasWrite), deletePersona(meta))

	g.POST("/:id/memories", requirePermission(apikey.PermWrite), addMemory(mgr))
	g.POST("/:id/memories/search", requirePermission(apikey.PermRead), searchMemories(mgr))
	g.POST("/:id/conversations", requirePermission(apikey.PermWrite), addConversation(mgr))
	g.GET("/:id/conversations/:conversationId", requirePermission(apikey.PermRead), getConversation(mgr))
	g.POST("/:id/cleanup", requirePermission(apikey.PermAdmin), cleanupPersona(mgr))
}

type createPersonaRequest struct {
	Name            string `json:"name" binding:"required"`
	Description     string `json:"description"`
	SystemPrompt    string `json:"systemPrompt"`
	MaxMemorySize   int    `json:"maxMemorySize"`
	MemoryDecayTime string `json:"memoryDecayTime"`
	Owner           string `json:"owner"`
}

func createPersona(mgr *persona.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPersonaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}

		cfg := metastore.PersonaConfig{MaxMemorySize: req.MaxMemorySize, MemoryDecayTime: 30 * 24 * time.Hour}
		if req.MaxMemorySize == 0 {
			cfg.MaxMemorySize = 1000
		}
		if req.MemoryDecayTime != "" {
			d, err := time.ParseDuration(req.MemoryDecayTime)
			if err != nil {
				fail(c, errs.Validationf("invalid memoryDecayTime: %v", err))
				return
			}
			cfg.MemoryDecayTime = d
		}

		p, err := mgr.CreatePersona(c.Request.Context(), req.Owner, req.Name, cfg)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, p)
	}
}

func listPersonas(meta *metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		// No bulk-list-all query is part of the durable contract (spec.md
		// §4.6 only names per-persona/per-id operations). This endpoint
		// always answers with a validation error; it reads no query
		// parameters and lists no personas.
		fail(c, errs.Validationf("listing personas is not supported; use GET /api/personas/{id}"))
	}
}

func getPersona(meta *metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		p, err := meta.GetPersona(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

type updatePersonaRequest struct {
	Name            string `json:"name"`
	MaxMemorySize   int    `json:"maxMemorySize"`
	MemoryDecayTime string `json:"memoryDecayTime"`
}

func updatePersona(meta *metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		p, err := meta.GetPersona(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}

		var req updatePersonaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}
		if req.Name != "" {
			p.Name = req.Name
		}
		if req.MaxMemorySize != 0 {
			p.Config.MaxMemorySize = req.MaxMemorySize
		}
		if req.MemoryDecayTime != "" {
			d, err := time.ParseDuration(req.MemoryDecayTime)
			if err != nil {
				fail(c, errs.Validationf("invalid memoryDecayTime: %v", err))
				return
			}
			p.Config.MemoryDecayTime = d
		}

		if err := meta.PutPersona(c.Request.Context(), p); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, p)
	}
}

func deletePersona(meta *metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		if err := meta.DeletePersona(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"deleted": id})
	}
}

type addMemoryRequest struct {
	Content    string         `json:"content" binding:"required"`
	Type       string         `json:"type"`
	Importance *float64       `json:"importance"`
	Context    map[string]any `json:"context"`
}

func addMemory(mgr *persona.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		personaID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		var req addMemoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}
		memType := metastore.MemoryType(req.Type)
		if memType == "" {
			memType = metastore.TypeFact
		}

		rec, err := mgr.AddMemory(c.Request.Context(), personaID, persona.AddMemoryInput{
			MemoryType: memType,
			Content:    req.Content,
			Context:    req.Context,
			Importance: req.Importance,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, rec)
	}
}

type searchMemoriesRequest struct {
	Query          string   `json:"query" binding:"required"`
	Limit          int      `json:"limit"`
	Threshold      float32  `json:"threshold"`
	MemoryTypes    []string `json:"memoryTypes"`
	MaxAgeSeconds  int      `json:"maxAge"`
	IncludeContext bool     `json:"includeContext"`
}

func searchMemories(mgr *persona.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		personaID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		var req searchMemoriesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}

		memTypes := make([]metastore.MemoryType, 0, len(req.MemoryTypes))
		for _, t := range req.MemoryTypes {
			mt := metastore.MemoryType(t)
			if !metastore.ValidMemoryType(mt) {
				fail(c, errs.Validationf("unknown memory type %q", t))
				return
			}
			memTypes = append(memTypes, mt)
		}
		var maxAge time.Duration
		if req.MaxAgeSeconds > 0 {
			maxAge = time.Duration(req.MaxAgeSeconds) * time.Second
		}

		results, err := mgr.RetrieveRelevantMemories(c.Request.Context(), personaID, req.Query, persona.RetrieveOptions{
			Limit:       req.Limit,
			Threshold:   req.Threshold,
			MemoryTypes: memTypes,
			MaxAge:      maxAge,
		})
		if err != nil {
			fail(c, err)
			return
		}

		type hit struct {
			ID         string  `json:"id"`
			Similarity float32 `json:"similarity"`
			FinalScore float64 `json:"finalScore"`
			Content    string  `json:"content,omitempty"`
			Metadata   any     `json:"metadata,omitempty"`
		}
		out := make([]hit, 0, len(results))
		for _, r := range results {
			h := hit{ID: r.Record.ID.String(), Similarity: r.Similarity, FinalScore: r.FinalScore, Content: r.Record.OriginalContent}
			if req.IncludeContext {
				h.Metadata = r.Record.Context
			}
			out = append(out, h)
		}
		ok(c, http.StatusOK, out)
	}
}

type addConversationRequest struct {
	UserMessage      string `json:"userMessage" binding:"required"`
	AssistantMessage string `json:"assistantResponse" binding:"required"`
	ConversationID   string `json:"conversationId"`
}

func addConversation(mgr *persona.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		personaID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		var req addConversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}

		userRec, assistantRec, err := mgr.AddConversationExchange(c.Request.Context(), personaID, req.UserMessage, req.AssistantMessage, req.ConversationID)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, gin.H{"user": userRec, "assistant": assistantRec, "conversationId": userRec.ConversationID})
	}
}

func getConversation(mgr *persona.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		personaID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		conversationID := c.Param("conversationId")
		limit := queryInt(c, "limit", 0)

		recs, err := mgr.GetConversationHistory(c.Request.Context(), personaID, conversationID, limit)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, recs)
	}
}

type cleanupRequest struct {
	OlderThan string `json:"olderThan"`
	DryRun    bool   `json:"dryRun"`
}

func cleanupPersona(mgr *persona.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		personaID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid persona id"))
			return
		}
		var req cleanupRequest
		_ = c.ShouldBindJSON(&req)

		if req.DryRun {
			okMeta(c, http.StatusOK, gin.H{"dryRun": true}, nil)
			return
		}

		deleted, err := mgr.CleanupExpiredMemories(c.Request.Context(), []uuid.UUID{personaID})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"deleted": deleted})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
