package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/corvid-labs/personamemory/internal/apikey"
	"github.com/corvid-labs/personamemory/internal/errs"
	"github.com/corvid-labs/personamemory/internal/store"
)

// mountVectorRoutes exposes the store directly for low-level use, per
// spec.md §6.1: "same semantics as §4.4".
func mountVectorRoutes(r *gin.Engine, st *store.Store, auth gin.HandlerFunc) {
	g := r.Group("/api/vectors", auth)

	g.POST("", requirePermission(apikey.PermVectorsWrite), addVector(st))
	g.POST("/search", requirePermission(apikey.PermVectorsRead), searchVectors(st))
	g.GET("/:id", requirePermission(apikey.PermVectorsRead), getVector(st))
	g.PUT("/:id", requirePermission(apikey.PermVectorsWrite), putVector(st))
	g.DELETE("/:id", requirePermission(apikey.PermVectorsWrite), deleteVector(st))
}

type addVectorRequest struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector" binding:"required"`
}

func addVector(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addVectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}
		id := uuid.New()
		if req.ID != "" {
			parsed, err := uuid.Parse(req.ID)
			if err != nil {
				fail(c, errs.Validationf("invalid id"))
				return
			}
			id = parsed
		}
		if err := st.AddVector(c.Request.Context(), id, req.Vector); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, gin.H{"id": id})
	}
}

type searchVectorRequest struct {
	Query     []float32 `json:"query" binding:"required"`
	Limit     int       `json:"limit"`
	Threshold float32   `json:"threshold"`
	Ef        int       `json:"ef"`
}

func searchVectors(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchVectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}
		hits, err := st.Search(c.Request.Context(), req.Query, store.SearchOptions{
			Limit:     req.Limit,
			Threshold: req.Threshold,
			Ef:        req.Ef,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, hits)
	}
}

func getVector(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid id"))
			return
		}
		vec, err := st.GetVector(id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"id": id, "vector": vec})
	}
}

type putVectorRequest struct {
	Vector []float32 `json:"vector" binding:"required"`
}

func putVector(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid id"))
			return
		}
		var req putVectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errs.Validationf("%v", err))
			return
		}
		if err := st.UpdateVector(id, req.Vector); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"id": id})
	}
}

func deleteVector(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			fail(c, errs.Validationf("invalid id"))
			return
		}
		if err := st.DeleteVector(id); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"deleted": id})
	}
}
