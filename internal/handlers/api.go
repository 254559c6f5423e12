package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crowdlink/internal/api"
	"crowdlink/internal/db"
	"crowdlink/internal/middleware"
)

// APIHandler serves the generic /api/:resource endpoints. All per-type
// behavior lives in the registered Metas; this layer only shuttles
// parameters in and envelopes out.
type APIHandler struct{}

func NewAPIHandler() *APIHandler {
	return &APIHandler{}
}

func (h *APIHandler) ctx(c *gin.Context) *api.Ctx {
	return &api.Ctx{DB: db.DB, User: middleware.CurrentUser(c)}
}

func (h *APIHandler) meta(c *gin.Context) (*api.Meta, bool) {
	m, ok := api.MetaFor(c.Param("resource"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "No such resource type",
		})
	}
	return m, ok
}

// dropCache invalidates the caller's cached user row after a mutation.
func (h *APIHandler) dropCache(c *gin.Context) {
	if user := middleware.CurrentUser(c); user != nil {
		middleware.DropUserCache(user.ID)
	}
}

func (h *APIHandler) Get(c *gin.Context) {
	m, ok := h.meta(c)
	if !ok {
		return
	}
	params := map[string]interface{}{}
	for key, vals := range c.Request.URL.Query() {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	objects, err := api.Get(h.ctx(c), m, params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "objects": objects})
}

func (h *APIHandler) Post(c *gin.Context) {
	m, ok := h.meta(c)
	if !ok {
		return
	}
	params, ok := bindJSON(c)
	if !ok {
		return
	}
	object, err := api.Post(h.ctx(c), m, params)
	if err != nil {
		respondError(c, err)
		return
	}
	h.dropCache(c)
	if object == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "objects": []interface{}{object}})
}

func (h *APIHandler) Put(c *gin.Context) {
	m, ok := h.meta(c)
	if !ok {
		return
	}
	params, ok := bindJSON(c)
	if !ok {
		return
	}
	if err := api.Put(h.ctx(c), m, params); err != nil {
		respondError(c, err)
		return
	}
	h.dropCache(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *APIHandler) Patch(c *gin.Context) {
	m, ok := h.meta(c)
	if !ok {
		return
	}
	params, ok := bindJSON(c)
	if !ok {
		return
	}
	result, err := api.Patch(h.ctx(c), m, params)
	if err != nil {
		respondError(c, err)
		return
	}
	h.dropCache(c)
	if result == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *APIHandler) Delete(c *gin.Context) {
	m, ok := h.meta(c)
	if !ok {
		return
	}
	params, ok := bindJSON(c)
	if !ok {
		return
	}
	count, err := api.Delete(h.ctx(c), m, params)
	if err != nil {
		respondError(c, err)
		return
	}
	h.dropCache(c)
	c.JSON(http.StatusOK, gin.H{"success": count > 0, "count": count})
}
