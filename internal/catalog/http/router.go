package http

import "github.com/gin-gonic/gin"

// Register registers the catalog and cache routes
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/catalog/update", h.UpdateCatalog)
	r.GET("/catalog", h.ListCatalogs)
	r.GET("/catalog/:projectId", h.GetCatalog)
	r.GET("/catalog/:projectId/layers/:layer", h.GetLayer)

	r.POST("/cache/clear", h.ClearCache)
	r.POST("/cache/clear/:projectId", h.ClearProjectCache)
	r.GET("/cache/status", h.CacheStatus)
}
