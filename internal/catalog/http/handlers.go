package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/service"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/gin-gonic/gin"
)

// Lifecycle is implemented by service.LifecycleService
type Lifecycle interface {
	RegisterOrUpdate(ctx context.Context, req *domain.RegistrationRequest) (*service.RegistrationResult, error)
	Get(ctx context.Context, projectID string) (*domain.CatalogEntry, error)
	GetLayer(ctx context.Context, projectID, layer string) (*domain.LayerDescriptor, error)
	List(ctx context.Context) ([]domain.CatalogSummary, error)
	ClearByCategory(ctx context.Context, category string) (*service.ClearResult, error)
	ClearProject(ctx context.Context, projectID string) (*service.ClearResult, error)
	Status(ctx context.Context) (*service.CacheStatus, error)
}

// Handler handles HTTP requests for catalog registration and cache control
type Handler struct {
	lifecycle Lifecycle
}

// New creates a new Handler
func New(lifecycle Lifecycle) *Handler {
	return &Handler{lifecycle: lifecycle}
}

// UpdateCatalog registers or updates a project and its layers
func (h *Handler) UpdateCatalog(c *gin.Context) {
	var req domain.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.lifecycle.RegisterOrUpdate(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "failed to update catalog")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "registration": res})
}

// GetCatalog returns one catalog entry
func (h *Handler) GetCatalog(c *gin.Context) {
	projectID := c.Param("projectId")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project ID is required"})
		return
	}

	entry, err := h.lifecycle.Get(c.Request.Context(), projectID)
	if err != nil {
		h.fail(c, err, "failed to get catalog entry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"catalog": entry})
}

// GetLayer returns one layer descriptor of a catalog entry
func (h *Handler) GetLayer(c *gin.Context) {
	layer, err := h.lifecycle.GetLayer(c.Request.Context(), c.Param("projectId"), c.Param("layer"))
	if err != nil {
		h.fail(c, err, "failed to get layer")
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectId": c.Param("projectId"), "layer": layer})
}

// ListCatalogs returns summaries of every registered project
func (h *Handler) ListCatalogs(c *gin.Context) {
	list, err := h.lifecycle.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to list catalogs")
		return
	}
	if list == nil {
		list = []domain.CatalogSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"catalogs": list, "count": len(list)})
}

// ClearCache bulk clears one key namespace selected by ?cacheType=
func (h *Handler) ClearCache(c *gin.Context) {
	res, err := h.lifecycle.ClearByCategory(c.Request.Context(), c.Query("cacheType"))
	if err != nil {
		h.fail(c, err, "failed to clear cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": res})
}

// ClearProjectCache evicts the cached tiles of one project
func (h *Handler) ClearProjectCache(c *gin.Context) {
	res, err := h.lifecycle.ClearProject(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.fail(c, err, "failed to clear project cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "projectId": c.Param("projectId"), "cleared": res})
}

// CacheStatus reports key counts per namespace
func (h *Handler) CacheStatus(c *gin.Context) {
	st, err := h.lifecycle.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to read cache status")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "catalog entry not found"})
	case errors.Is(err, domain.ErrLayerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "layer not found"})
	default:
		logging.FromContext(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
