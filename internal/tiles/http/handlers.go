package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/service"
	"github.com/gin-gonic/gin"
)

// TileResolver is implemented by service.Resolver
type TileResolver interface {
	ResolveTile(ctx context.Context, req service.TileRequest) service.Tile
}

// Handler serves XYZ and TMS style tile paths
type Handler struct {
	resolver TileResolver
}

// New creates a new Handler
func New(resolver TileResolver) *Handler {
	return &Handler{resolver: resolver}
}

// Register registers the tile routes
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/tiles/:projectId/:layer/:z/:x/:y", h.GetTile)
	r.HEAD("/tiles/:projectId/:layer/:z/:x/:y", h.GetTile)
	r.GET("/tms/:projectId/:layer/:z/:x/:y", h.GetTile)
	r.HEAD("/tms/:projectId/:layer/:z/:x/:y", h.GetTile)
}

// GetTile serves one tile. Well-formed coordinates always get an image.
func (h *Handler) GetTile(c *gin.Context) {
	z, x, y, ok := parseCoords(c.Param("z"), c.Param("x"), c.Param("y"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tile coordinates"})
		return
	}

	tile := h.resolver.ResolveTile(c.Request.Context(), service.TileRequest{
		ProjectID: c.Param("projectId"),
		Layer:     c.Param("layer"),
		Z:         z,
		X:         x,
		Y:         y,
	})
	WriteTile(c, tile)
}

// WriteTile writes a resolved tile with the shared tile response headers.
func WriteTile(c *gin.Context, tile service.Tile) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "public, max-age=300")
	h.Set("X-Tile-Source", tile.Source)
	if tile.Reason != "" {
		h.Set("X-Tile-Fallback-Reason", tile.Reason)
	}
	c.Data(http.StatusOK, tile.ContentType, tile.Data)
}

func parseCoords(zs, xs, ys string) (z, x, y int, ok bool) {
	ys = strings.TrimSuffix(ys, ".png")
	var err error
	if z, err = strconv.Atoi(zs); err != nil {
		return 0, 0, 0, false
	}
	if x, err = strconv.Atoi(xs); err != nil {
		return 0, 0, 0, false
	}
	if y, err = strconv.Atoi(ys); err != nil {
		return 0, 0, 0, false
	}
	return z, x, y, true
}
