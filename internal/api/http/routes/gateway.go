package routes

import (
	cataloghttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/http"
	ogchttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc/http"
	tileshttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/http"

	"github.com/gin-gonic/gin"
)

type GatewayDeps struct {
	Catalog *cataloghttp.Handler
	Tiles   *tileshttp.Handler
	OGC     *ogchttp.Handler
}

// RegisterGateway mounts the tile, OGC and catalog management endpoints at the root.
func RegisterGateway(r *gin.Engine, dep GatewayDeps) {
	if dep.Tiles != nil {
		dep.Tiles.Register(r)
	}
	if dep.OGC != nil {
		dep.OGC.Register(r)
	}
	if dep.Catalog != nil {
		dep.Catalog.Register(r)
	}
}
