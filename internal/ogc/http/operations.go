package http

import (
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc/capabilities"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/service"
	"github.com/gin-gonic/gin"
)

func (h *Handler) wmtsCapabilities(c *gin.Context, _ ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildWMTSCapabilities(c.Request.Context(), h.base(c)))
}

func (h *Handler) wmtsTile(c *gin.Context, p ogc.Params) (result, error) {
	layer, err := p.Require("layer")
	if err != nil {
		return result{}, err
	}
	if set := p.Get("tilematrixset"); set != "" && !knownMatrixSet(set) {
		return result{}, ogc.InvalidParameter("tilematrixset", set)
	}
	tm, err := p.Require("tilematrix")
	if err != nil {
		return result{}, err
	}
	z, err := parseTileMatrix(tm)
	if err != nil {
		return result{}, err
	}
	row, err := requireInt(p, "tilerow")
	if err != nil {
		return result{}, err
	}
	col, err := requireInt(p, "tilecol")
	if err != nil {
		return result{}, err
	}

	tile := h.resolver.ResolveTile(c.Request.Context(), service.TileRequest{Layer: layer, Z: z, X: col, Y: row})
	return result{tile: &tile}, nil
}

func (h *Handler) wmsCapabilities(c *gin.Context, _ ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildWMSCapabilities(c.Request.Context(), h.base(c)))
}

func (h *Handler) wmsMap(c *gin.Context, p ogc.Params) (result, error) {
	width, err := p.Int("width", 256)
	if err != nil {
		return result{}, err
	}
	height, err := p.Int("height", 256)
	if err != nil {
		return result{}, err
	}
	plan, err := capabilities.PlanWMSMap(capabilities.MapRequest{
		Layers:  p.Get("layers"),
		BBox:    p.Get("bbox"),
		CRS:     p.GetAny("crs", "srs"),
		Version: p.Get("version"),
		Width:   width,
		Height:  height,
		Format:  p.Get("format"),
	})
	if err != nil {
		return result{}, err
	}

	tile := h.resolver.ResolveTile(c.Request.Context(), service.TileRequest{Layer: plan.Layer, Z: plan.Z, X: plan.X, Y: plan.Y})
	return result{tile: &tile}, nil
}

func (h *Handler) cswCapabilities(c *gin.Context, _ ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildCSWCapabilities(h.base(c)))
}

func (h *Handler) cswRecords(c *gin.Context, p ogc.Params) (result, error) {
	start, err := p.Int("startposition", 0)
	if err != nil {
		return result{}, err
	}
	maxRecords, err := p.Int("maxrecords", 0)
	if err != nil {
		return result{}, err
	}
	return xmlResult(h.docs.BuildCSWRecords(c.Request.Context(), h.base(c), capabilities.RecordQuery{
		StartPosition:  start,
		MaxRecords:     maxRecords,
		ElementSetName: p.Get("elementsetname"),
		ResultType:     p.Get("resulttype"),
		Q:              p.Get("q"),
	}))
}

func (h *Handler) cswRecordByID(c *gin.Context, p ogc.Params) (result, error) {
	raw, err := p.Require("id")
	if err != nil {
		return result{}, err
	}
	return xmlResult(h.docs.BuildCSWRecordByID(c.Request.Context(), h.base(c), strings.Split(raw, ","), p.Get("elementsetname")))
}

func (h *Handler) cswDescribeRecord(_ *gin.Context, _ ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildCSWDescribeRecord())
}

func (h *Handler) cswDomain(c *gin.Context, p ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildCSWDomain(c.Request.Context(), p.Get("propertyname")))
}

func (h *Handler) wfsCapabilities(c *gin.Context, _ ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildWFSCapabilities(c.Request.Context(), h.base(c)))
}

func (h *Handler) wfsDescribeFeatureType(_ *gin.Context, p ogc.Params) (result, error) {
	return xmlResult(h.docs.BuildWFSDescribeFeatureType(p.GetAny("typenames", "typename")))
}

func (h *Handler) wfsFeatures(c *gin.Context, p ogc.Params) (result, error) {
	if f := p.Get("outputformat"); f != "" && !geoJSONFormat(f) {
		return result{}, ogc.InvalidParameter("outputFormat", f)
	}
	count, err := p.Int("count", 0)
	if err != nil {
		return result{}, err
	}
	body, err := h.docs.BuildWFSFeatures(c.Request.Context(), capabilities.FeatureQuery{
		TypeNames: p.GetAny("typenames", "typename"),
		Count:     count,
		BBox:      p.Get("bbox"),
	})
	if err != nil {
		return result{}, err
	}
	return result{contentType: capabilities.FormatGeoJSON, body: body}, nil
}

func knownMatrixSet(set string) bool {
	for _, alias := range capabilities.TileMatrixSetAliases {
		if strings.EqualFold(alias, set) {
			return true
		}
	}
	return false
}

// parseTileMatrix accepts "5" as well as prefixed forms like "EPSG:3857:5".
func parseTileMatrix(raw string) (int, error) {
	v := raw
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		v = raw[i+1:]
	}
	z, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, ogc.InvalidParameter("tilematrix", raw)
	}
	return z, nil
}

func requireInt(p ogc.Params, name string) (int, error) {
	raw, err := p.Require(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ogc.InvalidParameter(name, raw)
	}
	return n, nil
}

func geoJSONFormat(f string) bool {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "application/json", "json", "geojson", "application/geo+json":
		return true
	}
	return false
}
