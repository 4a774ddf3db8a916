// Package tilematrix holds the Web Mercator tile arithmetic shared by the
// resolver and the capabilities builder. Everything here is pure.
package tilematrix

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	EarthRadius = 6378137.0
	MaxLatitude = 85.0511
	TileSize    = 256

	// WorldWidth is the length of the equator in Web Mercator meters.
	WorldWidth = 2 * math.Pi * EarthRadius
	originShift = math.Pi * EarthRadius

	MaxLimitsZoom = 15
	MaxMapZoom    = 18

	// zoom 0 scale denominator of the GoogleMapsCompatible well known scale set
	scaleDenominatorZ0 = 559082264.0287178
)

// TileMatrixLimits are the rows and columns of one tile matrix touched by a bbox.
type TileMatrixLimits struct {
	Zoom   int
	MinRow int
	MaxRow int
	MinCol int
	MaxCol int
}

// TileToGeoBounds returns the lon/lat bounds of a slippy tile.
func TileToGeoBounds(z, x, y int) orb.Bound {
	n := math.Exp2(float64(z))
	lonW := float64(x)/n*360.0 - 180.0
	lonE := float64(x+1)/n*360.0 - 180.0
	latN := tileLat(y, n)
	latS := tileLat(y+1, n)
	return orb.Bound{Min: orb.Point{lonW, latS}, Max: orb.Point{lonE, latN}}
}

func tileLat(y int, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180.0 / math.Pi
}

// LatLonToWebMercatorMeters projects to EPSG:3857. The latitude is clamped
// to ±MaxLatitude so the poles don't blow up the log.
func LatLonToWebMercatorMeters(lat, lon float64) (x, y float64) {
	lat = clamp(lat, -MaxLatitude, MaxLatitude)
	x = lon * originShift / 180.0
	y = math.Log(math.Tan((90+lat)*math.Pi/360.0)) * EarthRadius
	return x, y
}

// WebMercatorMetersToLatLon is the inverse of LatLonToWebMercatorMeters.
func WebMercatorMetersToLatLon(x, y float64) (lat, lon float64) {
	lon = x / originShift * 180.0
	lat = (2*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2) * 180.0 / math.Pi
	return lat, lon
}

// MercatorBound projects a lon/lat bound to Web Mercator meters.
func MercatorBound(b orb.Bound) orb.Bound {
	minX, minY := LatLonToWebMercatorMeters(b.Min.Lat(), b.Min.Lon())
	maxX, maxY := LatLonToWebMercatorMeters(b.Max.Lat(), b.Max.Lon())
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// GeoBound converts a Web Mercator bound back to lon/lat.
func GeoBound(b orb.Bound) orb.Bound {
	minLat, minLon := WebMercatorMetersToLatLon(b.Min.X(), b.Min.Y())
	maxLat, maxLon := WebMercatorMetersToLatLon(b.Max.X(), b.Max.Y())
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

// ComputeTileMatrixLimits returns the rows/cols of the zoom level matrix
// covered by a lon/lat bbox. Row 0 is the northern edge.
func ComputeTileMatrixLimits(bbox orb.Bound, zoom int) TileMatrixLimits {
	merc := MercatorBound(bbox)
	tiles := int(math.Exp2(float64(zoom)))
	tileMeters := WorldWidth / float64(tiles)

	col := func(x float64) int {
		return clampInt(int(math.Floor((x+originShift)/tileMeters)), 0, tiles-1)
	}
	row := func(y float64) int {
		return clampInt(int(math.Floor((originShift-y)/tileMeters)), 0, tiles-1)
	}

	return TileMatrixLimits{
		Zoom:   zoom,
		MinCol: col(merc.Min.X()),
		MaxCol: col(merc.Max.X()),
		MinRow: row(merc.Max.Y()),
		MaxRow: row(merc.Min.Y()),
	}
}

// ComputeTileMatrixLimitsRange computes limits for every zoom in [minZoom, maxZoom].
func ComputeTileMatrixLimitsRange(bbox orb.Bound, minZoom, maxZoom int) []TileMatrixLimits {
	out := make([]TileMatrixLimits, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		out = append(out, ComputeTileMatrixLimits(bbox, z))
	}
	return out
}

// BBoxIntersectsTile reports whether a lon/lat bbox overlaps tile z/x/y.
func BBoxIntersectsTile(bbox orb.Bound, x, y, z int) bool {
	return bbox.Intersects(TileToGeoBounds(z, x, y))
}

// ZoomForBBoxWidth approximates the zoom at which a single 256px tile spans
// widthMeters of Web Mercator.
func ZoomForBBoxWidth(widthMeters float64) int {
	if widthMeters <= 0 || math.IsNaN(widthMeters) || math.IsInf(widthMeters, 0) {
		return 0
	}
	z := math.Round(math.Log2(WorldWidth / widthMeters))
	return clampInt(int(z), 0, MaxMapZoom)
}

// TileAt returns the tile at zoom z containing the lon/lat point.
func TileAt(lon, lat float64, z int) (x, y int) {
	t := maptile.At(orb.Point{lon, clamp(lat, -MaxLatitude, MaxLatitude)}, maptile.Zoom(z))
	return int(t.X), int(t.Y)
}

// ValidTile reports whether x and y fall inside the 2^z grid.
func ValidTile(z, x, y int) bool {
	if z < 0 || z > 30 || x < 0 || y < 0 {
		return false
	}
	n := 1 << uint(z)
	return x < n && y < n
}

// ScaleDenominator for zoom z in the GoogleMapsCompatible scale set.
func ScaleDenominator(z int) float64 {
	return scaleDenominatorZ0 / math.Exp2(float64(z))
}

// Resolution is the meters-per-pixel at zoom z.
func Resolution(z int) float64 {
	return WorldWidth / (TileSize * math.Exp2(float64(z)))
}

// WorldBound is the full extent of the Web Mercator grid in meters.
func WorldBound() orb.Bound {
	return orb.Bound{Min: orb.Point{-originShift, -originShift}, Max: orb.Point{originShift, originShift}}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
