package domain

import (
	"sort"
	"time"

	"github.com/paulmach/orb"
)

// CatalogEntry is one registered analysis project and its map layers
type CatalogEntry struct {
	ProjectID    string                     `json:"projectId"`
	ProjectName  string                     `json:"projectName"`
	AOI          AOI                        `json:"aoi"`
	CreatedAt    time.Time                  `json:"createdAt"`
	UpdatedAt    time.Time                  `json:"updatedAt"`
	Status       string                     `json:"status"`
	Layers       map[string]LayerDescriptor `json:"layers"`
	AnalysisInfo *AnalysisInfo              `json:"analysisInfo,omitempty"`
}

// LayerDescriptor describes a single tile layer produced by the analysis system
type LayerDescriptor struct {
	Name            string                 `json:"name"`
	Title           string                 `json:"title,omitempty"`
	Description     string                 `json:"description,omitempty"`
	TileURLTemplate string                 `json:"tileUrlTemplate"`
	VisParams       map[string]interface{} `json:"visParams,omitempty"`
}

// AnalysisInfo carries what the upstream analysis knows about a project
type AnalysisInfo struct {
	AnalysisType string   `json:"analysisType,omitempty"`
	Satellite    string   `json:"satellite,omitempty"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	CloudCover   *float64 `json:"cloudCover,omitempty"`
}

// BBox is a lon/lat bounding box
type BBox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// Point is a lon/lat position
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// AOI is the area of interest covered by a project
type AOI struct {
	BBox        *BBox          `json:"bbox,omitempty"`
	Center      *Point         `json:"center,omitempty"`
	Coordinates [][][2]float64 `json:"coordinates,omitempty"` // polygon rings of [lon, lat]
}

// CatalogSummary is the lightweight listing form of an entry
type CatalogSummary struct {
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Status      string    `json:"status"`
	LayerCount  int       `json:"layerCount"`
	LayerNames  []string  `json:"layerNames"`
	BBox        *BBox     `json:"bbox,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProjectRecord is the metadata kept under project:{id}
type ProjectRecord struct {
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CachedTile is a rendered tile payload
type CachedTile struct {
	Data        []byte
	ContentType string
}

// Entry status constants
const (
	StatusActive = "active"
)

// Bound returns the AOI extent as an orb.Bound, falling back to the world.
func (a AOI) Bound() orb.Bound {
	if a.BBox != nil {
		return a.BBox.Bound()
	}
	if ring := a.outerRing(); len(ring) > 0 {
		return ring.Bound()
	}
	if a.Center != nil {
		p := orb.Point{a.Center.Lon, a.Center.Lat}
		return orb.Bound{Min: p, Max: p}
	}
	return WorldBBox().Bound()
}

// Polygon returns the AOI polygon, or the bbox as a rectangle when none was registered.
func (a AOI) Polygon() orb.Polygon {
	if ring := a.outerRing(); len(ring) > 0 {
		poly := orb.Polygon{ring}
		for _, r := range a.Coordinates[1:] {
			poly = append(poly, toRing(r))
		}
		return poly
	}
	return a.Bound().ToPolygon()
}

// Normalized fills a missing bbox from the polygon and a missing center
// from the bbox, and puts bbox corners in min/max order.
func (a AOI) Normalized() AOI {
	out := a
	if out.BBox == nil {
		if ring := out.outerRing(); len(ring) > 0 {
			b := ring.Bound()
			out.BBox = &BBox{MinX: b.Min.Lon(), MinY: b.Min.Lat(), MaxX: b.Max.Lon(), MaxY: b.Max.Lat()}
		}
	}
	if out.BBox != nil {
		bb := out.BBox.Ordered()
		out.BBox = &bb
		if out.Center == nil {
			c := bb.Bound().Center()
			out.Center = &Point{Lon: c.Lon(), Lat: c.Lat()}
		}
	}
	return out
}

func (a AOI) outerRing() orb.Ring {
	if len(a.Coordinates) == 0 || len(a.Coordinates[0]) == 0 {
		return nil
	}
	return toRing(a.Coordinates[0])
}

func toRing(coords [][2]float64) orb.Ring {
	ring := make(orb.Ring, 0, len(coords))
	for _, c := range coords {
		ring = append(ring, orb.Point{c[0], c[1]})
	}
	return ring
}

// Ordered swaps reversed corners so MinX<=MaxX and MinY<=MaxY.
func (b BBox) Ordered() BBox {
	if b.MinX > b.MaxX {
		b.MinX, b.MaxX = b.MaxX, b.MinX
	}
	if b.MinY > b.MaxY {
		b.MinY, b.MaxY = b.MaxY, b.MinY
	}
	return b
}

func (b BBox) Bound() orb.Bound {
	o := b.Ordered()
	return orb.Bound{Min: orb.Point{o.MinX, o.MinY}, Max: orb.Point{o.MaxX, o.MaxY}}
}

// WorldBBox is the extent advertised for projects without an AOI.
func WorldBBox() BBox {
	return BBox{MinX: -180, MinY: -85.0511, MaxX: 180, MaxY: 85.0511}
}

// Summary builds the listing form of the entry.
func (e *CatalogEntry) Summary() CatalogSummary {
	return CatalogSummary{
		ProjectID:   e.ProjectID,
		ProjectName: e.ProjectName,
		Status:      e.Status,
		LayerCount:  len(e.Layers),
		LayerNames:  e.LayerNames(),
		BBox:        e.AOI.BBox,
		UpdatedAt:   e.UpdatedAt,
	}
}

// LayerNames returns the entry's layer names in sorted order.
func (e *CatalogEntry) LayerNames() []string {
	names := make([]string, 0, len(e.Layers))
	for name := range e.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
