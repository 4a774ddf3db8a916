package capabilities

import (
	"context"
	"encoding/xml"
	"math"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tilematrix"
	"github.com/paulmach/orb"
)

type wmsCapabilities struct {
	XMLName    xml.Name      `xml:"WMS_Capabilities"`
	Xmlns      string        `xml:"xmlns,attr"`
	XmlnsXLink string        `xml:"xmlns:xlink,attr"`
	Version    string        `xml:"version,attr"`
	Service    wmsService    `xml:"Service"`
	Capability wmsCapability `xml:"Capability"`
}

type wmsService struct {
	Name           string         `xml:"Name"`
	Title          string         `xml:"Title"`
	Abstract       string         `xml:"Abstract"`
	OnlineResource onlineResource `xml:"OnlineResource"`
	Fees           string         `xml:"Fees"`
	AccessConstr   string         `xml:"AccessConstraints"`
	MaxWidth       int            `xml:"MaxWidth"`
	MaxHeight      int            `xml:"MaxHeight"`
}

type onlineResource struct {
	Type string `xml:"xlink:type,attr"`
	Href string `xml:"xlink:href,attr"`
}

type wmsCapability struct {
	GetCapabilities wmsOperation `xml:"Request>GetCapabilities"`
	GetMap          wmsOperation `xml:"Request>GetMap"`
	Exception       []string     `xml:"Exception>Format"`
	Layer           wmsLayer     `xml:"Layer"`
}

type wmsOperation struct {
	Formats []string       `xml:"Format"`
	Get     onlineResource `xml:"DCPType>HTTP>Get>OnlineResource"`
}

type wmsLayer struct {
	Queryable   *int       `xml:"queryable,attr,omitempty"`
	Name        string     `xml:"Name,omitempty"`
	Title       string     `xml:"Title"`
	Abstract    string     `xml:"Abstract,omitempty"`
	Keywords    []string   `xml:"KeywordList>Keyword,omitempty"`
	CRS         []string   `xml:"CRS"`
	GeoBBox     wmsGeoBBox `xml:"EX_GeographicBoundingBox"`
	BoundingBox []wmsBBox  `xml:"BoundingBox"`
	Layers      []wmsLayer `xml:"Layer"`
}

type wmsGeoBBox struct {
	West  float64 `xml:"westBoundLongitude"`
	East  float64 `xml:"eastBoundLongitude"`
	South float64 `xml:"southBoundLatitude"`
	North float64 `xml:"northBoundLatitude"`
}

type wmsBBox struct {
	CRS  string `xml:"CRS,attr"`
	MinX string `xml:"minx,attr"`
	MinY string `xml:"miny,attr"`
	MaxX string `xml:"maxx,attr"`
	MaxY string `xml:"maxy,attr"`
}

var wmsCRS = []string{"EPSG:3857", "EPSG:4326", "CRS:84"}

// BuildWMSCapabilities renders the WMS 1.3.0 capabilities with one named
// layer per served (project, layer) pair under a root layer.
func (b *Builder) BuildWMSCapabilities(ctx context.Context, baseURL string) ([]byte, error) {
	vs, err := b.servedViews(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := serviceURL(baseURL, "/wms")
	res := onlineResource{Type: "simple", Href: endpoint + "?"}
	root := wmsLayer{
		Title:       b.opts.Title,
		Abstract:    b.opts.Abstract,
		CRS:         wmsCRS,
		GeoBBox:     geoBBox(unionBound(vs)),
		BoundingBox: layerBBoxes(unionBound(vs)),
		Layers:      make([]wmsLayer, 0, len(vs)),
	}
	notQueryable := 0
	for _, v := range vs {
		root.Layers = append(root.Layers, wmsLayer{
			Queryable:   &notQueryable,
			Name:        v.Identifier,
			Title:       v.Title(),
			Abstract:    v.Abstract(),
			Keywords:    v.Keywords(),
			CRS:         wmsCRS,
			GeoBBox:     geoBBox(v.WGS84),
			BoundingBox: layerBBoxes(v.WGS84),
		})
	}

	doc := wmsCapabilities{
		Xmlns:      "http://www.opengis.net/wms",
		XmlnsXLink: NamespaceXLink,
		Version:    "1.3.0",
		Service: wmsService{
			Name:           "WMS",
			Title:          b.opts.Title,
			Abstract:       b.opts.Abstract,
			OnlineResource: res,
			Fees:           "none",
			AccessConstr:   "none",
			MaxWidth:       4096,
			MaxHeight:      4096,
		},
		Capability: wmsCapability{
			GetCapabilities: wmsOperation{Formats: []string{"text/xml"}, Get: res},
			GetMap:          wmsOperation{Formats: []string{"image/png", "image/jpeg"}, Get: res},
			Exception:       []string{"XML"},
			Layer:           root,
		},
	}
	return encode(doc)
}

func geoBBox(b orb.Bound) wmsGeoBBox {
	return wmsGeoBBox{West: b.Min.Lon(), East: b.Max.Lon(), South: b.Min.Lat(), North: b.Max.Lat()}
}

func layerBBoxes(b orb.Bound) []wmsBBox {
	m := tilematrix.MercatorBound(b)
	return []wmsBBox{
		{CRS: "EPSG:3857", MinX: fmtFloat(m.Min.X()), MinY: fmtFloat(m.Min.Y()), MaxX: fmtFloat(m.Max.X()), MaxY: fmtFloat(m.Max.Y())},
		// EPSG:4326 in WMS 1.3.0 is lat/lon ordered
		{CRS: "EPSG:4326", MinX: fmtFloat(b.Min.Lat()), MinY: fmtFloat(b.Min.Lon()), MaxX: fmtFloat(b.Max.Lat()), MaxY: fmtFloat(b.Max.Lon())},
	}
}

// MapRequest is a parsed WMS GetMap request
type MapRequest struct {
	Layers  string
	BBox    string
	CRS     string
	Version string
	Width   int
	Height  int
	Format  string
}

// MapPlan is the single tile that approximates a GetMap request
type MapPlan struct {
	Layer   string
	Z, X, Y int
	Format  string
}

// PlanWMSMap inverts a GetMap bbox into the zoom and tile whose extent best
// matches it. This is an approximation, no mosaicking or resampling happens.
func PlanWMSMap(req MapRequest) (MapPlan, error) {
	layer := strings.TrimSpace(strings.Split(req.Layers, ",")[0])
	if layer == "" {
		return MapPlan{}, ogc.MissingParameter("layers")
	}
	if req.BBox == "" {
		return MapPlan{}, ogc.MissingParameter("bbox")
	}
	if req.Width < 0 || req.Width > 4096 {
		return MapPlan{}, ogc.InvalidParameter("width", strconv.Itoa(req.Width))
	}
	if req.Height < 0 || req.Height > 4096 {
		return MapPlan{}, ogc.InvalidParameter("height", strconv.Itoa(req.Height))
	}

	vals, err := parseBBox(req.BBox)
	if err != nil {
		return MapPlan{}, err
	}
	merc, err := toWebMercator(vals, req.CRS, req.Version)
	if err != nil {
		return MapPlan{}, err
	}

	z := tilematrix.ZoomForBBoxWidth(merc.Max.X() - merc.Min.X())
	c := merc.Center()
	lat, lon := tilematrix.WebMercatorMetersToLatLon(c.X(), c.Y())
	x, y := tilematrix.TileAt(lon, lat, z)

	format := req.Format
	if format == "" {
		format = formatPNG
	}
	return MapPlan{Layer: layer, Z: z, X: x, Y: y, Format: format}, nil
}

func parseBBox(raw string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(raw, ",")
	if len(parts) < 4 {
		return out, ogc.InvalidParameter("bbox", raw)
	}
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return out, ogc.InvalidParameter("bbox", raw)
		}
		out[i] = v
	}
	if out[0] >= out[2] || out[1] >= out[3] {
		return out, ogc.InvalidParameter("bbox", raw)
	}
	return out, nil
}

func toWebMercator(v [4]float64, crs, version string) (orb.Bound, error) {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "", "EPSG:3857", "EPSG:900913", "EPSG:3785", "EPSG:102100":
		return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
	case "CRS:84":
		return tilematrix.MercatorBound(orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}), nil
	case "EPSG:4326":
		if version == "1.1.1" || version == "1.1.0" {
			return tilematrix.MercatorBound(orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}), nil
		}
		// WMS 1.3.0 axis order for EPSG:4326 is lat, lon
		return tilematrix.MercatorBound(orb.Bound{Min: orb.Point{v[1], v[0]}, Max: orb.Point{v[3], v[2]}}), nil
	default:
		return orb.Bound{}, &ogc.ProtocolError{
			Code:    ogc.CodeInvalidCRS,
			Locator: "crs",
			Message: "unsupported crs " + strconv.Quote(crs),
		}
	}
}
