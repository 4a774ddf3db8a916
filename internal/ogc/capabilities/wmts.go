package capabilities

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tilematrix"
)

const (
	TileMatrixSetID = "GoogleMapsCompatible"
	CRS3857URN      = "urn:ogc:def:crs:EPSG::3857"
	wellKnownScale  = "urn:ogc:def:wkss:OGC:1.0:GoogleMapsCompatible"
	CRS84URN        = "urn:ogc:def:crs:OGC:1.3:CRS84"
	formatPNG       = "image/png"
)

// TileMatrixSetAliases are the tilematrixset values GetTile accepts.
var TileMatrixSetAliases = []string{TileMatrixSetID, "EPSG:3857", "WebMercatorQuad", "EPSG:900913", CRS3857URN}

type wmtsCapabilities struct {
	XMLName      xml.Name     `xml:"Capabilities"`
	Xmlns        string       `xml:"xmlns,attr"`
	XmlnsOWS     string       `xml:"xmlns:ows,attr"`
	XmlnsXLink   string       `xml:"xmlns:xlink,attr"`
	Version      string       `xml:"version,attr"`
	ServiceID    serviceIdent `xml:"ows:ServiceIdentification"`
	Operations   operationsMD `xml:"ows:OperationsMetadata"`
	Contents     wmtsContents `xml:"Contents"`
	ServiceMDURL xlinkRef     `xml:"ServiceMetadataURL"`
}

type serviceIdent struct {
	Title              string   `xml:"ows:Title"`
	Abstract           string   `xml:"ows:Abstract"`
	ServiceType        string   `xml:"ows:ServiceType"`
	ServiceTypeVersion []string `xml:"ows:ServiceTypeVersion"`
}

type operationsMD struct {
	Operations []operation `xml:"ows:Operation"`
}

type operation struct {
	Name       string           `xml:"name,attr"`
	Get        xlinkConstraint  `xml:"ows:DCP>ows:HTTP>ows:Get"`
	Post       *xlinkConstraint `xml:"ows:DCP>ows:HTTP>ows:Post,omitempty"`
	Parameters []owsParameter   `xml:"ows:Parameter,omitempty"`
}

type xlinkConstraint struct {
	Href       string         `xml:"xlink:href,attr"`
	Constraint *owsConstraint `xml:"ows:Constraint,omitempty"`
}

type owsConstraint struct {
	Name   string   `xml:"name,attr"`
	Values []string `xml:"ows:AllowedValues>ows:Value"`
}

type owsParameter struct {
	Name   string   `xml:"name,attr"`
	Values []string `xml:"ows:AllowedValues>ows:Value"`
}

type xlinkRef struct {
	Href string `xml:"xlink:href,attr"`
}

type wmtsContents struct {
	Layers        []wmtsLayer     `xml:"Layer"`
	TileMatrixSet []tileMatrixSet `xml:"TileMatrixSet"`
}

type wmtsLayer struct {
	Title             string            `xml:"ows:Title"`
	Abstract          string            `xml:"ows:Abstract"`
	Keywords          []string          `xml:"ows:Keywords>ows:Keyword"`
	WGS84BoundingBox  owsBBox           `xml:"ows:WGS84BoundingBox"`
	BoundingBox       owsBBox           `xml:"ows:BoundingBox"`
	Identifier        string            `xml:"ows:Identifier"`
	Style             wmtsStyle         `xml:"Style"`
	Format            []string          `xml:"Format"`
	TileMatrixSetLink tileMatrixSetLink `xml:"TileMatrixSetLink"`
	ResourceURL       resourceURL       `xml:"ResourceURL"`
}

type owsBBox struct {
	CRS   string `xml:"crs,attr,omitempty"`
	Lower string `xml:"ows:LowerCorner"`
	Upper string `xml:"ows:UpperCorner"`
}

type wmtsStyle struct {
	IsDefault  bool   `xml:"isDefault,attr"`
	Identifier string `xml:"ows:Identifier"`
}

type tileMatrixSetLink struct {
	TileMatrixSet string             `xml:"TileMatrixSet"`
	Limits        []tileMatrixLimits `xml:"TileMatrixSetLimits>TileMatrixLimits"`
}

type tileMatrixLimits struct {
	TileMatrix string `xml:"TileMatrix"`
	MinTileRow int    `xml:"MinTileRow"`
	MaxTileRow int    `xml:"MaxTileRow"`
	MinTileCol int    `xml:"MinTileCol"`
	MaxTileCol int    `xml:"MaxTileCol"`
}

type resourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

type tileMatrixSet struct {
	Identifier        string       `xml:"ows:Identifier"`
	BoundingBox       owsBBox      `xml:"ows:BoundingBox"`
	SupportedCRS      string       `xml:"ows:SupportedCRS"`
	WellKnownScaleSet string       `xml:"WellKnownScaleSet"`
	Matrices          []tileMatrix `xml:"TileMatrix"`
}

type tileMatrix struct {
	Identifier       string `xml:"ows:Identifier"`
	ScaleDenominator string `xml:"ScaleDenominator"`
	TopLeftCorner    string `xml:"TopLeftCorner"`
	TileWidth        int    `xml:"TileWidth"`
	TileHeight       int    `xml:"TileHeight"`
	MatrixWidth      int    `xml:"MatrixWidth"`
	MatrixHeight     int    `xml:"MatrixHeight"`
}

// BuildWMTSCapabilities renders the WMTS 1.0.0 capabilities. An empty
// catalog still yields a valid document with the tile matrix set.
func (b *Builder) BuildWMTSCapabilities(ctx context.Context, baseURL string) ([]byte, error) {
	vs, err := b.servedViews(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := serviceURL(baseURL, "/wmts")
	doc := wmtsCapabilities{
		Xmlns:      "http://www.opengis.net/wmts/1.0",
		XmlnsOWS:   NamespaceOWS,
		XmlnsXLink: NamespaceXLink,
		Version:    "1.0.0",
		ServiceID: serviceIdent{
			Title:              b.opts.Title,
			Abstract:           b.opts.Abstract,
			ServiceType:        "OGC WMTS",
			ServiceTypeVersion: []string{"1.0.0"},
		},
		Operations: operationsMD{Operations: []operation{
			kvpOperation("GetCapabilities", endpoint),
			kvpOperation("GetTile", endpoint),
		}},
		Contents: wmtsContents{
			Layers:        make([]wmtsLayer, 0, len(vs)),
			TileMatrixSet: []tileMatrixSet{googleMapsCompatible()},
		},
		ServiceMDURL: xlinkRef{Href: endpoint + "?SERVICE=WMTS&REQUEST=GetCapabilities"},
	}
	for _, v := range vs {
		doc.Contents.Layers = append(doc.Contents.Layers, wmtsLayerFor(v, endpoint))
	}
	return encode(doc)
}

func kvpOperation(name, endpoint string) operation {
	return operation{
		Name: name,
		Get: xlinkConstraint{
			Href:       endpoint + "?",
			Constraint: &owsConstraint{Name: "GetEncoding", Values: []string{"KVP"}},
		},
	}
}

func wmtsLayerFor(v layerView, endpoint string) wmtsLayer {
	limits := tilematrix.ComputeTileMatrixLimitsRange(v.WGS84, 0, tilematrix.MaxLimitsZoom)
	link := tileMatrixSetLink{TileMatrixSet: TileMatrixSetID, Limits: make([]tileMatrixLimits, 0, len(limits))}
	for _, l := range limits {
		link.Limits = append(link.Limits, tileMatrixLimits{
			TileMatrix: strconv.Itoa(l.Zoom),
			MinTileRow: l.MinRow,
			MaxTileRow: l.MaxRow,
			MinTileCol: l.MinCol,
			MaxTileCol: l.MaxCol,
		})
	}

	return wmtsLayer{
		Title:    v.Title(),
		Abstract: v.Abstract(),
		Keywords: v.Keywords(),
		WGS84BoundingBox: owsBBox{
			Lower: corner(v.WGS84.Min.Lon(), v.WGS84.Min.Lat()),
			Upper: corner(v.WGS84.Max.Lon(), v.WGS84.Max.Lat()),
		},
		BoundingBox: owsBBox{
			CRS:   CRS3857URN,
			Lower: corner(v.WebMercator.Min.X(), v.WebMercator.Min.Y()),
			Upper: corner(v.WebMercator.Max.X(), v.WebMercator.Max.Y()),
		},
		Identifier:        v.Identifier,
		Style:             wmtsStyle{IsDefault: true, Identifier: "default"},
		Format:            []string{formatPNG},
		TileMatrixSetLink: link,
		ResourceURL: resourceURL{
			Format:       formatPNG,
			ResourceType: "tile",
			Template: fmt.Sprintf(
				"%s?SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0&LAYER=%s&STYLE=default&TILEMATRIXSET=%s&TILEMATRIX={TileMatrix}&TILEROW={TileRow}&TILECOL={TileCol}&FORMAT=image/png",
				endpoint, v.Identifier, TileMatrixSetID),
		},
	}
}

func googleMapsCompatible() tileMatrixSet {
	world := tilematrix.WorldBound()
	set := tileMatrixSet{
		Identifier: TileMatrixSetID,
		BoundingBox: owsBBox{
			CRS:   CRS3857URN,
			Lower: corner(world.Min.X(), world.Min.Y()),
			Upper: corner(world.Max.X(), world.Max.Y()),
		},
		SupportedCRS:      CRS3857URN,
		WellKnownScaleSet: wellKnownScale,
	}
	topLeft := corner(world.Min.X(), world.Max.Y())
	for z := 0; z <= tilematrix.MaxMapZoom; z++ {
		n := 1 << uint(z)
		set.Matrices = append(set.Matrices, tileMatrix{
			Identifier:       strconv.Itoa(z),
			ScaleDenominator: strconv.FormatFloat(tilematrix.ScaleDenominator(z), 'f', -1, 64),
			TopLeftCorner:    topLeft,
			TileWidth:        tilematrix.TileSize,
			TileHeight:       tilematrix.TileSize,
			MatrixWidth:      n,
			MatrixHeight:     n,
		})
	}
	return set
}
