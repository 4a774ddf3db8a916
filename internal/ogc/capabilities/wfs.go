package capabilities

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tilematrix"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	// FeatureTypeAOI is the one feature type served by WFS
	FeatureTypeAOI = "gateway:project_aoi"

	NamespaceWFS     = "http://www.opengis.net/wfs/2.0"
	NamespaceGateway = "urn:geo-tile-gateway"
	namespaceXSD     = "http://www.w3.org/2001/XMLSchema"
	namespaceGML     = "http://www.opengis.net/gml/3.2"

	FormatGeoJSON = "application/json"
)

// FeatureQuery holds the GetFeature parameters
type FeatureQuery struct {
	TypeNames string
	Count     int    // 0 means unlimited
	BBox      string // minx,miny,maxx,maxy[,crs], lon/lat unless crs is EPSG:3857
}

type wfsCapabilities struct {
	XMLName      xml.Name         `xml:"wfs:WFS_Capabilities"`
	XmlnsWFS     string           `xml:"xmlns:wfs,attr"`
	XmlnsOWS     string           `xml:"xmlns:ows,attr"`
	XmlnsXLink   string           `xml:"xmlns:xlink,attr"`
	XmlnsGateway string           `xml:"xmlns:gateway,attr"`
	Version      string           `xml:"version,attr"`
	ServiceID    serviceIdent     `xml:"ows:ServiceIdentification"`
	Operations   operationsMD     `xml:"ows:OperationsMetadata"`
	FeatureTypes []wfsFeatureType `xml:"wfs:FeatureTypeList>wfs:FeatureType"`
}

type wfsFeatureType struct {
	Name          string   `xml:"wfs:Name"`
	Title         string   `xml:"wfs:Title"`
	Abstract      string   `xml:"wfs:Abstract"`
	DefaultCRS    string   `xml:"wfs:DefaultCRS"`
	OutputFormats []string `xml:"wfs:OutputFormats>wfs:Format"`
	WGS84         owsBBox  `xml:"ows:WGS84BoundingBox"`
}

type xsdSchema struct {
	XMLName         xml.Name     `xml:"xs:schema"`
	XmlnsXS         string       `xml:"xmlns:xs,attr"`
	XmlnsGML        string       `xml:"xmlns:gml,attr,omitempty"`
	XmlnsGateway    string       `xml:"xmlns:gateway,attr,omitempty"`
	TargetNamespace string       `xml:"targetNamespace,attr"`
	Imports         []xsdImport  `xml:"xs:import,omitempty"`
	Elements        []xsdElement `xml:"xs:element"`
}

type xsdImport struct {
	Namespace      string `xml:"namespace,attr"`
	SchemaLocation string `xml:"schemaLocation,attr"`
}

type xsdElement struct {
	Name              string          `xml:"name,attr"`
	Type              string          `xml:"type,attr,omitempty"`
	SubstitutionGroup string          `xml:"substitutionGroup,attr,omitempty"`
	MinOccurs         string          `xml:"minOccurs,attr,omitempty"`
	MaxOccurs         string          `xml:"maxOccurs,attr,omitempty"`
	ComplexType       *xsdComplexType `xml:"xs:complexType,omitempty"`
}

type xsdComplexType struct {
	Sequence []xsdElement `xml:"xs:sequence>xs:element"`
}

// BuildWFSCapabilities renders the WFS 2.0.0 capabilities listing the
// project AOI feature type.
func (b *Builder) BuildWFSCapabilities(ctx context.Context, baseURL string) ([]byte, error) {
	vs, err := b.allViews(ctx)
	if err != nil {
		return nil, err
	}
	world := unionBound(vs)

	endpoint := serviceURL(baseURL, "/wfs")
	ops := make([]operation, 0, 3)
	for _, name := range []string{"GetCapabilities", "DescribeFeatureType", "GetFeature"} {
		op := operation{
			Name: name,
			Get:  xlinkConstraint{Href: endpoint + "?"},
			Post: &xlinkConstraint{Href: endpoint},
		}
		if name == "GetFeature" {
			op.Parameters = []owsParameter{{Name: "outputFormat", Values: []string{FormatGeoJSON}}}
		}
		ops = append(ops, op)
	}

	doc := wfsCapabilities{
		XmlnsWFS:     NamespaceWFS,
		XmlnsOWS:     NamespaceOWS,
		XmlnsXLink:   NamespaceXLink,
		XmlnsGateway: NamespaceGateway,
		Version:      "2.0.0",
		ServiceID: serviceIdent{
			Title:              b.opts.Title + " Features",
			Abstract:           "Areas of interest of the registered analysis projects",
			ServiceType:        "WFS",
			ServiceTypeVersion: []string{"2.0.0"},
		},
		Operations: operationsMD{Operations: ops},
		FeatureTypes: []wfsFeatureType{{
			Name:          FeatureTypeAOI,
			Title:         "Project areas of interest",
			Abstract:      "One polygon per active project",
			DefaultCRS:    CRS84URN,
			OutputFormats: []string{FormatGeoJSON},
			WGS84: owsBBox{
				Lower: corner(world.Min.Lon(), world.Min.Lat()),
				Upper: corner(world.Max.Lon(), world.Max.Lat()),
			},
		}},
	}
	return encode(doc)
}

// BuildWFSDescribeFeatureType renders the XML schema of the AOI feature type.
func (b *Builder) BuildWFSDescribeFeatureType(typeNames string) ([]byte, error) {
	if typeNames != "" && !isAOIType(typeNames) {
		return nil, ogc.InvalidParameter("typeNames", typeNames)
	}
	doc := xsdSchema{
		XmlnsXS:         namespaceXSD,
		XmlnsGML:        namespaceGML,
		XmlnsGateway:    NamespaceGateway,
		TargetNamespace: NamespaceGateway,
		Imports: []xsdImport{{
			Namespace:      namespaceGML,
			SchemaLocation: "http://schemas.opengis.net/gml/3.2.1/gml.xsd",
		}},
		Elements: []xsdElement{{
			Name:              "project_aoi",
			SubstitutionGroup: "gml:AbstractFeature",
			ComplexType: &xsdComplexType{Sequence: []xsdElement{
				{Name: "geometry", Type: "gml:SurfacePropertyType"},
				{Name: "projectId", Type: "xs:string"},
				{Name: "projectName", Type: "xs:string"},
				{Name: "status", Type: "xs:string"},
				{Name: "layers", Type: "xs:string", MinOccurs: "0", MaxOccurs: "unbounded"},
				{Name: "layerCount", Type: "xs:int"},
				{Name: "updatedAt", Type: "xs:dateTime"},
				{Name: "analysisType", Type: "xs:string", MinOccurs: "0"},
				{Name: "satellite", Type: "xs:string", MinOccurs: "0"},
				{Name: "startDate", Type: "xs:string", MinOccurs: "0"},
				{Name: "endDate", Type: "xs:string", MinOccurs: "0"},
				{Name: "cloudCover", Type: "xs:double", MinOccurs: "0"},
			}},
		}},
	}
	return encode(doc)
}

// BuildWFSFeatures renders the active project AOIs as a GeoJSON FeatureCollection.
func (b *Builder) BuildWFSFeatures(ctx context.Context, q FeatureQuery) ([]byte, error) {
	if q.TypeNames == "" {
		return nil, ogc.MissingParameter("typeNames")
	}
	if !isAOIType(q.TypeNames) {
		return nil, ogc.InvalidParameter("typeNames", q.TypeNames)
	}
	if q.Count < 0 {
		return nil, ogc.InvalidParameter("count", strconv.Itoa(q.Count))
	}
	var filter *orb.Bound
	if q.BBox != "" {
		bb, err := parseFeatureBBox(q.BBox)
		if err != nil {
			return nil, err
		}
		filter = &bb
	}

	entries, err := b.loadEntries(ctx)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		if filter != nil && !filter.Intersects(e.AOI.Bound()) {
			continue
		}
		fc.Append(aoiFeature(e))
		if q.Count > 0 && len(fc.Features) >= q.Count {
			break
		}
	}
	out, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return out, nil
}

func aoiFeature(e *domain.CatalogEntry) *geojson.Feature {
	f := geojson.NewFeature(e.AOI.Polygon())
	f.ID = e.ProjectID
	f.Properties["projectId"] = e.ProjectID
	f.Properties["projectName"] = e.ProjectName
	f.Properties["status"] = e.Status
	f.Properties["layers"] = e.LayerNames()
	f.Properties["layerCount"] = len(e.Layers)
	f.Properties["updatedAt"] = e.UpdatedAt.UTC().Format(time.RFC3339)
	if info := e.AnalysisInfo; info != nil {
		for k, v := range map[string]string{
			"analysisType": info.AnalysisType,
			"satellite":    info.Satellite,
			"startDate":    info.StartDate,
			"endDate":      info.EndDate,
		} {
			if v != "" {
				f.Properties[k] = v
			}
		}
		if info.CloudCover != nil {
			f.Properties["cloudCover"] = *info.CloudCover
		}
	}
	return f
}

func isAOIType(typeNames string) bool {
	for _, t := range strings.Split(typeNames, ",") {
		t = strings.TrimSpace(t)
		if t != FeatureTypeAOI && t != "project_aoi" {
			return false
		}
	}
	return true
}

func parseFeatureBBox(raw string) (orb.Bound, error) {
	vals, err := parseBBox(raw)
	if err != nil {
		return orb.Bound{}, err
	}
	b := orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}
	parts := strings.Split(raw, ",")
	if len(parts) < 5 {
		return b, nil
	}
	switch crs := strings.ToUpper(strings.TrimSpace(parts[4])); crs {
	case "EPSG:4326", "CRS:84", strings.ToUpper(CRS84URN):
		return b, nil
	case "EPSG:3857", strings.ToUpper(CRS3857URN):
		return tilematrix.GeoBound(b), nil
	default:
		return orb.Bound{}, &ogc.ProtocolError{
			Code:    ogc.CodeInvalidCRS,
			Locator: "bbox",
			Message: "unsupported crs " + strconv.Quote(parts[4]),
		}
	}
}
