package capabilities

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc"
	"github.com/google/uuid"
)

const (
	NamespaceCSW = "http://www.opengis.net/cat/csw/2.0.2"
	NamespaceDC  = "http://purl.org/dc/elements/1.1/"
	NamespaceDCT = "http://purl.org/dc/terms/"
	// CSW 2.0.2 documents use OWS 1.0
	namespaceOWS10 = "http://www.opengis.net/ows"
)

// Element sets and result types accepted by GetRecords
const (
	ElementSetBrief   = "brief"
	ElementSetSummary = "summary"
	ElementSetFull    = "full"

	ResultTypeResults = "results"
	ResultTypeHits    = "hits"

	DefaultMaxRecords = 10
)

// RecordQuery holds the GetRecords paging and filter parameters
type RecordQuery struct {
	StartPosition  int // 1-based
	MaxRecords     int
	ElementSetName string
	ResultType     string
	Q              string // case-insensitive free text
}

// RecordID is the stable CSW identifier of a project layer.
func RecordID(projectID, layer string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(projectID+"/"+layer)).String()
}

type cswCapabilities struct {
	XMLName    xml.Name     `xml:"csw:Capabilities"`
	XmlnsCSW   string       `xml:"xmlns:csw,attr"`
	XmlnsOWS   string       `xml:"xmlns:ows,attr"`
	XmlnsXLink string       `xml:"xmlns:xlink,attr"`
	Version    string       `xml:"version,attr"`
	ServiceID  serviceIdent `xml:"ows:ServiceIdentification"`
	Operations operationsMD `xml:"ows:OperationsMetadata"`
}

type cswRecordsResponse struct {
	XMLName  xml.Name         `xml:"csw:GetRecordsResponse"`
	XmlnsCSW string           `xml:"xmlns:csw,attr"`
	XmlnsDC  string           `xml:"xmlns:dc,attr"`
	XmlnsDCT string           `xml:"xmlns:dct,attr"`
	XmlnsOWS string           `xml:"xmlns:ows,attr"`
	Version  string           `xml:"version,attr"`
	Status   cswSearchStatus  `xml:"csw:SearchStatus"`
	Results  cswSearchResults `xml:"csw:SearchResults"`
}

type cswSearchStatus struct {
	Timestamp string `xml:"timestamp,attr"`
}

type cswSearchResults struct {
	Matched    int         `xml:"numberOfRecordsMatched,attr"`
	Returned   int         `xml:"numberOfRecordsReturned,attr"`
	NextRecord int         `xml:"nextRecord,attr"`
	ElementSet string      `xml:"elementSet,attr"`
	Records    []cswRecord `xml:",any"`
}

type cswRecordByIDResponse struct {
	XMLName  xml.Name    `xml:"csw:GetRecordByIdResponse"`
	XmlnsCSW string      `xml:"xmlns:csw,attr"`
	XmlnsDC  string      `xml:"xmlns:dc,attr"`
	XmlnsDCT string      `xml:"xmlns:dct,attr"`
	XmlnsOWS string      `xml:"xmlns:ows,attr"`
	Records  []cswRecord `xml:",any"`
}

type cswRecord struct {
	XMLName     xml.Name
	Identifier  string         `xml:"dc:identifier"`
	Alternative string         `xml:"dct:alternative,omitempty"`
	Title       string         `xml:"dc:title"`
	Type        string         `xml:"dc:type"`
	Subjects    []string       `xml:"dc:subject,omitempty"`
	Formats     []string       `xml:"dc:format,omitempty"`
	Creator     string         `xml:"dc:creator,omitempty"`
	Date        string         `xml:"dc:date,omitempty"`
	Modified    string         `xml:"dct:modified,omitempty"`
	Abstract    string         `xml:"dct:abstract,omitempty"`
	References  []cswReference `xml:"dct:references,omitempty"`
	BBox        owsBBox        `xml:"ows:BoundingBox"`
}

type cswReference struct {
	Scheme string `xml:"scheme,attr"`
	URL    string `xml:",chardata"`
}

type cswDescribeRecordResponse struct {
	XMLName   xml.Name           `xml:"csw:DescribeRecordResponse"`
	XmlnsCSW  string             `xml:"xmlns:csw,attr"`
	Component cswSchemaComponent `xml:"csw:SchemaComponent"`
}

type cswSchemaComponent struct {
	TargetNamespace string    `xml:"targetNamespace,attr"`
	SchemaLanguage  string    `xml:"schemaLanguage,attr"`
	Schema          xsdSchema `xml:"xs:schema"`
}

type cswDomainResponse struct {
	XMLName  xml.Name        `xml:"csw:GetDomainResponse"`
	XmlnsCSW string          `xml:"xmlns:csw,attr"`
	Values   cswDomainValues `xml:"csw:DomainValues"`
}

type cswDomainValues struct {
	Type         string   `xml:"type,attr"`
	PropertyName string   `xml:"csw:PropertyName"`
	Values       []string `xml:"csw:ListOfValues>csw:Value"`
}

// BuildCSWCapabilities renders the static CSW 2.0.2 service description.
func (b *Builder) BuildCSWCapabilities(baseURL string) ([]byte, error) {
	endpoint := serviceURL(baseURL, "/csw")
	ops := make([]operation, 0, 5)
	for _, name := range []string{"GetCapabilities", "DescribeRecord", "GetRecords", "GetRecordById", "GetDomain"} {
		op := operation{
			Name: name,
			Get:  xlinkConstraint{Href: endpoint + "?"},
			Post: &xlinkConstraint{Href: endpoint},
		}
		switch name {
		case "GetRecords":
			op.Parameters = []owsParameter{
				{Name: "typeNames", Values: []string{"csw:Record"}},
				{Name: "outputFormat", Values: []string{"application/xml"}},
				{Name: "ElementSetName", Values: []string{ElementSetBrief, ElementSetSummary, ElementSetFull}},
				{Name: "resultType", Values: []string{ResultTypeHits, ResultTypeResults}},
			}
		case "GetDomain":
			op.Parameters = []owsParameter{{Name: "PropertyName", Values: domainProperties()}}
		}
		ops = append(ops, op)
	}

	doc := cswCapabilities{
		XmlnsCSW:   NamespaceCSW,
		XmlnsOWS:   namespaceOWS10,
		XmlnsXLink: NamespaceXLink,
		Version:    "2.0.2",
		ServiceID: serviceIdent{
			Title:              b.opts.Title + " Catalogue",
			Abstract:           b.opts.Abstract,
			ServiceType:        "CSW",
			ServiceTypeVersion: []string{"2.0.2"},
		},
		Operations: operationsMD{Operations: ops},
	}
	return encode(doc)
}

// BuildCSWRecords renders a GetRecords response over every active layer.
func (b *Builder) BuildCSWRecords(ctx context.Context, baseURL string, q RecordQuery) ([]byte, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	vs, err := b.allViews(ctx)
	if err != nil {
		return nil, err
	}

	matched := filterViews(vs, q.Q)
	results := cswSearchResults{Matched: len(matched), ElementSet: q.ElementSetName}
	if q.ResultType != ResultTypeHits {
		start := q.StartPosition - 1
		if start > len(matched) {
			start = len(matched)
		}
		end := len(matched)
		if q.MaxRecords < end-start {
			end = start + q.MaxRecords
		}
		for _, v := range matched[start:end] {
			results.Records = append(results.Records, recordFor(v, baseURL, q.ElementSetName))
		}
		results.Returned = len(results.Records)
		if end < len(matched) {
			results.NextRecord = end + 1
		}
	}

	doc := cswRecordsResponse{
		XmlnsCSW: NamespaceCSW,
		XmlnsDC:  NamespaceDC,
		XmlnsDCT: NamespaceDCT,
		XmlnsOWS: namespaceOWS10,
		Version:  "2.0.2",
		Status:   cswSearchStatus{Timestamp: b.now().UTC().Format(time.RFC3339)},
		Results:  results,
	}
	return encode(doc)
}

// BuildCSWRecordByID renders the records whose id is in ids. An id may be the
// record UUID or the layer identifier. Unknown ids are skipped.
func (b *Builder) BuildCSWRecordByID(ctx context.Context, baseURL string, ids []string, elementSet string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, ogc.MissingParameter("id")
	}
	if elementSet == "" {
		elementSet = ElementSetFull
	}
	if !validElementSet(elementSet) {
		return nil, ogc.InvalidParameter("elementSetName", elementSet)
	}
	vs, err := b.allViews(ctx)
	if err != nil {
		return nil, err
	}

	doc := cswRecordByIDResponse{
		XmlnsCSW: NamespaceCSW,
		XmlnsDC:  NamespaceDC,
		XmlnsDCT: NamespaceDCT,
		XmlnsOWS: namespaceOWS10,
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		for _, v := range vs {
			if id == RecordID(v.Entry.ProjectID, v.Name) || id == v.Identifier {
				doc.Records = append(doc.Records, recordFor(v, baseURL, elementSet))
				break
			}
		}
	}
	return encode(doc)
}

// BuildCSWDescribeRecord renders the schema of csw:Record as served here.
func (b *Builder) BuildCSWDescribeRecord() ([]byte, error) {
	doc := cswDescribeRecordResponse{
		XmlnsCSW: NamespaceCSW,
		Component: cswSchemaComponent{
			TargetNamespace: NamespaceCSW,
			SchemaLanguage:  "XMLSCHEMA",
			Schema: xsdSchema{
				XmlnsXS:         namespaceXSD,
				TargetNamespace: NamespaceCSW,
				Elements: []xsdElement{{
					Name: "Record",
					ComplexType: &xsdComplexType{Sequence: []xsdElement{
						{Name: "dc:identifier", Type: "xs:string"},
						{Name: "dct:alternative", Type: "xs:string", MinOccurs: "0"},
						{Name: "dc:title", Type: "xs:string"},
						{Name: "dc:type", Type: "xs:string"},
						{Name: "dc:subject", Type: "xs:string", MinOccurs: "0", MaxOccurs: "unbounded"},
						{Name: "dc:format", Type: "xs:string", MinOccurs: "0", MaxOccurs: "unbounded"},
						{Name: "dc:creator", Type: "xs:string", MinOccurs: "0"},
						{Name: "dc:date", Type: "xs:string", MinOccurs: "0"},
						{Name: "dct:modified", Type: "xs:dateTime", MinOccurs: "0"},
						{Name: "dct:abstract", Type: "xs:string", MinOccurs: "0"},
						{Name: "dct:references", Type: "xs:anyURI", MinOccurs: "0", MaxOccurs: "unbounded"},
						{Name: "ows:BoundingBox", Type: "ows:BoundingBoxType"},
					}},
				}},
			},
		},
	}
	return encode(doc)
}

// domain property name -> value extractor
var domainExtractors = map[string]func(v layerView) []string{
	"dc:type":    func(layerView) []string { return []string{"dataset"} },
	"dc:format":  func(layerView) []string { return []string{formatPNG} },
	"dc:subject": func(v layerView) []string { return v.Keywords() },
	"dc:creator": func(v layerView) []string { return []string{v.Entry.ProjectName} },
	"AnalysisType": func(v layerView) []string {
		if v.Entry.AnalysisInfo == nil {
			return nil
		}
		return []string{v.Entry.AnalysisInfo.AnalysisType}
	},
	"Satellite": func(v layerView) []string {
		if v.Entry.AnalysisInfo == nil {
			return nil
		}
		return []string{v.Entry.AnalysisInfo.Satellite}
	},
}

func domainProperties() []string {
	names := make([]string, 0, len(domainExtractors))
	for k := range domainExtractors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BuildCSWDomain renders the distinct values of propertyName across records.
func (b *Builder) BuildCSWDomain(ctx context.Context, propertyName string) ([]byte, error) {
	if propertyName == "" {
		return nil, ogc.MissingParameter("propertyName")
	}
	var extract func(layerView) []string
	for k, fn := range domainExtractors {
		if strings.EqualFold(k, propertyName) {
			propertyName, extract = k, fn
			break
		}
	}
	if extract == nil {
		return nil, ogc.InvalidParameter("propertyName", propertyName)
	}

	vs, err := b.allViews(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var values []string
	for _, v := range vs {
		for _, val := range extract(v) {
			if val == "" {
				continue
			}
			if _, ok := seen[val]; ok {
				continue
			}
			seen[val] = struct{}{}
			values = append(values, val)
		}
	}
	sort.Strings(values)

	doc := cswDomainResponse{
		XmlnsCSW: NamespaceCSW,
		Values: cswDomainValues{
			Type:         "csw:Record",
			PropertyName: propertyName,
			Values:       values,
		},
	}
	return encode(doc)
}

func normalizeQuery(q RecordQuery) (RecordQuery, error) {
	if q.StartPosition == 0 {
		q.StartPosition = 1
	}
	if q.StartPosition < 1 {
		return q, ogc.InvalidParameter("startPosition", strconv.Itoa(q.StartPosition))
	}
	if q.MaxRecords == 0 {
		q.MaxRecords = DefaultMaxRecords
	}
	if q.MaxRecords < 0 {
		return q, ogc.InvalidParameter("maxRecords", strconv.Itoa(q.MaxRecords))
	}
	q.ElementSetName = strings.ToLower(q.ElementSetName)
	if q.ElementSetName == "" {
		q.ElementSetName = ElementSetSummary
	}
	if !validElementSet(q.ElementSetName) {
		return q, ogc.InvalidParameter("elementSetName", q.ElementSetName)
	}
	q.ResultType = strings.ToLower(q.ResultType)
	if q.ResultType == "" {
		q.ResultType = ResultTypeResults
	}
	if q.ResultType != ResultTypeResults && q.ResultType != ResultTypeHits {
		return q, ogc.InvalidParameter("resultType", q.ResultType)
	}
	return q, nil
}

func validElementSet(s string) bool {
	switch strings.ToLower(s) {
	case ElementSetBrief, ElementSetSummary, ElementSetFull:
		return true
	}
	return false
}

func filterViews(vs []layerView, text string) []layerView {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vs
	}
	var out []layerView
	for _, v := range vs {
		fields := append([]string{v.Identifier, v.Entry.ProjectID, v.Title(), v.Abstract()}, v.Keywords()...)
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), text) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

func recordFor(v layerView, baseURL, elementSet string) cswRecord {
	rec := cswRecord{
		Identifier: RecordID(v.Entry.ProjectID, v.Name),
		Title:      v.Title(),
		Type:       "dataset",
		BBox: owsBBox{
			CRS:   CRS84URN,
			Lower: corner(v.WGS84.Min.Lon(), v.WGS84.Min.Lat()),
			Upper: corner(v.WGS84.Max.Lon(), v.WGS84.Max.Lat()),
		},
	}
	switch strings.ToLower(elementSet) {
	case ElementSetBrief:
		rec.XMLName = xml.Name{Local: "csw:BriefRecord"}
		return rec
	case ElementSetSummary:
		rec.XMLName = xml.Name{Local: "csw:SummaryRecord"}
	default:
		rec.XMLName = xml.Name{Local: "csw:Record"}
	}

	rec.Subjects = v.Keywords()
	rec.Formats = []string{formatPNG}
	rec.Modified = v.Entry.UpdatedAt.UTC().Format(time.RFC3339)
	rec.Abstract = v.Abstract()
	rec.References = referencesFor(v, baseURL)
	if rec.XMLName.Local == "csw:SummaryRecord" {
		return rec
	}

	rec.Alternative = v.Identifier
	rec.Creator = v.Entry.ProjectName
	if info := v.Entry.AnalysisInfo; info != nil && (info.StartDate != "" || info.EndDate != "") {
		rec.Date = fmt.Sprintf("%s/%s", info.StartDate, info.EndDate)
	}
	return rec
}

func referencesFor(v layerView, baseURL string) []cswReference {
	base := strings.TrimRight(baseURL, "/")
	return []cswReference{
		{Scheme: "OGC:WMTS", URL: base + "/wmts?SERVICE=WMTS&REQUEST=GetCapabilities"},
		{Scheme: "OGC:WMS", URL: base + "/wms?SERVICE=WMS&REQUEST=GetCapabilities&LAYERS=" + url.QueryEscape(v.Identifier)},
		{Scheme: "TMS", URL: fmt.Sprintf("%s/tms/%s/%s/{z}/{x}/{y}.png", base, url.PathEscape(v.Entry.ProjectID), url.PathEscape(v.Name))},
	}
}
