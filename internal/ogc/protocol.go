// Package ogc holds the request parameter handling and exception documents
// shared by the WMTS, WMS, CSW and WFS endpoints.
package ogc

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Service names
const (
	ServiceWMTS = "WMTS"
	ServiceWMS  = "WMS"
	ServiceCSW  = "CSW"
	ServiceWFS  = "WFS"
)

// OWS exception codes
const (
	CodeOperationNotSupported = "OperationNotSupported"
	CodeMissingParameter      = "MissingParameterValue"
	CodeInvalidParameter      = "InvalidParameterValue"
	CodeInvalidCRS            = "InvalidCRS"
	CodeNoApplicableCode      = "NoApplicableCode"
)

// ProtocolError is a client error reported as an OWS ExceptionReport
type ProtocolError struct {
	Code    string
	Locator string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func OperationNotSupported(service, request string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeOperationNotSupported,
		Locator: "request",
		Message: fmt.Sprintf("request %q is not supported by %s", request, service),
	}
}

func MissingParameter(name string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeMissingParameter,
		Locator: name,
		Message: fmt.Sprintf("missing required parameter %q", name),
	}
}

func InvalidParameter(name, value string) *ProtocolError {
	return &ProtocolError{
		Code:    CodeInvalidParameter,
		Locator: name,
		Message: fmt.Sprintf("invalid value %q for parameter %q", value, name),
	}
}

// canonical lowercase name -> capitalised aliases, checked in order before the canonical key
var aliases = map[string][]string{
	"service":        {"SERVICE", "Service"},
	"request":        {"REQUEST", "Request"},
	"version":        {"VERSION", "Version", "AcceptVersions", "acceptversions"},
	"layer":          {"LAYER", "Layer"},
	"layers":         {"LAYERS", "Layers"},
	"style":          {"STYLE", "Style"},
	"styles":         {"STYLES", "Styles"},
	"format":         {"FORMAT", "Format"},
	"tilematrixset":  {"TILEMATRIXSET", "TileMatrixSet"},
	"tilematrix":     {"TILEMATRIX", "TileMatrix"},
	"tilerow":        {"TILEROW", "TileRow"},
	"tilecol":        {"TILECOL", "TileCol"},
	"bbox":           {"BBOX", "BBox"},
	"width":          {"WIDTH", "Width"},
	"height":         {"HEIGHT", "Height"},
	"crs":            {"CRS", "Crs"},
	"srs":            {"SRS", "Srs"},
	"typename":       {"TYPENAME", "TypeName", "typeName"},
	"typenames":      {"TYPENAMES", "TypeNames", "typeNames"},
	"count":          {"COUNT", "Count", "maxFeatures", "MAXFEATURES", "maxfeatures"},
	"startposition":  {"STARTPOSITION", "StartPosition", "startPosition"},
	"maxrecords":     {"MAXRECORDS", "MaxRecords", "maxRecords"},
	"elementsetname": {"ELEMENTSETNAME", "ElementSetName", "elementSetName"},
	"resulttype":     {"RESULTTYPE", "ResultType", "resultType"},
	"id":             {"ID", "Id"},
	"propertyname":   {"PROPERTYNAME", "PropertyName", "propertyName"},
	"outputformat":   {"OUTPUTFORMAT", "OutputFormat", "outputFormat"},
	"q":              {"Q"},
}

// Params resolves OGC parameters sent in any capitalisation.
type Params struct {
	values url.Values
}

// NewParams merges the given value sets; earlier sets win on conflicts.
func NewParams(sets ...url.Values) Params {
	merged := url.Values{}
	for _, set := range sets {
		for k, vs := range set {
			if _, ok := merged[k]; ok {
				continue
			}
			merged[k] = vs
		}
	}
	return Params{values: merged}
}

// Get returns the value for a canonical lowercase parameter name. Explicit
// aliases win over the canonical key, which wins over any other key that
// matches case-insensitively.
func (p Params) Get(name string) string {
	for _, alias := range aliases[name] {
		if v, ok := p.first(alias); ok {
			return v
		}
	}
	if v, ok := p.first(name); ok {
		return v
	}
	for k := range p.values {
		if strings.EqualFold(k, name) {
			if v, ok := p.first(k); ok {
				return v
			}
		}
	}
	return ""
}

// GetAny returns the first non-empty value among names.
func (p Params) GetAny(names ...string) string {
	for _, n := range names {
		if v := p.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// Require is Get that reports a MissingParameterValue error for empty values.
func (p Params) Require(name string) (string, error) {
	v := p.Get(name)
	if v == "" {
		return "", MissingParameter(name)
	}
	return v, nil
}

// Int parses an optional integer parameter, returning def when absent.
func (p Params) Int(name string, def int) (int, error) {
	v := p.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, InvalidParameter(name, v)
	}
	return n, nil
}

func (p Params) first(key string) (string, bool) {
	vs, ok := p.values[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	v := strings.TrimSpace(vs[0])
	return v, v != ""
}

// ExceptionReport is the OWS 1.1 exception document
type ExceptionReport struct {
	XMLName   xml.Name    `xml:"ows:ExceptionReport"`
	XmlnsOWS  string      `xml:"xmlns:ows,attr"`
	Version   string      `xml:"version,attr"`
	Exception []Exception `xml:"ows:Exception"`
}

type Exception struct {
	Code    string `xml:"exceptionCode,attr"`
	Locator string `xml:"locator,attr,omitempty"`
	Text    string `xml:"ows:ExceptionText"`
}

const NamespaceOWS = "http://www.opengis.net/ows/1.1"

// EncodeException renders an ExceptionReport document.
func EncodeException(code, locator, text string) []byte {
	doc := ExceptionReport{
		XmlnsOWS:  NamespaceOWS,
		Version:   "1.1.0",
		Exception: []Exception{{Code: code, Locator: locator, Text: text}},
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return []byte(xml.Header + `<ows:ExceptionReport xmlns:ows="` + NamespaceOWS + `" version="1.1.0"/>`)
	}
	return append([]byte(xml.Header), out...)
}
