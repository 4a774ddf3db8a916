package ogc

import (
	"encoding/xml"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams_AliasPrecedence(t *testing.T) {
	p := NewParams(url.Values{
		"request": {"GetTile"},
		"REQUEST": {"GetCapabilities"},
	})
	assert.Equal(t, "GetCapabilities", p.Get("request"))

	p = NewParams(url.Values{"TileMatrix": {"5"}, "tilematrix": {"7"}})
	assert.Equal(t, "5", p.Get("tilematrix"))

	p = NewParams(url.Values{"tileMATRIX": {"9"}})
	assert.Equal(t, "9", p.Get("tilematrix"))

	p = NewParams(url.Values{"service": {"  "}})
	assert.Equal(t, "", p.Get("service"))
}

func TestParams_MergeAndTypes(t *testing.T) {
	p := NewParams(url.Values{"layers": {"a"}}, url.Values{"layers": {"b"}, "width": {"256"}})
	assert.Equal(t, "a", p.Get("layers"))

	n, err := p.Int("width", 0)
	require.NoError(t, err)
	assert.Equal(t, 256, n)

	n, err = p.Int("height", 512)
	require.NoError(t, err)
	assert.Equal(t, 512, n)

	_, err = NewParams(url.Values{"width": {"wide"}}).Int("width", 0)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeInvalidParameter, pe.Code)

	_, err = p.Require("bbox")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeMissingParameter, pe.Code)
	assert.Equal(t, "bbox", pe.Locator)

	assert.Equal(t, "EPSG:4326", NewParams(url.Values{"SRS": {"EPSG:4326"}}).GetAny("crs", "srs"))
}

func TestEncodeException(t *testing.T) {
	doc := EncodeException(CodeOperationNotSupported, "request", `request "Foo" is not supported by WMS`)

	var parsed struct {
		XMLName   xml.Name
		Exception struct {
			Code string `xml:"exceptionCode,attr"`
			Text string `xml:"ExceptionText"`
		} `xml:"Exception"`
	}
	require.NoError(t, xml.Unmarshal(doc, &parsed))
	assert.Equal(t, "ExceptionReport", parsed.XMLName.Local)
	assert.Equal(t, CodeOperationNotSupported, parsed.Exception.Code)
	assert.Contains(t, parsed.Exception.Text, "Foo")
}
