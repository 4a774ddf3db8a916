package http

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc/capabilities"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingResolver struct {
	got []service.TileRequest
}

func (r *recordingResolver) ResolveTile(_ context.Context, req service.TileRequest) service.Tile {
	r.got = append(r.got, req)
	return service.Tile{Data: []byte("tile"), ContentType: "image/png", Source: service.SourceCache}
}

type fixture struct {
	mr       *miniredis.Miniredis
	router   *gin.Engine
	resolver *recordingResolver
}

func setup(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	catalog := repository.NewCatalogRepository(client, time.Hour)
	bbox := domain.BBox{MinX: 109.5, MinY: -1.5, MaxX: 110.5, MaxY: -0.5}
	require.NoError(t, catalog.Register(context.Background(), &domain.CatalogEntry{
		ProjectID:   "demo",
		ProjectName: "demo",
		AOI:         domain.AOI{BBox: &bbox},
		Status:      domain.StatusActive,
		UpdatedAt:   time.Now(),
		Layers: map[string]domain.LayerDescriptor{
			"ndvi": {Name: "ndvi", TileURLTemplate: "https://x/tiles/{z}/{x}/{y}"},
		},
	}))

	res := &recordingResolver{}
	router := gin.New()
	New(capabilities.NewBuilder(catalog, capabilities.Options{}), res, "http://gateway.test").Register(router)
	return &fixture{mr: mr, router: router, resolver: res}
}

func (f *fixture) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func exceptionOf(t *testing.T, rr *httptest.ResponseRecorder) (code, locator, text string) {
	var doc struct {
		Exception struct {
			Code    string `xml:"exceptionCode,attr"`
			Locator string `xml:"locator,attr"`
			Text    string `xml:"ExceptionText"`
		} `xml:"Exception"`
	}
	require.NoError(t, xml.Unmarshal(rr.Body.Bytes(), &doc))
	return doc.Exception.Code, doc.Exception.Locator, doc.Exception.Text
}

func TestWMTS_GetCapabilities(t *testing.T) {
	f := setup(t)

	for _, target := range []string{
		"/wmts?SERVICE=WMTS&REQUEST=GetCapabilities",
		"/wmts?service=wmts&request=getcapabilities",
		"/wmts",
	} {
		rr := f.do(http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rr.Code, target)
		assert.Contains(t, rr.Header().Get("Content-Type"), "application/xml")
		assert.Contains(t, rr.Body.String(), "demo_ndvi")
		assert.Contains(t, rr.Body.String(), "http://gateway.test/wmts?")
	}

	rr := f.do(http.MethodHead, "/wmts?request=GetCapabilities", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWMTS_GetTile(t *testing.T) {
	f := setup(t)

	rr := f.do(http.MethodGet, "/wmts?SERVICE=WMTS&REQUEST=GetTile&LAYER=demo_ndvi&TILEMATRIXSET=EPSG:3857&TileMatrix=EPSG:3857:5&TileRow=12&TileCol=10&FORMAT=image/png", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, service.SourceCache, rr.Header().Get("X-Tile-Source"))
	require.Len(t, f.resolver.got, 1)
	assert.Equal(t, service.TileRequest{Layer: "demo_ndvi", Z: 5, X: 10, Y: 12}, f.resolver.got[0])

	t.Run("form body", func(t *testing.T) {
		rr := f.do(http.MethodPost, "/wmts", url.Values{
			"request": {"GetTile"}, "layer": {"demo_ndvi"}, "tilematrix": {"3"}, "tilerow": {"2"}, "tilecol": {"1"},
		})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, service.TileRequest{Layer: "demo_ndvi", Z: 3, X: 1, Y: 2}, f.resolver.got[len(f.resolver.got)-1])
	})

	tests := []struct {
		name    string
		query   string
		code    string
		locator string
	}{
		{"missing layer", "request=GetTile&tilematrix=1&tilerow=0&tilecol=0", ogc.CodeMissingParameter, "layer"},
		{"unknown matrix set", "request=GetTile&layer=a&tilematrixset=EPSG:4326&tilematrix=1&tilerow=0&tilecol=0", ogc.CodeInvalidParameter, "tilematrixset"},
		{"bad tile row", "request=GetTile&layer=a&tilematrix=1&tilerow=x&tilecol=0", ogc.CodeInvalidParameter, "tilerow"},
		{"bad tile matrix", "request=GetTile&layer=a&tilematrix=EPSG:3857:z&tilerow=0&tilecol=0", ogc.CodeInvalidParameter, "tilematrix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, "/wmts?"+tt.query, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			code, locator, _ := exceptionOf(t, rr)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.locator, locator)
		})
	}
}

func TestUnsupportedRequestAndService(t *testing.T) {
	f := setup(t)

	rr := f.do(http.MethodGet, "/wmts?service=WMTS&request=GetFeatureInfo", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	code, _, text := exceptionOf(t, rr)
	assert.Equal(t, ogc.CodeOperationNotSupported, code)
	assert.Contains(t, text, "GetFeatureInfo")

	rr = f.do(http.MethodGet, "/wms?service=WCS&request=GetCapabilities", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	code, locator, text := exceptionOf(t, rr)
	assert.Equal(t, ogc.CodeInvalidParameter, code)
	assert.Equal(t, "service", locator)
	assert.Contains(t, text, "WCS")
}

func TestWMS_GetMap(t *testing.T) {
	f := setup(t)

	rr := f.do(http.MethodGet, "/wms?SERVICE=WMS&REQUEST=GetCapabilities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<Name>demo_ndvi</Name>")

	rr = f.do(http.MethodGet, "/wms?SERVICE=WMS&REQUEST=GetMap&LAYERS=demo_ndvi&CRS=EPSG:3857&BBOX=-20037508.34,-20037508.34,20037508.34,20037508.34&WIDTH=256&HEIGHT=256", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, f.resolver.got, 1)
	assert.Equal(t, service.TileRequest{Layer: "demo_ndvi", Z: 0, X: 0, Y: 0}, f.resolver.got[0])

	rr = f.do(http.MethodGet, "/wms?REQUEST=GetMap&LAYERS=demo_ndvi&CRS=EPSG:27700&BBOX=0,0,1,1", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	code, _, _ := exceptionOf(t, rr)
	assert.Equal(t, ogc.CodeInvalidCRS, code)
}

func TestCSWAndWFS(t *testing.T) {
	f := setup(t)

	rr := f.do(http.MethodGet, "/csw?service=CSW&request=GetRecords&maxRecords=5&ElementSetName=full", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var records struct {
		Results struct {
			Matched int `xml:"numberOfRecordsMatched,attr"`
		} `xml:"SearchResults"`
	}
	require.NoError(t, xml.Unmarshal(rr.Body.Bytes(), &records))
	assert.Equal(t, 1, records.Results.Matched)
	assert.Contains(t, rr.Body.String(), "http://gateway.test/tms/demo/ndvi/{z}/{x}/{y}.png")

	rr = f.do(http.MethodPost, "/csw", url.Values{"request": {"GetRecordById"}, "id": {"demo_ndvi"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), capabilities.RecordID("demo", "ndvi"))

	rr = f.do(http.MethodGet, "/csw?request=GetRecords&startPosition=2&maxRecords=9223372036854775807", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/xml")

	rr = f.do(http.MethodGet, "/csw?request=GetRecords", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "SummaryRecord")
	assert.Contains(t, rr.Body.String(), "http://gateway.test/tms/demo/ndvi/{z}/{x}/{y}.png")

	rr = f.do(http.MethodGet, "/csw?request=GetRecords&maxRecords=lots", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/wfs?service=WFS&request=GetFeature&typeNames=gateway:project_aoi", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "demo", fc.Features[0].ID)

	rr = f.do(http.MethodGet, "/wfs?request=GetFeature&typeNames=gateway:project_aoi&outputFormat=GML3", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStoreFailureIsGeneric500(t *testing.T) {
	f := setup(t)
	f.mr.SetError("store unavailable")
	defer f.mr.SetError("")

	rr := f.do(http.MethodGet, "/wmts?request=GetCapabilities", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	code, _, text := exceptionOf(t, rr)
	assert.Equal(t, ogc.CodeNoApplicableCode, code)
	assert.Equal(t, "internal server error", text)
	assert.NotContains(t, rr.Body.String(), "store unavailable")
}

func TestParseTileMatrix(t *testing.T) {
	for raw, want := range map[string]int{"5": 5, "EPSG:3857:7": 7, "GoogleMapsCompatible:12": 12} {
		z, err := parseTileMatrix(raw)
		require.NoError(t, err)
		assert.Equal(t, want, z)
	}
	_, err := parseTileMatrix("EPSG:3857:")
	var pe *ogc.ProtocolError
	assert.True(t, errors.As(err, &pe))
}
