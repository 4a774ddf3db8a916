package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/metrics"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc/capabilities"
	tileshttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/http"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/service"
	"github.com/gin-gonic/gin"
)

const contentTypeXML = "application/xml; charset=utf-8"

// TileResolver is implemented by service.Resolver
type TileResolver interface {
	ResolveTile(ctx context.Context, req service.TileRequest) service.Tile
}

// result is what an operation hands back to the dispatcher
type result struct {
	contentType string
	body        []byte
	tile        *service.Tile
}

type operationFunc func(c *gin.Context, p ogc.Params) (result, error)

// Handler dispatches the OGC service endpoints
type Handler struct {
	docs     *capabilities.Builder
	resolver TileResolver
	baseURL  string // empty means derive from the request

	ops map[string]map[string]operationFunc // service -> lower(request) -> op
}

// New creates a new Handler
func New(docs *capabilities.Builder, resolver TileResolver, publicBaseURL string) *Handler {
	h := &Handler{
		docs:     docs,
		resolver: resolver,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
	}
	h.ops = map[string]map[string]operationFunc{
		ogc.ServiceWMTS: {
			"getcapabilities": h.wmtsCapabilities,
			"gettile":         h.wmtsTile,
		},
		ogc.ServiceWMS: {
			"getcapabilities": h.wmsCapabilities,
			"getmap":          h.wmsMap,
		},
		ogc.ServiceCSW: {
			"getcapabilities": h.cswCapabilities,
			"getrecords":      h.cswRecords,
			"getrecordbyid":   h.cswRecordByID,
			"describerecord":  h.cswDescribeRecord,
			"getdomain":       h.cswDomain,
			"describedomains": h.cswDomain,
		},
		ogc.ServiceWFS: {
			"getcapabilities":     h.wfsCapabilities,
			"describefeaturetype": h.wfsDescribeFeatureType,
			"getfeature":          h.wfsFeatures,
		},
	}
	return h
}

// Register registers the OGC routes
func (h *Handler) Register(r gin.IRoutes) {
	wmts := h.serve(ogc.ServiceWMTS)
	r.GET("/wmts", wmts)
	r.POST("/wmts", wmts)
	r.HEAD("/wmts", wmts)

	for path, svc := range map[string]string{"/wms": ogc.ServiceWMS, "/csw": ogc.ServiceCSW, "/wfs": ogc.ServiceWFS} {
		fn := h.serve(svc)
		r.GET(path, fn)
		r.POST(path, fn)
	}
}

// serve classifies the request and runs the matching operation. The path
// decides the service family; an explicit service parameter must agree.
func (h *Handler) serve(pathService string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := params(c)
		if err != nil {
			h.fail(c, pathService, "unknown", err)
			return
		}

		if svc := p.Get("service"); svc != "" && !strings.EqualFold(svc, pathService) {
			h.fail(c, pathService, "unknown", &ogc.ProtocolError{
				Code:    ogc.CodeInvalidParameter,
				Locator: "service",
				Message: "service " + strconv.Quote(svc) + " is not served at " + c.Request.URL.Path,
			})
			return
		}

		request := p.Get("request")
		if request == "" {
			request = "GetCapabilities"
		}
		op, ok := h.ops[pathService][strings.ToLower(request)]
		if !ok {
			h.fail(c, pathService, "unsupported", ogc.OperationNotSupported(pathService, request))
			return
		}
		label := strings.ToLower(request)

		res, err := op(c, p)
		if err != nil {
			h.fail(c, pathService, label, err)
			return
		}
		metrics.OGCRequests.WithLabelValues(pathService, label, strconv.Itoa(http.StatusOK)).Inc()
		if res.tile != nil {
			tileshttp.WriteTile(c, *res.tile)
			return
		}
		c.Data(http.StatusOK, res.contentType, res.body)
	}
}

// params merges the query string with a form body; the query wins.
func params(c *gin.Context) (ogc.Params, error) {
	if c.Request.Method != http.MethodPost {
		return ogc.NewParams(c.Request.URL.Query()), nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return ogc.Params{}, &ogc.ProtocolError{
			Code:    ogc.CodeInvalidParameter,
			Message: "malformed request body",
		}
	}
	return ogc.NewParams(c.Request.URL.Query(), c.Request.PostForm), nil
}

func (h *Handler) fail(c *gin.Context, service, request string, err error) {
	var pe *ogc.ProtocolError
	if errors.As(err, &pe) {
		metrics.OGCRequests.WithLabelValues(service, request, strconv.Itoa(http.StatusBadRequest)).Inc()
		c.Data(http.StatusBadRequest, contentTypeXML, ogc.EncodeException(pe.Code, pe.Locator, pe.Message))
		return
	}

	logging.FromContext(c.Request.Context()).Error().Err(err).
		Str("service", service).
		Str("request", request).
		Msg("ogc request failed")
	metrics.OGCRequests.WithLabelValues(service, request, strconv.Itoa(http.StatusInternalServerError)).Inc()
	c.Data(http.StatusInternalServerError, contentTypeXML,
		ogc.EncodeException(ogc.CodeNoApplicableCode, "", "internal server error"))
}

func (h *Handler) base(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := c.Request.Host
	if fwd := c.GetHeader("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}

func xmlResult(body []byte, err error) (result, error) {
	if err != nil {
		return result{}, err
	}
	return result{contentType: contentTypeXML, body: body}, nil
}
