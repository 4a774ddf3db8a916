package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TileResponses counts tiles served by where the bytes came from: cache, upstream or fallback.
	TileResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tile_responses_total",
			Help: "Tiles served, labelled by payload source",
		},
		[]string{"source"},
	)

	TileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_tile_cache_hits_total",
			Help: "Tile cache lookups that returned a stored tile",
		},
	)

	TileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_tile_cache_misses_total",
			Help: "Tile cache lookups that found nothing",
		},
	)

	TileFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tile_fallbacks_total",
			Help: "Procedural fallback tiles, labelled by reason and palette",
		},
		[]string{"reason", "palette"},
	)

	UpstreamFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_fetch_duration_seconds",
			Help:    "Duration of upstream tile fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	UpstreamFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_fetch_errors_total",
			Help: "Failed upstream tile fetches, labelled by error kind",
		},
		[]string{"kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_upstream_circuit_state",
			Help: "Upstream circuit breaker state per host (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	CatalogRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_catalog_registrations_total",
			Help: "Catalog registration attempts, labelled by result",
		},
		[]string{"result"},
	)

	CatalogDuplicatesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_catalog_duplicates_removed_total",
			Help: "Catalog entries removed as duplicates of a newer registration",
		},
	)

	OGCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ogc_requests_total",
			Help: "OGC protocol requests, labelled by service, request and HTTP status",
		},
		[]string{"service", "request", "status"},
	)
)
