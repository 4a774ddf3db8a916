package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/metrics"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tilematrix"
)

// Tile sources
const (
	SourceCache    = "cache"
	SourceUpstream = "upstream"
	SourceFallback = "fallback"
)

// Fallback reasons
const (
	ReasonOutOfRange = "out_of_range"
	ReasonNoMatch    = "no_match"
	ReasonCatalog    = "catalog_error"
	ReasonFetch      = "fetch_error"
)

// CatalogReader is the catalog access the resolver needs
type CatalogReader interface {
	Get(ctx context.Context, projectID string) (*domain.CatalogEntry, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
}

// TileStore is the cache access the resolver needs
type TileStore interface {
	Get(ctx context.Context, key string) (*domain.CachedTile, error)
	Set(ctx context.Context, key string, tile *domain.CachedTile, ttl time.Duration) error
}

// UpstreamFetcher is implemented by Fetcher
type UpstreamFetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchOutcome
}

// TileRequest names a tile by layer identifier (optionally with an explicit project)
type TileRequest struct {
	ProjectID string
	Layer     string
	Z, X, Y   int
}

// Identifier is the layer identifier used for matching and palette selection.
func (r TileRequest) Identifier() string {
	if r.ProjectID == "" {
		return r.Layer
	}
	return r.ProjectID + "_" + r.Layer
}

// Tile is always a valid image payload
type Tile struct {
	Data        []byte
	ContentType string
	Source      string
	Reason      string // set for fallback tiles
}

// CacheOutcome is the result of a cache lookup
type CacheOutcome struct {
	Tile *domain.CachedTile
	Hit  bool
}

// MatchOutcome is the result of catalog matching
type MatchOutcome struct {
	Match Match
	Found bool
	Err   error
}

// Resolver turns tile requests into tile bytes from cache, upstream or a fallback
type Resolver struct {
	catalog CatalogReader
	cache   TileStore
	fetcher UpstreamFetcher
	ttl     time.Duration
}

func NewResolver(catalog CatalogReader, cache TileStore, fetcher UpstreamFetcher, tileTTL time.Duration) *Resolver {
	if tileTTL <= 0 {
		tileTTL = repository.DefaultTileTTL
	}
	return &Resolver{catalog: catalog, cache: cache, fetcher: fetcher, ttl: tileTTL}
}

// ResolveTile never fails: every error path ends in a fallback tile.
func (r *Resolver) ResolveTile(ctx context.Context, req TileRequest) Tile {
	log := logging.FromContext(ctx).With().
		Str("layer", req.Identifier()).
		Int("z", req.Z).Int("x", req.X).Int("y", req.Y).
		Logger()

	if !tilematrix.ValidTile(req.Z, req.X, req.Y) {
		return r.fallback(ctx, req, ReasonOutOfRange)
	}

	bestKey := ""
	if project, layer, ok := r.bestKnown(req); ok {
		bestKey = repository.TileKey(project, layer, req.Z, req.X, req.Y)
		if c := r.lookup(ctx, bestKey); c.Hit {
			return r.served(Tile{Data: c.Tile.Data, ContentType: c.Tile.ContentType, Source: SourceCache})
		}
	}

	m := r.match(ctx, req)
	if m.Err != nil {
		log.Warn().Err(m.Err).Msg("catalog lookup failed")
		return r.fallback(ctx, req, ReasonCatalog)
	}
	if !m.Found {
		return r.fallback(ctx, req, ReasonNoMatch)
	}

	key := repository.TileKey(m.Match.ProjectID, m.Match.Layer.Name, req.Z, req.X, req.Y)
	if key != bestKey {
		if c := r.lookup(ctx, key); c.Hit {
			return r.served(Tile{Data: c.Tile.Data, ContentType: c.Tile.ContentType, Source: SourceCache})
		}
	}

	url := ExpandTemplate(m.Match.Layer.TileURLTemplate, req.Z, req.X, req.Y)
	out := r.fetcher.Fetch(ctx, url)
	if !out.OK() {
		log.Warn().Err(out.Err).Str("project_id", m.Match.ProjectID).Msg("upstream tile fetch failed")
		return r.fallback(ctx, req, ReasonFetch)
	}

	// best effort; a failed write only costs a refetch
	if err := r.cache.Set(ctx, key, &domain.CachedTile{Data: out.Data, ContentType: out.ContentType}, r.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to cache tile")
	}
	return r.served(Tile{Data: out.Data, ContentType: out.ContentType, Source: SourceUpstream})
}

func (r *Resolver) bestKnown(req TileRequest) (project, layer string, ok bool) {
	if req.ProjectID != "" {
		return req.ProjectID, req.Layer, req.Layer != ""
	}
	return splitIdentifier(req.Layer)
}

func (r *Resolver) lookup(ctx context.Context, key string) CacheOutcome {
	tile, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logging.FromContext(ctx).Warn().Err(err).Str("key", key).Msg("tile cache read failed")
		}
		metrics.TileCacheMisses.Inc()
		return CacheOutcome{}
	}
	metrics.TileCacheHits.Inc()
	return CacheOutcome{Tile: tile, Hit: true}
}

func (r *Resolver) match(ctx context.Context, req TileRequest) MatchOutcome {
	if req.ProjectID != "" {
		entry, err := r.catalog.Get(ctx, req.ProjectID)
		switch {
		case err == nil:
			if m, ok := matchLayer(req.Layer, []*domain.CatalogEntry{entry}); ok {
				return MatchOutcome{Match: m, Found: true}
			}
		case !errors.Is(err, domain.ErrNotFound):
			return MatchOutcome{Err: err}
		}
	}

	ids, err := r.catalog.ListProjectIDs(ctx)
	if err != nil {
		return MatchOutcome{Err: err}
	}
	entries := make([]*domain.CatalogEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := r.catalog.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return MatchOutcome{Err: err}
		}
		entries = append(entries, entry)
	}

	m, ok := matchLayer(req.Identifier(), entries)
	return MatchOutcome{Match: m, Found: ok}
}

func (r *Resolver) fallback(ctx context.Context, req TileRequest, reason string) Tile {
	palette := ChoosePalette(req.Identifier())
	metrics.TileFallbacks.WithLabelValues(reason, string(palette)).Inc()
	logging.FromContext(ctx).Debug().
		Str("layer", req.Identifier()).
		Str("reason", reason).
		Str("palette", string(palette)).
		Msg("serving fallback tile")
	return r.served(Tile{
		Data:        FallbackTile(palette),
		ContentType: "image/png",
		Source:      SourceFallback,
		Reason:      reason,
	})
}

func (r *Resolver) served(t Tile) Tile {
	metrics.TileResponses.WithLabelValues(t.Source).Inc()
	return t
}

// ExpandTemplate substitutes {z}, {x}, {y} and the TMS row {-y}.
func ExpandTemplate(tmpl string, z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{-y}", strconv.Itoa((1<<uint(z))-1-y),
	).Replace(tmpl)
}
