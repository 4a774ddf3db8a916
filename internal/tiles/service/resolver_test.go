package service

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nupstream-tile")

type upstream struct {
	srv    *httptest.Server
	hits   atomic.Int32
	paths  chan string
	status atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{paths: make(chan string, 16)}
	u.status.Store(http.StatusOK)
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		select {
		case u.paths <- r.URL.Path:
		default:
		}
		if code := int(u.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Write(fakePNG)
	}))
	t.Cleanup(u.srv.Close)
	return u
}

type resolverFixture struct {
	mr       *miniredis.Miniredis
	catalog  *repository.CatalogRepository
	resolver *Resolver
	up       *upstream
}

func setupResolver(t *testing.T) *resolverFixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	catalog := repository.NewCatalogRepository(client, time.Hour)
	cache := repository.NewTileCacheRepository(client)
	fetcher := NewFetcher(FetcherOptions{Timeout: 2 * time.Second})
	return &resolverFixture{
		mr:       mr,
		catalog:  catalog,
		resolver: NewResolver(catalog, cache, fetcher, time.Hour),
		up:       newUpstream(t),
	}
}

func (f *resolverFixture) register(t *testing.T, projectID string, layers map[string]string) {
	entry := &domain.CatalogEntry{
		ProjectID:   projectID,
		ProjectName: projectID,
		Status:      domain.StatusActive,
		AOI:         domain.AOI{BBox: &domain.BBox{MinX: 109.5, MinY: -1.5, MaxX: 110.5, MaxY: -0.5}},
		Layers:      map[string]domain.LayerDescriptor{},
	}
	for name, path := range layers {
		entry.Layers[name] = domain.LayerDescriptor{Name: name, TileURLTemplate: f.up.srv.URL + path}
	}
	require.NoError(t, f.catalog.Register(context.Background(), entry))
}

func TestResolveTile_DemoScenario(t *testing.T) {
	f := setupResolver(t)
	f.register(t, "demo", map[string]string{"ndvi": "/tiles/{z}/{x}/{y}"})
	ctx := context.Background()

	tile := f.resolver.ResolveTile(ctx, TileRequest{Layer: "demo_ndvi", Z: 5, X: 10, Y: 12})
	assert.Equal(t, SourceUpstream, tile.Source)
	assert.Equal(t, fakePNG, tile.Data)
	assert.Equal(t, "image/png", tile.ContentType)
	assert.Equal(t, "/tiles/5/10/12", <-f.up.paths)
	assert.True(t, f.mr.Exists("tile_cache:demo:ndvi:5:10:12"))

	again := f.resolver.ResolveTile(ctx, TileRequest{Layer: "demo_ndvi", Z: 5, X: 10, Y: 12})
	assert.Equal(t, SourceCache, again.Source)
	assert.Equal(t, tile.Data, again.Data)
	assert.Equal(t, int32(1), f.up.hits.Load())
}

func TestResolveTile_ExplicitProject(t *testing.T) {
	f := setupResolver(t)
	f.register(t, "demo", map[string]string{"NDVI Mean": "/mean/{z}/{x}/{y}"})

	tile := f.resolver.ResolveTile(context.Background(), TileRequest{ProjectID: "demo", Layer: "NDVIMean", Z: 3, X: 1, Y: 2})
	assert.Equal(t, SourceUpstream, tile.Source)
	assert.Equal(t, "/mean/3/1/2", <-f.up.paths)
	assert.True(t, f.mr.Exists("tile_cache:demo:NDVI Mean:3:1:2"))
}

func TestResolveTile_SecondCacheLookupUsesMatchedKey(t *testing.T) {
	f := setupResolver(t)
	f.register(t, "demo", map[string]string{"ndvi": "/tiles/{z}/{x}/{y}"})
	ctx := context.Background()

	first := f.resolver.ResolveTile(ctx, TileRequest{Layer: "ndvi", Z: 2, X: 1, Y: 1})
	require.Equal(t, SourceUpstream, first.Source)

	second := f.resolver.ResolveTile(ctx, TileRequest{Layer: "ndvi", Z: 2, X: 1, Y: 1})
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, int32(1), f.up.hits.Load())
}

func TestResolveTile_Fallbacks(t *testing.T) {
	f := setupResolver(t)
	f.register(t, "demo", map[string]string{"ndvi": "/tiles/{z}/{x}/{y}"})
	ctx := context.Background()

	t.Run("upstream error", func(t *testing.T) {
		f.up.status.Store(http.StatusInternalServerError)
		defer f.up.status.Store(http.StatusOK)

		tile := f.resolver.ResolveTile(ctx, TileRequest{Layer: "demo_ndvi", Z: 4, X: 3, Y: 3})
		assert.Equal(t, SourceFallback, tile.Source)
		assert.Equal(t, ReasonFetch, tile.Reason)
		assert.Equal(t, FallbackTile(PaletteVegetation), tile.Data)
		assert.False(t, f.mr.Exists("tile_cache:demo:ndvi:4:3:3"))
	})

	t.Run("no match", func(t *testing.T) {
		tile := f.resolver.ResolveTile(ctx, TileRequest{Layer: "other_flood_extent", Z: 1, X: 0, Y: 0})
		assert.Equal(t, SourceFallback, tile.Source)
		assert.Equal(t, ReasonNoMatch, tile.Reason)
		assert.Equal(t, FallbackTile(PaletteWater), tile.Data)
	})

	t.Run("out of range", func(t *testing.T) {
		tile := f.resolver.ResolveTile(ctx, TileRequest{Layer: "demo_ndvi", Z: 2, X: 9, Y: 0})
		assert.Equal(t, ReasonOutOfRange, tile.Reason)
		img, err := png.Decode(bytes.NewReader(tile.Data))
		require.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
	})

	t.Run("catalog down", func(t *testing.T) {
		f.mr.SetError("LOADING")
		defer f.mr.SetError("")

		tile := f.resolver.ResolveTile(ctx, TileRequest{Layer: "demo_rgb", Z: 1, X: 0, Y: 0})
		assert.Equal(t, SourceFallback, tile.Source)
		assert.Equal(t, ReasonCatalog, tile.Reason)
		assert.Equal(t, "image/png", tile.ContentType)
	})
}

func TestExpandTemplate(t *testing.T) {
	assert.Equal(t, "https://x/tiles/5/10/12", ExpandTemplate("https://x/tiles/{z}/{x}/{y}", 5, 10, 12))
	assert.Equal(t, "https://x/5/10/19", ExpandTemplate("https://x/{z}/{x}/{-y}", 5, 10, 12))
}
