package service

import (
	"context"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr      *miniredis.Miniredis
	catalog *repository.CatalogRepository
	tiles   *repository.TileCacheRepository
	svc     *LifecycleService
}

func setupTestService(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	catalog := repository.NewCatalogRepository(client, time.Hour)
	tiles := repository.NewTileCacheRepository(client)
	return &fixture{
		mr:      mr,
		catalog: catalog,
		tiles:   tiles,
		svc:     NewLifecycleService(catalog, tiles, Options{}),
	}
}

var demoBBox = &domain.BBox{MinX: 109.5, MinY: -1.5, MaxX: 110.5, MaxY: -0.5}

func registration(id, name string, bbox *domain.BBox) *domain.RegistrationRequest {
	return &domain.RegistrationRequest{
		ProjectID:   id,
		ProjectName: name,
		Layers: domain.LayerList{
			{Name: "ndvi", TileURLTemplate: "https://x/tiles/{z}/{x}/{y}"},
		},
		AnalysisInfo: &domain.AnalysisInfoPayload{AOI: &domain.AOI{BBox: bbox}},
	}
}

func (f *fixture) cacheTile(t *testing.T, projectID, layer string) string {
	key := repository.TileKey(projectID, layer, 5, 10, 12)
	require.NoError(t, f.tiles.Set(context.Background(), key, &domain.CachedTile{Data: []byte{1}, ContentType: "image/png"}, time.Minute))
	return key
}

func TestRegisterOrUpdate(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	res, err := f.svc.RegisterOrUpdate(ctx, registration("demo", "demo", demoBBox))
	require.NoError(t, err)
	assert.Equal(t, 1, res.LayerCount)
	assert.True(t, res.Created)
	assert.Equal(t, []string{"catalog_layer:demo:ndvi"}, res.CacheKeys)

	entry, err := f.svc.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, entry.Status)
	require.NotNil(t, entry.AOI.Center)
	assert.InDelta(t, 110, entry.AOI.Center.Lon, 1e-9)

	t.Run("update keeps creation time", func(t *testing.T) {
		res, err := f.svc.RegisterOrUpdate(ctx, registration("demo", "demo", demoBBox))
		require.NoError(t, err)
		assert.False(t, res.Created)

		again, err := f.svc.Get(ctx, "demo")
		require.NoError(t, err)
		assert.Equal(t, entry.CreatedAt.Unix(), again.CreatedAt.Unix())
	})

	t.Run("changed template evicts the layer tiles", func(t *testing.T) {
		key := f.cacheTile(t, "demo", "ndvi")
		req := registration("demo", "demo", demoBBox)
		req.Layers[0].TileURLTemplate = "https://y/tiles/{z}/{x}/{y}"
		_, err := f.svc.RegisterOrUpdate(ctx, req)
		require.NoError(t, err)
		assert.False(t, f.mr.Exists(key))
	})
}

func TestRegisterOrUpdate_Validation(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   *domain.RegistrationRequest
		field string
	}{
		{"missing project id", registration("  ", "demo", nil), "projectId"},
		{"no layers", &domain.RegistrationRequest{ProjectID: "demo"}, "layers"},
		{"layer without template", &domain.RegistrationRequest{
			ProjectID: "demo",
			Layers:    domain.LayerList{{Name: "ndvi"}},
		}, "layers[0].tileUrlTemplate"},
		{"duplicate layer name", &domain.RegistrationRequest{
			ProjectID: "demo",
			Layers: domain.LayerList{
				{Name: "ndvi", TileURLTemplate: "https://a/{z}/{x}/{y}"},
				{Name: "ndvi", TileURLTemplate: "https://b/{z}/{x}/{y}"},
			},
		}, "layers[1].name"},
		{"names collide after normalization", &domain.RegistrationRequest{
			ProjectID: "demo",
			Layers: domain.LayerList{
				{Name: "ndvi", TileURLTemplate: "https://a/{z}/{x}/{y}"},
				{Name: "ndvi!", TileURLTemplate: "https://b/{z}/{x}/{y}"},
			},
		}, "layers[1].name"},
		{"name without identifier characters", &domain.RegistrationRequest{
			ProjectID: "demo",
			Layers:    domain.LayerList{{Name: "!!", TileURLTemplate: "https://a/{z}/{x}/{y}"}},
		}, "layers[0].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RegisterOrUpdate(ctx, tt.req)
			require.Error(t, err)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestComputeAOISignature(t *testing.T) {
	a := domain.AOI{BBox: &domain.BBox{MinX: 109.5, MinY: -1.5, MaxX: 110.5, MaxY: -0.5}}
	b := domain.AOI{BBox: &domain.BBox{MinX: 110.5000000001, MinY: -0.5, MaxX: 109.4999999999, MaxY: -1.5}}
	assert.Equal(t, ComputeAOISignature(a), ComputeAOISignature(b))
	assert.Equal(t, "bbox:109.500000,-1.500000,110.500000,-0.500000", ComputeAOISignature(a))

	c := domain.AOI{BBox: &domain.BBox{MinX: 109.50001, MinY: -1.5, MaxX: 110.5, MaxY: -0.5}}
	assert.NotEqual(t, ComputeAOISignature(a), ComputeAOISignature(c))

	assert.Equal(t, "center:0.000000,1.000000", ComputeAOISignature(domain.AOI{Center: &domain.Point{Lon: -0.0000001, Lat: 1}}))
	assert.Equal(t, "unknown", ComputeAOISignature(domain.AOI{}))
}

func TestClearDuplicates_CaseInsensitiveName(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	_, err := f.svc.RegisterOrUpdate(ctx, registration("demo-1", "Demo", demoBBox))
	require.NoError(t, err)
	tileKey := f.cacheTile(t, "demo-1", "ndvi")

	res, err := f.svc.RegisterOrUpdate(ctx, registration("demo-2", "demo", demoBBox))
	require.NoError(t, err)
	assert.Equal(t, []string{"demo-1"}, res.DuplicatesRemoved)

	ids, err := f.catalog.ListProjectIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo-2"}, ids)

	entry, err := f.svc.Get(ctx, "demo-2")
	require.NoError(t, err)
	assert.Equal(t, "demo", entry.ProjectName)

	assert.False(t, f.mr.Exists(tileKey))
	assert.False(t, f.mr.Exists("catalog_layer:demo-1:ndvi"))
	assert.False(t, f.mr.Exists("project:demo-1"))
}

func TestClearDuplicates_KeepsWhenEitherFieldDiffers(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()
	otherBBox := &domain.BBox{MinX: 10, MinY: 10, MaxX: 11, MaxY: 11}

	_, err := f.svc.RegisterOrUpdate(ctx, registration("same-name", "demo", otherBBox))
	require.NoError(t, err)
	_, err = f.svc.RegisterOrUpdate(ctx, registration("same-area", "other", demoBBox))
	require.NoError(t, err)
	_, err = f.svc.RegisterOrUpdate(ctx, registration("no-aoi", "demo", nil))
	require.NoError(t, err)

	res, err := f.svc.ClearDuplicates(ctx, "demo", domain.AOI{BBox: demoBBox}, "new")
	require.NoError(t, err)
	assert.Empty(t, res.Removed)
	assert.ElementsMatch(t, []string{"same-name", "same-area", "no-aoi"}, res.Kept)

	ids, err := f.catalog.ListProjectIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestClearByCategory(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	_, err := f.svc.RegisterOrUpdate(ctx, registration("demo", "demo", demoBBox))
	require.NoError(t, err)
	f.cacheTile(t, "demo", "ndvi")

	res, err := f.svc.ClearByCategory(ctx, "tiles")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.True(t, f.mr.Exists("catalog:demo"))

	res, err = f.svc.ClearByCategory(ctx, "layers")
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog_layer:demo:ndvi"}, res.Keys)

	res, err = f.svc.ClearByCategory(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, CategoryAll, res.Category)
	assert.ElementsMatch(t, []string{"catalog:demo", "catalog_index", "project:demo"}, res.Keys)

	_, err = f.svc.ClearByCategory(ctx, "everything")
	assert.True(t, domain.IsValidation(err))
}

func TestClearProjectAndStatus(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	_, err := f.svc.RegisterOrUpdate(ctx, registration("demo", "demo", demoBBox))
	require.NoError(t, err)
	_, err = f.svc.RegisterOrUpdate(ctx, registration("demo2", "second", demoBBox))
	require.NoError(t, err)
	f.cacheTile(t, "demo", "ndvi")
	kept := f.cacheTile(t, "demo2", "ndvi")

	st, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Counts["tiles"])
	assert.Equal(t, 2, st.Counts["catalogs"])
	assert.Equal(t, 2, st.Counts["layers"])
	assert.Equal(t, 2, st.Counts["indexed"])
	assert.Equal(t, "1h0m0s", st.TileCacheTTL)

	res, err := f.svc.ClearProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.True(t, f.mr.Exists(kept))
}

func TestConverge(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		entry := &domain.CatalogEntry{
			ProjectID:   id,
			ProjectName: "Demo",
			AOI:         domain.AOI{BBox: demoBBox},
			UpdatedAt:   old.Add(time.Duration(i) * time.Hour),
			Status:      domain.StatusActive,
			Layers:      map[string]domain.LayerDescriptor{"ndvi": {Name: "ndvi", TileURLTemplate: "u"}},
		}
		require.NoError(t, f.catalog.Register(ctx, entry))
	}
	lone := &domain.CatalogEntry{ProjectID: "z", ProjectName: "other", Status: domain.StatusActive}
	require.NoError(t, f.catalog.Register(ctx, lone))

	res, err := f.svc.Converge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, []string{"a", "b"}, res.Removed)

	ids, err := f.catalog.ListProjectIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "z"}, ids)
}

func TestGetLayer(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()
	_, err := f.svc.RegisterOrUpdate(ctx, registration("demo", "demo", demoBBox))
	require.NoError(t, err)

	layer, err := f.svc.GetLayer(ctx, "demo", "ndvi")
	require.NoError(t, err)
	assert.Equal(t, "https://x/tiles/{z}/{x}/{y}", layer.TileURLTemplate)

	_, err = f.svc.GetLayer(ctx, "demo", "rgb")
	assert.ErrorIs(t, err, domain.ErrLayerNotFound)

	_, err = f.svc.ClearByCategory(ctx, CategoryCatalogs)
	require.NoError(t, err)
	_, err = f.svc.GetLayer(ctx, "demo", "ndvi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
