package service

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", SniffContentType([]byte{0xFF, 0xD8, 0xFF, 0xE0}))
	assert.Equal(t, "image/png", SniffContentType([]byte("\x89PNG\r\n")))
	assert.Equal(t, "image/gif", SniffContentType([]byte("GIF89a")))
	assert.Equal(t, "image/png", SniffContentType([]byte("<html>")))
	assert.Equal(t, "image/png", SniffContentType(nil))
}

func TestFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			w.Write([]byte("GIF89a...."))
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Timeout: 100 * time.Millisecond, Client: &http.Client{}})
	ctx := context.Background()

	out := f.Fetch(ctx, srv.URL+"/ok")
	require.True(t, out.OK())
	assert.Equal(t, "image/gif", out.ContentType)

	tests := []struct {
		path string
		kind string
	}{
		{"/missing", KindStatus},
		{"/empty", KindEmpty},
		{"/slow", KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			out := f.Fetch(ctx, srv.URL+tt.path)
			require.False(t, out.OK())
			var ue *UpstreamFetchError
			require.ErrorAs(t, out.Err, &ue)
			assert.Equal(t, tt.kind, ue.Kind)
		})
	}

	t.Run("bad url", func(t *testing.T) {
		out := f.Fetch(ctx, "not a url")
		var ue *UpstreamFetchError
		require.ErrorAs(t, out.Err, &ue)
		assert.Equal(t, KindBadURL, ue.Kind)
	})
}

func TestFetcher_TimeoutIgnoresClientCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write(fakePNG)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.Fetch(ctx, srv.URL+"/t")
	require.True(t, out.OK(), "fetch should outlive a cancelled caller: %v", out.Err)
	assert.Equal(t, fakePNG, out.Data)
}

func TestFetcher_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Timeout: time.Second})
	for i := 0; i < 5; i++ {
		f.Fetch(context.Background(), srv.URL+"/x")
	}
	out := f.Fetch(context.Background(), srv.URL+"/x")
	var ue *UpstreamFetchError
	require.ErrorAs(t, out.Err, &ue)
	assert.Equal(t, KindCircuitOpen, ue.Kind)
	assert.Equal(t, int32(5), hits.Load())
}

func TestFetcher_SharesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(fakePNG)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{Timeout: 5 * time.Second})
	var wg sync.WaitGroup
	results := make([]FetchOutcome, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Fetch(context.Background(), srv.URL+"/same")
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results {
		assert.True(t, r.OK())
	}
}

func TestFallbackTile(t *testing.T) {
	assert.Equal(t, PaletteVegetation, ChoosePalette("demo_NDVI"))
	assert.Equal(t, PaletteWater, ChoosePalette("lake_extent"))
	assert.Equal(t, PaletteImagery, ChoosePalette("Sentinel2_TrueColor"))
	assert.Equal(t, PaletteDefault, ChoosePalette("something"))
	assert.Equal(t, PaletteVegetation, ChoosePalette("ndvi_water"))

	for _, p := range []Palette{PaletteVegetation, PaletteWater, PaletteImagery, PaletteDefault, PaletteGray} {
		data := FallbackTile(p)
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err, p)
		assert.Equal(t, 256, img.Bounds().Dx())
		assert.Equal(t, 256, img.Bounds().Dy())
	}

	assert.NotEqual(t, FallbackTile(PaletteVegetation), FallbackTile(PaletteWater))

	t.Run("unknown palette degrades to gray", func(t *testing.T) {
		assert.Equal(t, FallbackTile(PaletteGray), FallbackTile(Palette("nope")))
	})
}
