package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CAPABILITIES_MODE", "")
	t.Setenv("TILE_CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, time.Hour, cfg.Catalog.TileCacheTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Catalog.CatalogTTL)
	assert.Equal(t, CapabilitiesLatest, cfg.Catalog.CapabilitiesMode)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://maps.example.org/")
	t.Setenv("UPSTREAM_TIMEOUT", "5")
	t.Setenv("TILE_CACHE_TTL", "15m")
	t.Setenv("CAPABILITIES_MODE", "ALL")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "https://maps.example.org", cfg.Server.PublicBaseURL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Catalog.TileCacheTTL)
	assert.Equal(t, CapabilitiesAll, cfg.Catalog.CapabilitiesMode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoad_InvalidCapabilitiesMode(t *testing.T) {
	t.Setenv("CAPABILITIES_MODE", "some")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAPABILITIES_MODE")
}

func TestGetEnvAsDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("SOME_DURATION", time.Minute))
}
