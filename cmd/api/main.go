package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/config"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/api/http/routes"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/bootstrap"
	cataloghttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/http"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	catalogservice "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/service"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc/capabilities"
	ogchttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/ogc/http"
	tileshttp "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/http"
	tileservice "github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tiles/service"
)

const serviceName = "geo-tile-gateway"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})
	log := logging.Component("main")
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := bootstrap.OpenRedis(ctx, bootstrap.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
	}
	defer client.Close()

	catalogRepo := repository.NewCatalogRepository(client, cfg.Catalog.CatalogTTL)
	tileRepo := repository.NewTileCacheRepository(client)

	lifecycle := catalogservice.NewLifecycleService(catalogRepo, tileRepo, catalogservice.Options{
		CatalogTTL:   cfg.Catalog.CatalogTTL,
		TileCacheTTL: cfg.Catalog.TileCacheTTL,
	})
	fetcher := tileservice.NewFetcher(tileservice.FetcherOptions{
		Timeout:   cfg.Upstream.Timeout,
		RateLimit: cfg.Upstream.RateLimit,
		Burst:     cfg.Upstream.Burst,
	})
	resolver := tileservice.NewResolver(catalogRepo, tileRepo, fetcher, cfg.Catalog.TileCacheTTL)
	docs := capabilities.NewBuilder(catalogRepo, capabilities.Options{Mode: cfg.Catalog.CapabilitiesMode})

	scheduler := catalogservice.NewScheduler(lifecycle, cfg.Catalog.ConvergeSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Catalog.ConvergeSchedule).Msg("failed to start catalog sweeper")
	}
	defer scheduler.Stop()

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Store:       client,
		Gateway: routes.GatewayDeps{
			Catalog: cataloghttp.New(lifecycle),
			Tiles:   tileshttp.New(resolver),
			OGC:     ogchttp.New(docs, resolver, cfg.Server.PublicBaseURL),
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.App.Environment).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
