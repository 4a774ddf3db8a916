package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/config"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/bootstrap"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/service"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
)

const usage = "usage: worker converge | clear [all|tiles|catalogs|projects|layers] | clear-project <projectId> | status"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.App.LogLevel, Format: "console"})
	log := logging.Component("worker")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := bootstrap.OpenRedis(ctx, bootstrap.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer client.Close()

	lifecycle := service.NewLifecycleService(
		repository.NewCatalogRepository(client, cfg.Catalog.CatalogTTL),
		repository.NewTileCacheRepository(client),
		service.Options{CatalogTTL: cfg.Catalog.CatalogTTL, TileCacheTTL: cfg.Catalog.TileCacheTTL},
	)

	out, err := run(ctx, lifecycle, os.Args[1], os.Args[2:])
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("encode result")
	}
}
