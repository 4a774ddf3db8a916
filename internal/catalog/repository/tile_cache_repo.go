package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTileTTL = time.Hour

	fieldContentType = "content_type"
	fieldData        = "data"

	scanCount   = 500
	deleteBatch = 500
)

// TileCacheRepository stores rendered tiles as hashes and owns the prefix
// scans used for bulk eviction.
type TileCacheRepository struct {
	client *redis.Client
}

func NewTileCacheRepository(client *redis.Client) *TileCacheRepository {
	return &TileCacheRepository{client: client}
}

// Get returns the cached tile or domain.ErrNotFound.
func (r *TileCacheRepository) Get(ctx context.Context, key string) (*domain.CachedTile, error) {
	vals, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get tile: %w", err)
	}
	data, ok := vals[fieldData]
	if !ok || len(data) == 0 {
		return nil, domain.ErrNotFound
	}
	return &domain.CachedTile{Data: []byte(data), ContentType: vals[fieldContentType]}, nil
}

// Set writes the tile and its expiry in one transaction.
func (r *TileCacheRepository) Set(ctx context.Context, key string, tile *domain.CachedTile, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTileTTL
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldContentType, tile.ContentType, fieldData, tile.Data)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache tile: %w", err)
	}
	return nil
}

// DeleteMatching removes every key starting with prefix and returns the removed keys.
func (r *TileCacheRepository) DeleteMatching(ctx context.Context, prefix string) ([]string, error) {
	var (
		removed []string
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		removed = append(removed, batch...)
		batch = batch[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, matchPattern(prefix), scanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= deleteBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// CountMatching counts keys starting with prefix.
func (r *TileCacheRepository) CountMatching(ctx context.Context, prefix string) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, matchPattern(prefix), scanCount).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	return n, nil
}
