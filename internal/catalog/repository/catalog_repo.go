package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultCatalogTTL = 7 * 24 * time.Hour

// CatalogRepository handles Redis operations for catalog entries
type CatalogRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCatalogRepository creates a new CatalogRepository. A zero ttl uses DefaultCatalogTTL.
func NewCatalogRepository(client *redis.Client, ttl time.Duration) *CatalogRepository {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CatalogRepository{client: client, ttl: ttl}
}

// Register upserts an entry, its layers and project metadata, refreshing every TTL.
func (r *CatalogRepository) Register(ctx context.Context, entry *domain.CatalogEntry) error {
	if entry.ProjectID == "" {
		return domain.NewValidationError("projectId", "is required")
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = now
	}

	entryData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog entry: %w", err)
	}
	projectData, err := json.Marshal(domain.ProjectRecord{
		ProjectID:   entry.ProjectID,
		ProjectName: entry.ProjectName,
		Status:      entry.Status,
		CreatedAt:   entry.CreatedAt,
		UpdatedAt:   entry.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal project record: %w", err)
	}

	// Layers dropped by this update would otherwise linger until their TTL.
	var stale []string
	if prev, err := r.Get(ctx, entry.ProjectID); err == nil {
		for name := range prev.Layers {
			if _, ok := entry.Layers[name]; !ok {
				stale = append(stale, LayerKey(entry.ProjectID, name))
			}
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, CatalogKey(entry.ProjectID), entryData, r.ttl)
	pipe.Set(ctx, ProjectKey(entry.ProjectID), projectData, r.ttl)
	for name, layer := range entry.Layers {
		layerData, err := json.Marshal(layer)
		if err != nil {
			return fmt.Errorf("failed to marshal layer %s: %w", name, err)
		}
		pipe.Set(ctx, LayerKey(entry.ProjectID, name), layerData, r.ttl)
	}
	if len(stale) > 0 {
		pipe.Del(ctx, stale...)
	}
	pipe.SAdd(ctx, CatalogIndexKey, entry.ProjectID)
	pipe.Expire(ctx, CatalogIndexKey, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register catalog entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by project id
func (r *CatalogRepository) Get(ctx context.Context, projectID string) (*domain.CatalogEntry, error) {
	data, err := r.client.Get(ctx, CatalogKey(projectID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog entry: %w", err)
	}

	var entry domain.CatalogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog entry: %w", err)
	}
	if entry.Layers == nil {
		entry.Layers = map[string]domain.LayerDescriptor{}
	}
	return &entry, nil
}

// GetLayer reads a single layer descriptor without loading the whole entry.
func (r *CatalogRepository) GetLayer(ctx context.Context, projectID, layer string) (*domain.LayerDescriptor, error) {
	data, err := r.client.Get(ctx, LayerKey(projectID, layer)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrLayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get layer: %w", err)
	}
	var desc domain.LayerDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layer: %w", err)
	}
	return &desc, nil
}

// ListProjectIDs returns every indexed project id in sorted order.
func (r *CatalogRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, CatalogIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list project ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListEntries loads every indexed entry. Ids whose entry has expired are
// dropped from the index as a side effect.
func (r *CatalogRepository) ListEntries(ctx context.Context) ([]*domain.CatalogEntry, error) {
	ids, err := r.ListProjectIDs(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.CatalogEntry, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if len(expired) > 0 {
		r.client.SRem(ctx, CatalogIndexKey, expired...)
	}
	return entries, nil
}

// List returns lightweight summaries of every entry
func (r *CatalogRepository) List(ctx context.Context) ([]domain.CatalogSummary, error) {
	entries, err := r.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CatalogSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Summary())
	}
	return out, nil
}

// Delete removes an entry, its layer keys, project metadata and index membership,
// returning the keys that were removed.
func (r *CatalogRepository) Delete(ctx context.Context, projectID string) ([]string, error) {
	keys := []string{CatalogKey(projectID), ProjectKey(projectID)}
	entry, err := r.Get(ctx, projectID)
	switch {
	case err == nil:
		for _, name := range entry.LayerNames() {
			keys = append(keys, LayerKey(projectID, name))
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	pipe := r.client.TxPipeline()
	counts := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		counts[i] = pipe.Del(ctx, k)
	}
	pipe.SRem(ctx, CatalogIndexKey, projectID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to delete catalog entry: %w", err)
	}

	removed := make([]string, 0, len(keys))
	for i, c := range counts {
		if c.Val() > 0 {
			removed = append(removed, keys[i])
		}
	}
	return removed, nil
}
