package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/repository"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/metrics"
	"github.com/go-playground/validator/v10"
)

// CatalogStore is the subset of the catalog repository the lifecycle manager uses.
type CatalogStore interface {
	Register(ctx context.Context, entry *domain.CatalogEntry) error
	Get(ctx context.Context, projectID string) (*domain.CatalogEntry, error)
	GetLayer(ctx context.Context, projectID, layer string) (*domain.LayerDescriptor, error)
	List(ctx context.Context) ([]domain.CatalogSummary, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, projectID string) ([]string, error)
}

// TileCache is keyed tile storage with prefix eviction.
type TileCache interface {
	Get(ctx context.Context, key string) (*domain.CachedTile, error)
	Set(ctx context.Context, key string, tile *domain.CachedTile, ttl time.Duration) error
	DeleteMatching(ctx context.Context, prefix string) ([]string, error)
	CountMatching(ctx context.Context, prefix string) (int, error)
}

// Cache categories accepted by ClearByCategory
const (
	CategoryAll      = "all"
	CategoryTiles    = "tiles"
	CategoryCatalogs = "catalogs"
	CategoryProjects = "projects"
	CategoryLayers   = "layers"
)

var categoryPrefixes = map[string][]string{
	CategoryTiles:    {repository.TileCacheKeyPrefix},
	CategoryCatalogs: {repository.CatalogKeyPrefix, repository.CatalogIndexKey},
	CategoryProjects: {repository.ProjectKeyPrefix},
	CategoryLayers:   {repository.LayerKeyPrefix},
	CategoryAll: {
		repository.TileCacheKeyPrefix,
		repository.CatalogKeyPrefix,
		repository.CatalogIndexKey,
		repository.ProjectKeyPrefix,
		repository.LayerKeyPrefix,
	},
}

// Options configures the lifecycle manager
type Options struct {
	CatalogTTL   time.Duration
	TileCacheTTL time.Duration
}

// RegistrationResult is returned by RegisterOrUpdate
type RegistrationResult struct {
	ProjectID         string   `json:"projectId"`
	ProjectName       string   `json:"projectName"`
	LayerCount        int      `json:"layerCount"`
	Layers            []string `json:"layers"`
	CacheKeys         []string `json:"cacheKeys"`
	Created           bool     `json:"created"`
	DuplicatesRemoved []string `json:"duplicatesRemoved"`
}

// DedupResult is returned by ClearDuplicates
type DedupResult struct {
	Removed     []string `json:"removed"`
	Kept        []string `json:"kept"`
	RemovedKeys []string `json:"removedKeys"`
}

// ClearResult is returned by the cache clearing operations
type ClearResult struct {
	Category string   `json:"cacheType"`
	Count    int      `json:"count"`
	Keys     []string `json:"keys"`
}

// CacheStatus reports per-namespace key counts
type CacheStatus struct {
	Counts       map[string]int `json:"counts"`
	Projects     []string       `json:"projects"`
	CatalogTTL   string         `json:"catalogTtl"`
	TileCacheTTL string         `json:"tileCacheTtl"`
}

// ConvergeResult is returned by Converge
type ConvergeResult struct {
	Groups  int      `json:"groups"`
	Removed []string `json:"removed"`
}

// LifecycleService handles registration, de-duplication and eviction of catalog entries
type LifecycleService struct {
	catalog  CatalogStore
	tiles    TileCache
	opts     Options
	validate *validator.Validate
	now      func() time.Time
}

// NewLifecycleService creates a new LifecycleService
func NewLifecycleService(catalog CatalogStore, tiles TileCache, opts Options) *LifecycleService {
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = repository.DefaultCatalogTTL
	}
	if opts.TileCacheTTL <= 0 {
		opts.TileCacheTTL = repository.DefaultTileTTL
	}
	return &LifecycleService{
		catalog:  catalog,
		tiles:    tiles,
		opts:     opts,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterOrUpdate validates the request, removes entries registered earlier
// for the same name and area, and upserts the entry.
func (s *LifecycleService) RegisterOrUpdate(ctx context.Context, req *domain.RegistrationRequest) (*RegistrationResult, error) {
	log := logging.FromContext(ctx)

	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if err := s.validateRequest(req); err != nil {
		metrics.CatalogRegistrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	aoi := req.ResolvedAOI()
	name := req.DisplayName()

	dedup, err := s.ClearDuplicates(ctx, name, aoi, req.ProjectID)
	if err != nil {
		metrics.CatalogRegistrations.WithLabelValues("error").Inc()
		return nil, err
	}

	now := s.now()
	entry := &domain.CatalogEntry{
		ProjectID:   req.ProjectID,
		ProjectName: name,
		AOI:         aoi,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      domain.StatusActive,
		Layers:      make(map[string]domain.LayerDescriptor, len(req.Layers)),
	}
	if req.AnalysisInfo != nil {
		info := req.AnalysisInfo.AnalysisInfo
		entry.AnalysisInfo = &info
	}
	for _, l := range req.Layers {
		entry.Layers[l.Name] = domain.LayerDescriptor{
			Name:            l.Name,
			Title:           l.Title,
			Description:     l.Description,
			TileURLTemplate: l.TileURLTemplate,
			VisParams:       l.VisParams,
		}
	}

	created := true
	prev, err := s.catalog.Get(ctx, req.ProjectID)
	switch {
	case err == nil:
		created = false
		entry.CreatedAt = prev.CreatedAt
		s.evictChangedLayers(ctx, prev, entry)
	case !errors.Is(err, domain.ErrNotFound):
		metrics.CatalogRegistrations.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.catalog.Register(ctx, entry); err != nil {
		metrics.CatalogRegistrations.WithLabelValues("error").Inc()
		return nil, err
	}

	res := &RegistrationResult{
		ProjectID:         entry.ProjectID,
		ProjectName:       entry.ProjectName,
		LayerCount:        len(entry.Layers),
		Layers:            entry.LayerNames(),
		Created:           created,
		DuplicatesRemoved: dedup.Removed,
	}
	for _, layer := range res.Layers {
		res.CacheKeys = append(res.CacheKeys, repository.LayerKey(entry.ProjectID, layer))
	}

	result := "updated"
	if created {
		result = "created"
	}
	metrics.CatalogRegistrations.WithLabelValues(result).Inc()
	log.Info().
		Str("project_id", entry.ProjectID).
		Str("project_name", entry.ProjectName).
		Int("layers", res.LayerCount).
		Bool("created", created).
		Int("duplicates_removed", len(dedup.Removed)).
		Msg("catalog entry registered")

	return res, nil
}

func (s *LifecycleService) validateRequest(req *domain.RegistrationRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return validateLayerNames(req.Layers)
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("", "invalid registration: %v", err)
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return domain.NewValidationError(field, "is required")
	case "min":
		return domain.NewValidationError(field, "at least one layer is required")
	default:
		return domain.NewValidationError(field, "failed %s validation", fe.Tag())
	}
}

// validateLayerNames rejects layers that would share a key or a public identifier.
func validateLayerNames(layers domain.LayerList) error {
	byName := make(map[string]bool, len(layers))
	byIdent := make(map[string]string, len(layers))
	for i, l := range layers {
		field := fmt.Sprintf("layers[%d].name", i)
		if byName[l.Name] {
			return domain.NewValidationError(field, "duplicate layer name %q", l.Name)
		}
		byName[l.Name] = true

		ident := domain.NormalizeLayerName(l.Name)
		if ident == "" {
			return domain.NewValidationError(field, "layer name %q has no identifier characters", l.Name)
		}
		if other, ok := byIdent[ident]; ok {
			return domain.NewValidationError(field, "layer name %q collides with %q as identifier %q", l.Name, other, ident)
		}
		byIdent[ident] = l.Name
	}
	return nil
}

// evictChangedLayers drops cached tiles of layers whose template changed or disappeared.
func (s *LifecycleService) evictChangedLayers(ctx context.Context, prev, next *domain.CatalogEntry) {
	for name, old := range prev.Layers {
		if cur, ok := next.Layers[name]; ok && cur.TileURLTemplate == old.TileURLTemplate {
			continue
		}
		if _, err := s.tiles.DeleteMatching(ctx, repository.LayerTilePrefix(prev.ProjectID, name)); err != nil {
			logging.FromContext(ctx).Warn().Err(err).
				Str("project_id", prev.ProjectID).Str("layer", name).
				Msg("failed to evict tiles of changed layer")
		}
	}
}

// ComputeAOISignature fingerprints an AOI: the bbox rounded to 6 decimals
// with corners ordered, else the rounded center, else "unknown".
func ComputeAOISignature(aoi domain.AOI) string {
	if aoi.BBox != nil {
		b := aoi.BBox.Ordered()
		return fmt.Sprintf("bbox:%s,%s,%s,%s", round6(b.MinX), round6(b.MinY), round6(b.MaxX), round6(b.MaxY))
	}
	if aoi.Center != nil {
		return fmt.Sprintf("center:%s,%s", round6(aoi.Center.Lon), round6(aoi.Center.Lat))
	}
	return "unknown"
}

func round6(v float64) string {
	r := math.Round(v*1e6) / 1e6
	if r == 0 {
		r = 0 // drop negative zero
	}
	return fmt.Sprintf("%.6f", r)
}

func duplicateKey(name string, aoi domain.AOI) string {
	return strings.ToLower(name) + "|" + ComputeAOISignature(aoi)
}

// ClearDuplicates removes every entry other than keepProjectID whose lowercased
// name and AOI signature both equal the given ones. Other entries are reported
// as kept and never touched.
func (s *LifecycleService) ClearDuplicates(ctx context.Context, name string, aoi domain.AOI, keepProjectID string) (*DedupResult, error) {
	ids, err := s.catalog.ListProjectIDs(ctx)
	if err != nil {
		return nil, err
	}

	want := duplicateKey(name, aoi)
	res := &DedupResult{Removed: []string{}, Kept: []string{}, RemovedKeys: []string{}}
	for _, id := range ids {
		if id == keepProjectID {
			continue
		}
		entry, err := s.catalog.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if duplicateKey(entry.ProjectName, entry.AOI) != want {
			res.Kept = append(res.Kept, id)
			continue
		}

		keys, err := s.removeProject(ctx, id)
		if err != nil {
			return nil, err
		}
		res.Removed = append(res.Removed, id)
		res.RemovedKeys = append(res.RemovedKeys, keys...)
		metrics.CatalogDuplicatesRemoved.Inc()
		logging.FromContext(ctx).Info().
			Str("project_id", id).
			Str("project_name", entry.ProjectName).
			Str("kept_for", keepProjectID).
			Msg("removed duplicate catalog entry")
	}
	return res, nil
}

func (s *LifecycleService) removeProject(ctx context.Context, projectID string) ([]string, error) {
	keys, err := s.catalog.Delete(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", projectID, err)
	}
	tileKeys, err := s.tiles.DeleteMatching(ctx, repository.ProjectTilePrefix(projectID))
	if err != nil {
		return keys, fmt.Errorf("failed to evict tiles of %s: %w", projectID, err)
	}
	return append(keys, tileKeys...), nil
}

// ClearByCategory bulk deletes a key namespace. An empty category means all.
func (s *LifecycleService) ClearByCategory(ctx context.Context, category string) (*ClearResult, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = CategoryAll
	}
	prefixes, ok := categoryPrefixes[category]
	if !ok {
		return nil, domain.NewValidationError("cacheType", "unknown cache type %q", category)
	}

	res := &ClearResult{Category: category, Keys: []string{}}
	for _, prefix := range prefixes {
		keys, err := s.tiles.DeleteMatching(ctx, prefix)
		res.Keys = append(res.Keys, keys...)
		if err != nil {
			res.Count = len(res.Keys)
			return res, err
		}
	}
	res.Count = len(res.Keys)

	logging.FromContext(ctx).Info().Str("cache_type", category).Int("count", res.Count).Msg("cache cleared")
	return res, nil
}

// ClearProject evicts every cached tile of one project.
func (s *LifecycleService) ClearProject(ctx context.Context, projectID string) (*ClearResult, error) {
	keys, err := s.tiles.DeleteMatching(ctx, repository.ProjectTilePrefix(projectID))
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	logging.FromContext(ctx).Info().Str("project_id", projectID).Int("count", len(keys)).Msg("project tiles cleared")
	return &ClearResult{Category: CategoryTiles, Count: len(keys), Keys: keys}, nil
}

// Status reports per-namespace counts.
func (s *LifecycleService) Status(ctx context.Context) (*CacheStatus, error) {
	namespaces := []struct {
		name   string
		prefix string
	}{
		{CategoryTiles, repository.TileCacheKeyPrefix},
		{CategoryCatalogs, repository.CatalogKeyPrefix},
		{CategoryProjects, repository.ProjectKeyPrefix},
		{CategoryLayers, repository.LayerKeyPrefix},
	}

	st := &CacheStatus{
		Counts:       make(map[string]int, len(namespaces)+1),
		CatalogTTL:   s.opts.CatalogTTL.String(),
		TileCacheTTL: s.opts.TileCacheTTL.String(),
	}
	for _, ns := range namespaces {
		n, err := s.tiles.CountMatching(ctx, ns.prefix)
		if err != nil {
			return nil, err
		}
		st.Counts[ns.name] = n
	}

	ids, err := s.catalog.ListProjectIDs(ctx)
	if err != nil {
		return nil, err
	}
	st.Counts["indexed"] = len(ids)
	st.Projects = ids
	return st, nil
}

// Get returns one catalog entry
func (s *LifecycleService) Get(ctx context.Context, projectID string) (*domain.CatalogEntry, error) {
	return s.catalog.Get(ctx, projectID)
}

// List returns summaries of every catalog entry
// GetLayer returns one registered layer of a project. The catalog entry is
// authoritative: layer keys of a cleared entry are not served.
func (s *LifecycleService) GetLayer(ctx context.Context, projectID, layer string) (*domain.LayerDescriptor, error) {
	if _, err := s.catalog.Get(ctx, projectID); err != nil {
		return nil, err
	}
	return s.catalog.GetLayer(ctx, projectID, layer)
}

func (s *LifecycleService) List(ctx context.Context) ([]domain.CatalogSummary, error) {
	return s.catalog.List(ctx)
}

// Converge collapses every (name, AOI) group to its most recently updated
// entry. It heals duplicates left behind by concurrent registrations.
func (s *LifecycleService) Converge(ctx context.Context) (*ConvergeResult, error) {
	ids, err := s.catalog.ListProjectIDs(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*domain.CatalogEntry)
	for _, id := range ids {
		entry, err := s.catalog.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		k := duplicateKey(entry.ProjectName, entry.AOI)
		groups[k] = append(groups[k], entry)
	}

	res := &ConvergeResult{Groups: len(groups), Removed: []string{}}
	for _, entries := range groups {
		if len(entries) < 2 {
			continue
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		})
		for _, stale := range entries[1:] {
			if _, err := s.removeProject(ctx, stale.ProjectID); err != nil {
				return res, err
			}
			res.Removed = append(res.Removed, stale.ProjectID)
			metrics.CatalogDuplicatesRemoved.Inc()
		}
	}
	sort.Strings(res.Removed)
	return res, nil
}
