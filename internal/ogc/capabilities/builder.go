// Package capabilities renders the discovery and record documents of the
// gateway from the current catalog. Nothing here writes to the store.
package capabilities

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tilematrix"
	"github.com/paulmach/orb"
)

// Layer selection policies
const (
	ModeLatest = "latest"
	ModeAll    = "all"
)

const (
	NamespaceXLink = "http://www.w3.org/1999/xlink"
	NamespaceOWS   = "http://www.opengis.net/ows/1.1"
	NamespaceXSI   = "http://www.w3.org/2001/XMLSchema-instance"
)

// CatalogReader is the read-only catalog access of the builder
type CatalogReader interface {
	Get(ctx context.Context, projectID string) (*domain.CatalogEntry, error)
	ListProjectIDs(ctx context.Context) ([]string, error)
}

// Options configures the builder
type Options struct {
	Mode     string // ModeLatest or ModeAll
	Title    string
	Abstract string
}

// Builder produces capability and record documents
type Builder struct {
	catalog CatalogReader
	opts    Options
	now     func() time.Time
}

func NewBuilder(catalog CatalogReader, opts Options) *Builder {
	if opts.Mode != ModeAll {
		opts.Mode = ModeLatest
	}
	if opts.Title == "" {
		opts.Title = "Satellite Analysis Tile Gateway"
	}
	if opts.Abstract == "" {
		opts.Abstract = "Map layers produced by remote-sensing analysis projects"
	}
	return &Builder{catalog: catalog, opts: opts, now: time.Now}
}

// layerView is one (project, layer) pair with its derived geometry
type layerView struct {
	Entry       *domain.CatalogEntry
	Name        string
	Layer       domain.LayerDescriptor
	Identifier  string
	WGS84       orb.Bound
	WebMercator orb.Bound
}

func (v layerView) Title() string {
	if v.Layer.Title != "" {
		return v.Layer.Title
	}
	return fmt.Sprintf("%s - %s", v.Entry.ProjectName, v.Name)
}

func (v layerView) Abstract() string {
	if v.Layer.Description != "" {
		return v.Layer.Description
	}
	parts := []string{fmt.Sprintf("Layer %s of project %s", v.Name, v.Entry.ProjectName)}
	if info := v.Entry.AnalysisInfo; info != nil {
		if info.AnalysisType != "" {
			parts = append(parts, "analysis "+info.AnalysisType)
		}
		if info.Satellite != "" {
			parts = append(parts, "satellite "+info.Satellite)
		}
		if info.StartDate != "" || info.EndDate != "" {
			parts = append(parts, fmt.Sprintf("period %s/%s", info.StartDate, info.EndDate))
		}
	}
	return strings.Join(parts, "; ")
}

func (v layerView) Keywords() []string {
	kws := []string{v.Name, v.Entry.ProjectName}
	if info := v.Entry.AnalysisInfo; info != nil {
		for _, k := range []string{info.AnalysisType, info.Satellite} {
			if k != "" {
				kws = append(kws, k)
			}
		}
	}
	return kws
}

// loadEntries reads every catalog entry through the project id index, sorted by id.
func (b *Builder) loadEntries(ctx context.Context) ([]*domain.CatalogEntry, error) {
	ids, err := b.catalog.ListProjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	entries := make([]*domain.CatalogEntry, 0, len(ids))
	for _, id := range ids {
		e, err := b.catalog.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load catalog entry %s: %w", id, err)
		}
		if e.Status != "" && e.Status != domain.StatusActive {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// selectEntries applies the configured policy: the most recently updated
// entry, or every active entry.
func (b *Builder) selectEntries(entries []*domain.CatalogEntry) []*domain.CatalogEntry {
	if b.opts.Mode == ModeAll || len(entries) <= 1 {
		return entries
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.UpdatedAt.After(latest.UpdatedAt) {
			latest = e
		}
	}
	return []*domain.CatalogEntry{latest}
}

func views(entries []*domain.CatalogEntry) []layerView {
	var out []layerView
	for _, e := range entries {
		geo := e.AOI.Bound()
		for _, name := range e.LayerNames() {
			out = append(out, layerView{
				Entry:       e,
				Name:        name,
				Layer:       e.Layers[name],
				Identifier:  domain.LayerIdentifier(e.ProjectID, name),
				WGS84:       geo,
				WebMercator: tilematrix.MercatorBound(geo),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// allViews are every active layer regardless of the selection policy.
func (b *Builder) allViews(ctx context.Context) ([]layerView, error) {
	entries, err := b.loadEntries(ctx)
	if err != nil {
		return nil, err
	}
	return views(entries), nil
}

// servedViews are the layers exposed by the tile services.
func (b *Builder) servedViews(ctx context.Context) ([]layerView, error) {
	entries, err := b.loadEntries(ctx)
	if err != nil {
		return nil, err
	}
	return views(b.selectEntries(entries)), nil
}

func encode(doc interface{}) ([]byte, error) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func corner(x, y float64) string {
	return fmt.Sprintf("%s %s", fmtFloat(x), fmtFloat(y))
}

func fmtFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
}

func serviceURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

func unionBound(vs []layerView) orb.Bound {
	if len(vs) == 0 {
		return domain.WorldBBox().Bound()
	}
	b := vs[0].WGS84
	for _, v := range vs[1:] {
		b = b.Union(v.WGS84)
	}
	return b
}
