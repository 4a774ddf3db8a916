package repository

import (
	"fmt"
	"strings"
)

const (
	CatalogKeyPrefix   = "catalog:"       // catalog:{project_id} -> entry JSON
	LayerKeyPrefix     = "catalog_layer:" // catalog_layer:{project_id}:{layer} -> layer JSON
	TileCacheKeyPrefix = "tile_cache:"    // tile_cache:{project_id}:{layer}:{z}:{x}:{y} -> hash
	ProjectKeyPrefix   = "project:"       // project:{project_id} -> project metadata JSON
	CatalogIndexKey    = "catalog_index"  // set of registered project ids
)

func CatalogKey(projectID string) string {
	return CatalogKeyPrefix + projectID
}

func LayerKey(projectID, layer string) string {
	return fmt.Sprintf("%s%s:%s", LayerKeyPrefix, projectID, layer)
}

func ProjectKey(projectID string) string {
	return ProjectKeyPrefix + projectID
}

func TileKey(projectID, layer string, z, x, y int) string {
	return fmt.Sprintf("%s%s:%s:%d:%d:%d", TileCacheKeyPrefix, projectID, layer, z, x, y)
}

// ProjectTilePrefix covers every cached tile of one project. The trailing
// colon keeps "demo" from matching "demo2".
func ProjectTilePrefix(projectID string) string {
	return TileCacheKeyPrefix + projectID + ":"
}

// LayerTilePrefix covers every cached tile of one project layer.
func LayerTilePrefix(projectID, layer string) string {
	return fmt.Sprintf("%s%s:%s:", TileCacheKeyPrefix, projectID, layer)
}

// matchPattern turns a literal prefix into a SCAN MATCH pattern.
func matchPattern(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	b.WriteString("*")
	return b.String()
}
