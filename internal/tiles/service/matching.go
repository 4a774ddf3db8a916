package service

import (
	"sort"
	"strings"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/catalog/domain"
)

// Match is a resolved (entry, layer) pair
type Match struct {
	ProjectID string
	Layer     domain.LayerDescriptor
}

type matchTier int

const (
	tierExactRaw matchTier = iota
	tierExactNormalized
	tierSubstring
	tierCount
)

// matchLayer finds the layer an identifier refers to. Entries whose project
// id prefixes the identifier are searched before the rest, each group in the
// order given. Within that order the first entry to satisfy the strongest
// tier wins.
func matchLayer(identifier string, entries []*domain.CatalogEntry) (Match, bool) {
	ordered := orderCandidates(identifier, entries)
	normID := domain.NormalizeLayerName(identifier)
	lowerNormID := strings.ToLower(normID)

	for tier := tierExactRaw; tier < tierCount; tier++ {
		for _, entry := range ordered {
			for _, name := range entry.LayerNames() {
				if layerMatches(tier, identifier, normID, lowerNormID, entry.ProjectID, name) {
					layer := entry.Layers[name]
					layer.Name = name
					return Match{ProjectID: entry.ProjectID, Layer: layer}, true
				}
			}
		}
	}
	return Match{}, false
}

func layerMatches(tier matchTier, identifier, normID, lowerNormID, projectID, name string) bool {
	switch tier {
	case tierExactRaw:
		return identifier == name || identifier == projectID+"_"+name
	case tierExactNormalized:
		normName := domain.NormalizeLayerName(name)
		return normID == normName || normID == domain.LayerIdentifier(projectID, name)
	case tierSubstring:
		normName := strings.ToLower(domain.NormalizeLayerName(name))
		if normName == "" || lowerNormID == "" {
			return false
		}
		return strings.Contains(lowerNormID, normName) || strings.Contains(normName, lowerNormID)
	}
	return false
}

func orderCandidates(identifier string, entries []*domain.CatalogEntry) []*domain.CatalogEntry {
	var prefixed, rest []*domain.CatalogEntry
	for _, e := range entries {
		if strings.HasPrefix(identifier, e.ProjectID+"_") {
			prefixed = append(prefixed, e)
		} else {
			rest = append(rest, e)
		}
	}
	// longest project id first so "demo_2" beats "demo" for "demo_2_ndvi"
	sort.SliceStable(prefixed, func(i, j int) bool {
		return len(prefixed[i].ProjectID) > len(prefixed[j].ProjectID)
	})
	return append(prefixed, rest...)
}

// splitIdentifier guesses (project, layer) from "project_layer" at the first underscore.
func splitIdentifier(identifier string) (projectID, layer string, ok bool) {
	i := strings.Index(identifier, "_")
	if i <= 0 || i == len(identifier)-1 {
		return "", "", false
	}
	return identifier[:i], identifier[i+1:], true
}
