package domain

import (
	"regexp"
	"strings"
)

var (
	nonIdentChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// NormalizeLayerName strips everything outside [A-Za-z0-9_], collapses
// repeated underscores and trims them from the edges.
func NormalizeLayerName(name string) string {
	s := nonIdentChars.ReplaceAllString(name, "")
	s = underscoreRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// LayerIdentifier is the public name of a layer in capabilities documents.
func LayerIdentifier(projectID, layer string) string {
	return projectID + "_" + NormalizeLayerName(layer)
}
