package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// RegistrationRequest is the body of POST /catalog/update.
type RegistrationRequest struct {
	ProjectID    string               `json:"projectId" validate:"required"`
	ProjectName  string               `json:"projectName"`
	Layers       LayerList            `json:"layers" validate:"min=1,dive"`
	AnalysisInfo *AnalysisInfoPayload `json:"analysisInfo,omitempty"`
	AOI          *AOI                 `json:"aoi,omitempty"`
}

// AnalysisInfoPayload is AnalysisInfo plus the AOI the analysis ran over.
type AnalysisInfoPayload struct {
	AnalysisInfo
	AOI *AOI `json:"aoi,omitempty"`
}

// LayerInput is one layer as sent by the analysis system.
type LayerInput struct {
	Name            string                 `json:"name" validate:"required"`
	Title           string                 `json:"title,omitempty"`
	Description     string                 `json:"description,omitempty"`
	TileURLTemplate string                 `json:"tileUrlTemplate" validate:"required"`
	VisParams       map[string]interface{} `json:"visParams,omitempty"`
}

// LayerList decodes the three layer shapes the analysis system emits:
// {"ndvi": "https://..."}, {"ndvi": {...}} and [{"name": "ndvi", ...}].
type LayerList []LayerInput

type rawLayer struct {
	Name        string                 `json:"name"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	TileURL     string                 `json:"tileUrl"`
	TileURLSnak string                 `json:"tile_url"`
	URLTemplate string                 `json:"urlTemplate"`
	TemplateAlt string                 `json:"tileUrlTemplate"`
	VisParams   map[string]interface{} `json:"visParams"`
}

func (r rawLayer) toInput(fallbackName string) LayerInput {
	name := r.Name
	if name == "" {
		name = fallbackName
	}
	url := firstNonEmpty(r.TileURL, r.TileURLSnak, r.URLTemplate, r.TemplateAlt)
	return LayerInput{
		Name:            name,
		Title:           r.Title,
		Description:     r.Description,
		TileURLTemplate: url,
		VisParams:       r.VisParams,
	}
}

func (l *LayerList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	switch data[0] {
	case '[':
		var raws []rawLayer
		if err := json.Unmarshal(data, &raws); err != nil {
			return fmt.Errorf("layers: %w", err)
		}
		out := make(LayerList, 0, len(raws))
		for _, r := range raws {
			out = append(out, r.toInput(""))
		}
		*l = out
		return nil
	case '{':
		var byName map[string]json.RawMessage
		if err := json.Unmarshal(data, &byName); err != nil {
			return fmt.Errorf("layers: %w", err)
		}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make(LayerList, 0, len(byName))
		for _, name := range names {
			raw := bytes.TrimSpace(byName[name])
			if len(raw) > 0 && raw[0] == '"' {
				var url string
				if err := json.Unmarshal(raw, &url); err != nil {
					return fmt.Errorf("layers.%s: %w", name, err)
				}
				out = append(out, LayerInput{Name: name, TileURLTemplate: url})
				continue
			}
			var r rawLayer
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("layers.%s: %w", name, err)
			}
			out = append(out, r.toInput(name))
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("layers: expected object or array")
	}
}

// UnmarshalJSON accepts {"minx":..} objects and [minx, miny, maxx, maxy] arrays.
func (b *BBox) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("bbox: %w", err)
		}
		if len(arr) != 4 {
			return fmt.Errorf("bbox: expected 4 numbers, got %d", len(arr))
		}
		*b = BBox{MinX: arr[0], MinY: arr[1], MaxX: arr[2], MaxY: arr[3]}
		return nil
	}
	type plain BBox
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	*b = BBox(p)
	return nil
}

// UnmarshalJSON accepts {"lon":..,"lat":..} (or lng) objects and [lon, lat] arrays.
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("center: %w", err)
		}
		if len(arr) != 2 {
			return fmt.Errorf("center: expected [lon, lat]")
		}
		*p = Point{Lon: arr[0], Lat: arr[1]}
		return nil
	}
	var obj struct {
		Lon *float64 `json:"lon"`
		Lng *float64 `json:"lng"`
		Lat float64  `json:"lat"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("center: %w", err)
	}
	p.Lat = obj.Lat
	switch {
	case obj.Lon != nil:
		p.Lon = *obj.Lon
	case obj.Lng != nil:
		p.Lon = *obj.Lng
	default:
		p.Lon = 0
	}
	return nil
}

// ResolvedAOI returns the AOI from analysisInfo, falling back to a top-level aoi.
func (r *RegistrationRequest) ResolvedAOI() AOI {
	if r.AnalysisInfo != nil && r.AnalysisInfo.AOI != nil {
		return r.AnalysisInfo.AOI.Normalized()
	}
	if r.AOI != nil {
		return r.AOI.Normalized()
	}
	return AOI{}
}

// DisplayName is the project name, or the id when no name was sent.
func (r *RegistrationRequest) DisplayName() string {
	if r.ProjectName != "" {
		return r.ProjectName
	}
	return r.ProjectID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
