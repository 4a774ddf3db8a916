package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/tilematrix"
)

// Palette names the procedural fallback imagery
type Palette string

const (
	PaletteVegetation Palette = "vegetation"
	PaletteWater      Palette = "water"
	PaletteImagery    Palette = "imagery"
	PaletteDefault    Palette = "default"
	PaletteGray       Palette = "gray"
)

var paletteKeywords = []struct {
	palette  Palette
	keywords []string
}{
	{PaletteVegetation, []string{"ndvi", "evi", "savi", "vegetation", "veg", "green", "forest", "crop", "ndre", "lai", "biomass"}},
	{PaletteWater, []string{"ndwi", "mndwi", "water", "flood", "moisture", "wet", "lake", "river"}},
	{PaletteImagery, []string{"rgb", "true_color", "truecolor", "natural", "composite", "false_color", "imagery", "sentinel", "landsat", "image", "visual", "mosaic"}},
}

// ChoosePalette picks a palette from keywords in the raw layer identifier.
// Vegetation terms win over water terms, which win over imagery terms.
func ChoosePalette(identifier string) Palette {
	id := strings.ToLower(identifier)
	for _, group := range paletteKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(id, kw) {
				return group.palette
			}
		}
	}
	return PaletteDefault
}

type gradient struct {
	top, bottom color.RGBA
}

var gradients = map[Palette]gradient{
	PaletteVegetation: {top: color.RGBA{R: 26, G: 152, B: 80, A: 255}, bottom: color.RGBA{R: 217, G: 239, B: 139, A: 255}},
	PaletteWater:      {top: color.RGBA{R: 8, G: 48, B: 107, A: 255}, bottom: color.RGBA{R: 158, G: 202, B: 225, A: 255}},
	PaletteImagery:    {top: color.RGBA{R: 96, G: 112, B: 80, A: 255}, bottom: color.RGBA{R: 176, G: 160, B: 128, A: 255}},
	PaletteDefault:    {top: color.RGBA{R: 110, G: 124, B: 92, A: 255}, bottom: color.RGBA{R: 186, G: 172, B: 140, A: 255}},
	PaletteGray:       {top: color.RGBA{R: 128, G: 128, B: 128, A: 255}, bottom: color.RGBA{R: 128, G: 128, B: 128, A: 255}},
}

// 1x1 PNG pixel; served only if encoding a gray tile ever fails.
const emergencyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+P//PwAGBAL/VJiKjgAAAABJRU5ErkJggg=="

var (
	fallbackMu    sync.Mutex
	fallbackTiles = map[Palette][]byte{}
)

// FallbackTile returns the PNG for a palette. Rendering failures degrade to a
// flat gray tile and then to a pre-encoded pixel, so it always returns bytes.
func FallbackTile(p Palette) []byte {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()

	if data, ok := fallbackTiles[p]; ok {
		return data
	}
	data, err := renderGradient(p)
	if err != nil {
		if p != PaletteGray {
			data, err = renderGradient(PaletteGray)
		}
		if err != nil {
			data, _ = base64.StdEncoding.DecodeString(emergencyPNG)
		}
		return data
	}
	fallbackTiles[p] = data
	return data
}

func renderGradient(p Palette) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("render %s tile: %v", p, r)
		}
	}()

	g, ok := gradients[p]
	if !ok {
		return nil, fmt.Errorf("unknown palette %q", p)
	}

	const size = tilematrix.TileSize
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// diagonal blend so adjacent tiles don't read as a solid block
			t := float64(x+y) / float64(2*(size-1))
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(g.top.R, g.bottom.R, t),
				G: lerp(g.top.G, g.bottom.G, t),
				B: lerp(g.top.B, g.bottom.B, t),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s tile: %w", p, err)
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}
