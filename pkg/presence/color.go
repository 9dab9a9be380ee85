package presence

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

var paletteHex = []string{
	"#FF0000", "#00FF00", "#0000FF", "#FFFF00", "#FF00FF",
	"#00FFFF", "#FFA500", "#800080", "#008000", "#FFC0CB",
	"#800000", "#008080", "#000000", "#808080", "#FFFFFF",
	"#FF4500", "#2E8B57", "#1E90FF", "#FFD700", "#ADFF2F",
	"#DC143C", "#00CED1", "#4B0082", "#8B0000", "#006400",
	"#4682B4", "#DAA520", "#7B68EE", "#20B2AA", "#5F9EA0",
}

var palette = mustParsePalette(paletteHex)

func mustParsePalette(hexes []string) []colorful.Color {
	colors := make([]colorful.Color, 0, len(hexes))
	for _, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("invalid palette color %q: %v", h, err))
		}
		colors = append(colors, c)
	}
	return colors
}

// AssignColor picks a palette entry uniformly at random. Concurrent sessions
// may share a color.
func AssignColor() string {
	return formatColor(palette[rand.Intn(len(palette))])
}

func formatColor(c colorful.Color) string {
	return strings.ToUpper(c.Hex())
}

// Palette returns the colors AssignColor chooses from.
func Palette() []string {
	colors := make([]string, len(palette))
	for i, c := range palette {
		colors[i] = formatColor(c)
	}
	return colors
}
