package imaging

import (
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// DefaultClassColors are the class colours Doodler assigns when a project
// does not define its own, in class order (class 1 first).
var DefaultClassColors = []string{
	"#3366CC", "#DC3912", "#FF9900", "#109618", "#990099",
	"#0099C6", "#DD4477", "#66AA00", "#B82E2E", "#316395",
}

// DefaultMatchTolerance is the largest CIE-Lab distance at which a doodle
// pixel is still attributed to a palette colour. Anti-aliased brush edges
// usually fall well inside it.
const DefaultMatchTolerance = 0.1

// Palette maps class ids to display colours.
//
// Index 0 of Colors is class 1. Class 0 (no doodle) has no colour.
type Palette struct {
	Colors []colorful.Color
}

// ParsePalette builds a palette from "#RRGGBB" strings.
func ParsePalette(hexes []string) (*Palette, error) {
	if len(hexes) == 0 {
		return nil, errors.New("palette needs at least one colour")
	}
	p := &Palette{Colors: make([]colorful.Color, 0, len(hexes))}
	for i, h := range hexes {
		h = strings.TrimSpace(h)
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid colour %d (%q)", i+1, h)
		}
		p.Colors = append(p.Colors, c)
	}
	return p, nil
}

// DefaultPalette returns the palette built from DefaultClassColors.
func DefaultPalette() *Palette {
	p, err := ParsePalette(DefaultClassColors)
	if err != nil {
		panic(err)
	}
	return p
}

// Color returns the display colour of a class. Classes beyond the palette
// wrap around. Class 0 is transparent.
func (p *Palette) Color(class uint8) color.Color {
	if class == 0 || len(p.Colors) == 0 {
		return color.NRGBA{}
	}
	c := p.Colors[(int(class)-1)%len(p.Colors)]
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// Hex returns the "#rrggbb" form of a class colour, or "" for class 0.
func (p *Palette) Hex(class uint8) string {
	if class == 0 || len(p.Colors) == 0 {
		return ""
	}
	return p.Colors[(int(class)-1)%len(p.Colors)].Hex()
}

// Match returns the class whose colour is nearest to c in CIE-Lab space, or 0
// when none is within tolerance. Fully transparent colours never match.
func (p *Palette) Match(c color.Color, tolerance float64) uint8 {
	if _, _, _, a := c.RGBA(); a == 0 {
		return 0
	}
	cc, ok := colorful.MakeColor(c)
	if !ok {
		return 0
	}
	best := -1
	bestDist := tolerance
	for i, pc := range p.Colors {
		if d := cc.DistanceLab(pc); d <= bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 || best >= 255 {
		return 0
	}
	return uint8(best + 1)
}

// hasNeutral reports whether any palette colour is a gray level. A nil
// palette has none.
func (p *Palette) hasNeutral() bool {
	if p == nil {
		return false
	}
	for _, c := range p.Colors {
		r, g, b := c.RGB255()
		if r == g && g == b {
			return true
		}
	}
	return false
}
