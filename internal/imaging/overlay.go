package imaging

import (
	"image"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/clone"
	"github.com/pkg/errors"
)

// RenderResult is an encoded image returned to MCP clients.
type RenderResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MimeType    string `json:"mime_type"`
	Path        string `json:"path,omitempty"`
}

// Colorize paints every labelled pixel with its palette colour.
// Label 0 stays transparent.
func Colorize(labels *LabelMap, palette *Palette) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, labels.Width, labels.Height))
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			img.Set(x, y, palette.Color(labels.Pix[y*labels.Width+x]))
		}
	}
	return img
}

// Overlay blends the colourised labels over the source image.
//
// opacity is the weight of the label layer in [0, 1]. The labels must have
// the same dimensions as the image.
func Overlay(img image.Image, labels *LabelMap, palette *Palette, opacity float64) (*image.RGBA, error) {
	bounds := img.Bounds()
	if bounds.Dx() != labels.Width || bounds.Dy() != labels.Height {
		return nil, errors.Errorf("label size %dx%d does not match image size %dx%d",
			labels.Width, labels.Height, bounds.Dx(), bounds.Dy())
	}
	if opacity < 0 || opacity > 1 {
		return nil, errors.Errorf("opacity must be in [0,1], got %v", opacity)
	}

	bg := clone.AsRGBA(img)
	fg := Colorize(labels, palette)
	// Unlabelled pixels show the source image through.
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			if labels.Pix[y*labels.Width+x] == 0 {
				fg.Set(x, y, bg.At(x+bg.Rect.Min.X, y+bg.Rect.Min.Y))
			}
		}
	}
	return blend.Opacity(bg, fg, opacity), nil
}

// ShiftLabels returns a copy with every label increased by delta, saturating
// at 0 and 255. Segmentation results are 0-based while palettes start at
// class 1, so overlays shift by +1.
func ShiftLabels(labels *LabelMap, delta int) *LabelMap {
	out := NewLabelMap(labels.Width, labels.Height)
	for i, v := range labels.Pix {
		n := int(v) + delta
		if n < 0 {
			n = 0
		}
		if n > 255 {
			n = 255
		}
		out.Pix[i] = uint8(n)
	}
	return out
}
