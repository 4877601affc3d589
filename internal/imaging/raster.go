package imaging

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Raster is a floating point image with interleaved bands.
//
// The value of band c at pixel (x, y) is Pix[(y*Width+x)*Bands+c]. Rows run
// top to bottom, matching the image package coordinate system.
type Raster struct {
	Width  int
	Height int
	Bands  int
	Pix    []float32
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height, bands int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Bands:  bands,
		Pix:    make([]float32, width*height*bands),
	}
}

// At returns band c of pixel (x, y).
func (r *Raster) At(x, y, c int) float32 {
	return r.Pix[(y*r.Width+x)*r.Bands+c]
}

// Set assigns band c of pixel (x, y).
func (r *Raster) Set(x, y, c int, v float32) {
	r.Pix[(y*r.Width+x)*r.Bands+c] = v
}

// Band copies band c into a new row-major plane of Width*Height values.
func (r *Raster) Band(c int) []float32 {
	out := make([]float32, r.Width*r.Height)
	for i := range out {
		out[i] = r.Pix[i*r.Bands+c]
	}
	return out
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	out := &Raster{Width: r.Width, Height: r.Height, Bands: r.Bands, Pix: make([]float32, len(r.Pix))}
	copy(out.Pix, r.Pix)
	return out
}

// Decimate keeps every factor-th row and column, starting at the origin.
func (r *Raster) Decimate(factor int) *Raster {
	if factor <= 1 {
		return r.Clone()
	}
	w := (r.Width + factor - 1) / factor
	h := (r.Height + factor - 1) / factor
	out := NewRaster(w, h, r.Bands)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := ((y*factor)*r.Width + x*factor) * r.Bands
			dst := (y*w + x) * r.Bands
			copy(out.Pix[dst:dst+r.Bands], r.Pix[src:src+r.Bands])
		}
	}
	return out
}

// FromHex converts a hexadecimal string such as "ff", "0x3366CC" or "#ff" to
// an integer.
func FromHex(s string) (int, error) {
	h := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(h, "0x"), strings.HasPrefix(h, "0X"):
		h = h[2:]
	case strings.HasPrefix(h, "#"):
		h = h[1:]
	}
	v, err := strconv.ParseInt(h, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid hex value %q", s)
	}
	return int(v), nil
}

// Rescale maps the raster's values linearly onto [mn, mx] in place.
//
// The minimum value becomes mn and the maximum becomes mx. A constant raster
// has no range to stretch, so every value becomes mn.
func Rescale(r *Raster, mn, mx float32) {
	if len(r.Pix) == 0 {
		return
	}
	lo, hi := r.Pix[0], r.Pix[0]
	for _, v := range r.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i, v := range r.Pix {
		if span == 0 {
			r.Pix[i] = mn
			continue
		}
		r.Pix[i] = (mx-mn)*(v-lo)/span + mn
	}
}

// Standardize normalises a raster using an adjusted standard deviation.
//
// The mean and population standard deviation are pooled over every band.
// The deviation is floored at 1/sqrt(Width*Height) so flat images do not
// blow up, then the result is rescaled to [0, 1]. Single band rasters come
// back with the band replicated three times.
func Standardize(r *Raster) (*Raster, error) {
	if len(r.Pix) == 0 {
		return nil, errors.New("cannot standardize an empty raster")
	}

	data := make(stats.Float64Data, len(r.Pix))
	for i, v := range r.Pix {
		data[i] = float64(v)
	}
	m, err := stats.Mean(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute mean")
	}
	s, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute standard deviation")
	}
	s = math.Max(s, 1.0/math.Sqrt(float64(r.Width*r.Height)))

	out := r.Clone()
	for i, v := range out.Pix {
		out.Pix[i] = float32((float64(v) - m) / s)
	}
	Rescale(out, 0, 1)

	if out.Bands == 1 {
		three := NewRaster(out.Width, out.Height, 3)
		for i, v := range out.Pix {
			three.Pix[i*3] = v
			three.Pix[i*3+1] = v
			three.Pix[i*3+2] = v
		}
		out = three
	}
	return out, nil
}

// InpaintNaNs fills NaN values in a width×height plane with the mean of their
// valid 8-connected neighbours, repeating until no NaN remains.
//
// Borders are mirrored. Each pass grows the valid region by one pixel, so a
// plane with at least one finite value always converges.
func InpaintNaNs(plane []float32, width, height int) ([]float32, error) {
	im := make([]float32, len(plane))
	copy(im, plane)

	nan := make([]bool, len(im))
	remaining := 0
	for i, v := range im {
		if math.IsNaN(float64(v)) {
			nan[i] = true
			remaining++
		}
	}
	if remaining == len(im) && remaining > 0 {
		return im, errors.New("cannot inpaint a plane with no finite values")
	}

	for remaining > 0 {
		next := make([]float32, len(im))
		copy(next, im)
		filled := make([]bool, len(im))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := y*width + x
				if !nan[i] {
					continue
				}
				var sum float32
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						j := reflect(y+dy, height)*width + reflect(x+dx, width)
						if !nan[j] {
							sum += im[j]
							n++
						}
					}
				}
				if n > 0 {
					next[i] = sum / float32(n)
					filled[i] = true
				}
			}
		}
		for i, ok := range filled {
			if ok {
				nan[i] = false
				remaining--
			}
		}
		im = next
	}
	return im, nil
}

// reflect mirrors an out-of-range index back into [0, n) the way a
// symmetric boundary does (-1 -> 0, n -> n-1).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// LabelMap is a dense per-pixel class image.
//
// On doodle inputs 0 means "not annotated" and 1..255 are class ids.
type LabelMap struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewLabelMap allocates a label map filled with zeros.
func NewLabelMap(width, height int) *LabelMap {
	return &LabelMap{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// At returns the label at (x, y).
func (l *LabelMap) At(x, y int) uint8 {
	return l.Pix[y*l.Width+x]
}

// Set assigns the label at (x, y).
func (l *LabelMap) Set(x, y int, v uint8) {
	l.Pix[y*l.Width+x] = v
}

// Classes returns the sorted distinct non-zero labels.
func (l *LabelMap) Classes() []uint8 {
	var seen [256]bool
	for _, v := range l.Pix {
		seen[v] = true
	}
	var out []uint8
	for v := 1; v < 256; v++ {
		if seen[v] {
			out = append(out, uint8(v))
		}
	}
	return out
}

// Counts returns the number of pixels holding each label, zero included.
func (l *LabelMap) Counts() map[uint8]int {
	out := make(map[uint8]int)
	for _, v := range l.Pix {
		out[v]++
	}
	return out
}

// Decimate keeps every factor-th row and column.
func (l *LabelMap) Decimate(factor int) *LabelMap {
	if factor <= 1 {
		out := NewLabelMap(l.Width, l.Height)
		copy(out.Pix, l.Pix)
		return out
	}
	w := (l.Width + factor - 1) / factor
	h := (l.Height + factor - 1) / factor
	out := NewLabelMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*w+x] = l.Pix[(y*factor)*l.Width+x*factor]
		}
	}
	return out
}

// Resize scales the label map with nearest-neighbour sampling, so no new
// label values are introduced.
func (l *LabelMap) Resize(width, height int) *LabelMap {
	if width == l.Width && height == l.Height {
		out := NewLabelMap(width, height)
		copy(out.Pix, l.Pix)
		return out
	}
	resized := imaging.Resize(l.Gray(), width, height, imaging.NearestNeighbor)
	out := NewLabelMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Gray input yields equal R, G and B in the NRGBA result.
			out.Pix[y*width+x] = resized.Pix[y*resized.Stride+x*4]
		}
	}
	return out
}

// Gray returns the label map as a gray image whose values are the labels.
func (l *LabelMap) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			img.SetGray(x, y, color.Gray{Y: l.Pix[y*l.Width+x]})
		}
	}
	return img
}
