package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ImageCache provides thread-safe caching of decoded images keyed by path.
//
// Once an image is loaded, subsequent Load() calls for the same path return
// the cached copy without disk I/O. Doodle files are usually rewritten between
// runs, so callers evict them after use rather than caching them.
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/data/site1.jpg")
//	if err != nil {
//	    return err
//	}
//	cache.Evict("/data/site1.jpg")
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates an empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the cache or decodes it from disk.
//
// Supported formats are PNG, JPEG and GIF. The cache key is the exact path
// string, so relative and absolute spellings of one file are cached twice.
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache. Unknown paths are ignored.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Len reports the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// LoadImage decodes an image file without caching it.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", path)
	}
	return img, nil
}

// ImageInfo contains metadata about an image file.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"` // "png", "jpeg", "gif" or "unknown", from the extension

	// ColorDepth is "8-bit" or "16-bit".
	ColorDepth string `json:"color_depth"`

	HasAlpha bool `json:"has_alpha"`

	// Bands is the number of bands the engine segments: 1 for gray images,
	// 3 otherwise.
	Bands int `json:"bands"`

	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image through the cache and describes it.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat file")
	}

	format := "unknown"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		format = "png"
	case ".jpg", ".jpeg":
		format = "jpeg"
	case ".gif":
		format = "gif"
	}

	hasAlpha := false
	colorDepth := "8-bit"
	switch img.(type) {
	case *image.RGBA, *image.NRGBA:
		hasAlpha = true
	case *image.RGBA64, *image.NRGBA64:
		hasAlpha = true
		colorDepth = "16-bit"
	case *image.Gray16:
		colorDepth = "16-bit"
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        format,
		ColorDepth:    colorDepth,
		HasAlpha:      hasAlpha,
		Bands:         bandCount(img),
		FileSizeBytes: stat.Size(),
	}, nil
}

func bandCount(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	}
	return 3
}

// RasterFromImage converts an image to a float raster on the 0-255 scale.
//
// Gray images produce one band, everything else three (alpha is dropped).
func RasterFromImage(img image.Image) *Raster {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	bands := bandCount(img)
	r := NewRaster(w, h, bands)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(x+bounds.Min.X, y+bounds.Min.Y)
			if bands == 1 {
				g := color.Gray16Model.Convert(c).(color.Gray16)
				r.Pix[y*w+x] = float32(g.Y) / 257
				continue
			}
			cr, cg, cb, _ := c.RGBA()
			i := (y*w + x) * 3
			r.Pix[i] = float32(cr) / 257
			r.Pix[i+1] = float32(cg) / 257
			r.Pix[i+2] = float32(cb) / 257
		}
	}
	return r
}

// DoodlesFromImage turns a doodle image into a label map.
//
// Gray images carry class ids directly as pixel values. 16-bit gray values
// are read as ids when they all fit in a byte and scaled to 8 bits
// otherwise. Gray+alpha PNGs decode as NRGBA; when every visible pixel is
// neutral and the palette holds no neutral colour they are read as gray,
// with transparent pixels unlabelled. Colour images are matched against
// the palette within tolerance; transparent and unmatched pixels stay
// unlabelled.
func DoodlesFromImage(img image.Image, palette *Palette, tolerance float64) *LabelMap {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewLabelMap(w, h)

	switch g := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Pix[y*w+x] = g.GrayAt(x+bounds.Min.X, y+bounds.Min.Y).Y
			}
		}
		return out
	case *image.Gray16:
		return gray16Labels(g)
	case *image.NRGBA, *image.NRGBA64:
		if !palette.hasNeutral() {
			if out, ok := neutralLabels(img); ok {
				return out
			}
		}
	case *image.Paletted:
		if isGrayIndexPalette(g.Palette) {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					out.Pix[y*w+x] = g.ColorIndexAt(x+bounds.Min.X, y+bounds.Min.Y)
				}
			}
			return out
		}
	}

	// Matching is cached per distinct colour; doodles use only a handful.
	memo := make(map[color.NRGBA]uint8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(x+bounds.Min.X, y+bounds.Min.Y)).(color.NRGBA)
			class, ok := memo[c]
			if !ok {
				class = palette.Match(c, tolerance)
				memo[c] = class
			}
			out.Pix[y*w+x] = class
		}
	}
	return out
}

func gray16Labels(g *image.Gray16) *LabelMap {
	bounds := g.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	vals := make([]uint16, 0, w*h)
	var hi uint16
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := g.Gray16At(x, y).Y
			vals = append(vals, v)
			hi = max(hi, v)
		}
	}
	return fromValues(w, h, vals, hi > 255)
}

// neutralLabels reads gray values from an image with alpha. It fails as soon
// as a visible pixel carries colour.
func neutralLabels(img image.Image) (*LabelMap, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	_, wide := img.(*image.NRGBA64)
	vals := make([]uint16, 0, w*h)
	var hi uint16
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			if c.A == 0 {
				vals = append(vals, 0)
				continue
			}
			if c.R != c.G || c.G != c.B {
				return nil, false
			}
			v := c.R
			if !wide {
				v >>= 8
			}
			vals = append(vals, v)
			hi = max(hi, v)
		}
	}
	return fromValues(w, h, vals, wide && hi > 255), true
}

func fromValues(w, h int, vals []uint16, scale bool) *LabelMap {
	out := NewLabelMap(w, h)
	for i, v := range vals {
		if scale {
			v >>= 8
		}
		out.Pix[i] = uint8(v)
	}
	return out
}

// isGrayIndexPalette reports whether entry i of the palette is gray level i,
// which is how label PNGs written by other tools often come out.
func isGrayIndexPalette(p color.Palette) bool {
	for i, c := range p {
		g := color.GrayModel.Convert(c).(color.Gray)
		r, gg, b, _ := c.RGBA()
		if int(g.Y) != i || r != gg || gg != b {
			return false
		}
	}
	return len(p) > 0
}

// LoadDoodles decodes a doodle file into a label map.
func LoadDoodles(path string, palette *Palette, tolerance float64) (*LabelMap, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return DoodlesFromImage(img, palette, tolerance), nil
}

// EncodePNG encodes an image as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "failed to encode png")
	}
	return buf.Bytes(), nil
}

// EncodePNGBase64 encodes an image as base64 PNG, the form MCP clients expect.
func EncodePNGBase64(img image.Image) (string, error) {
	b, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// SavePNG writes an image to path as PNG, creating parent directories.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	b, err := EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return nil
}

// SaveLabels writes a label map as a gray PNG whose values are class ids.
func SaveLabels(path string, labels *LabelMap) error {
	return SavePNG(path, labels.Gray())
}
