package imaging

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// createTestImage writes a solid colour PNG into a temp dir and returns its path.
func createTestImage(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return writePNG(t, "test-image.png", img)
}

func writePNG(t *testing.T, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

func TestImageCache_Load(t *testing.T) {
	cache := NewImageCache()
	imgPath := createTestImage(t, 100, 100, color.RGBA{255, 0, 0, 255})

	img1, err := cache.Load(imgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	bounds := img1.Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 100 {
		t.Errorf("unexpected dimensions: got %dx%d, want 100x100", bounds.Dx(), bounds.Dy())
	}

	img2, err := cache.Load(imgPath)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if img1 != img2 {
		t.Error("second Load did not return cached image")
	}
	if cache.Len() != 1 {
		t.Errorf("Len: got %d, want 1", cache.Len())
	}
}

func TestImageCache_Load_Errors(t *testing.T) {
	cache := NewImageCache()
	if _, err := cache.Load("/nonexistent/path/to/image.png"); err == nil {
		t.Error("Load should fail for non-existent file")
	}

	bad := filepath.Join(t.TempDir(), "invalid.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Load(bad); err == nil {
		t.Error("Load should fail for invalid image data")
	}
}

func TestImageCache_ClearEvict(t *testing.T) {
	cache := NewImageCache()
	a := createTestImage(t, 10, 10, color.RGBA{0, 255, 0, 255})
	b := createTestImage(t, 10, 10, color.RGBA{0, 0, 255, 255})

	for _, p := range []string{a, b} {
		if _, err := cache.Load(p); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}

	cache.Evict(a)
	cache.Evict("/nonexistent/path")
	if cache.Len() != 1 {
		t.Errorf("after Evict: got %d images, want 1", cache.Len())
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Clear did not empty cache: %d images remain", cache.Len())
	}
}

func TestImageCache_ConcurrentAccess(t *testing.T) {
	cache := NewImageCache()
	imgPath := createTestImage(t, 50, 50, color.RGBA{128, 128, 128, 255})

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Load(imgPath); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Load failed: %v", err)
	}
}

func TestLoadImageInfo(t *testing.T) {
	cache := NewImageCache()
	imgPath := createTestImage(t, 64, 32, color.RGBA{10, 20, 30, 255})

	info, err := LoadImageInfo(cache, imgPath)
	if err != nil {
		t.Fatalf("LoadImageInfo failed: %v", err)
	}
	if info.Width != 64 || info.Height != 32 {
		t.Errorf("dimensions: got %dx%d, want 64x32", info.Width, info.Height)
	}
	if info.Format != "png" {
		t.Errorf("Format: got %s, want png", info.Format)
	}
	if info.Bands != 3 {
		t.Errorf("Bands: got %d, want 3", info.Bands)
	}
	if info.FileSizeBytes <= 0 {
		t.Error("FileSizeBytes should be positive")
	}
}

func TestRasterFromImage(t *testing.T) {
	rgb := image.NewRGBA(image.Rect(0, 0, 2, 1))
	rgb.Set(0, 0, color.RGBA{255, 0, 0, 255})
	rgb.Set(1, 0, color.RGBA{0, 128, 255, 255})

	r := RasterFromImage(rgb)
	if r.Bands != 3 {
		t.Fatalf("Bands: got %d, want 3", r.Bands)
	}
	want := []float32{255, 0, 0, 0, 128, 255}
	for i, v := range want {
		if r.Pix[i] != v {
			t.Errorf("Pix[%d]: got %v, want %v", i, r.Pix[i], v)
		}
	}

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 1, color.Gray{Y: 200})
	g := RasterFromImage(gray)
	if g.Bands != 1 {
		t.Fatalf("gray Bands: got %d, want 1", g.Bands)
	}
	if g.At(1, 1, 0) != 200 {
		t.Errorf("gray value: got %v, want 200", g.At(1, 1, 0))
	}
}

func TestDoodlesFromImage_Gray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 1})
	img.SetGray(2, 0, color.Gray{Y: 3})

	labels := DoodlesFromImage(img, DefaultPalette(), DefaultMatchTolerance)
	want := []uint8{0, 1, 3}
	for i, v := range want {
		if labels.Pix[i] != v {
			t.Errorf("Pix[%d]: got %d, want %d", i, labels.Pix[i], v)
		}
	}
}

func TestDoodlesFromImage_Gray16(t *testing.T) {
	tests := []struct {
		name string
		vals []uint16
		want []uint8
	}{
		{"small ids", []uint16{0, 1, 2}, []uint8{0, 1, 2}},
		{"scaled", []uint16{0, 257, 2 * 257}, []uint8{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewGray16(image.Rect(0, 0, len(tt.vals), 1))
			for x, v := range tt.vals {
				img.SetGray16(x, 0, color.Gray16{Y: v})
			}
			labels := DoodlesFromImage(img, DefaultPalette(), DefaultMatchTolerance)
			if diff := cmp.Diff(tt.want, labels.Pix); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDoodlesFromImage_GrayAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.NRGBA{1, 1, 1, 255})
	img.Set(1, 0, color.NRGBA{2, 2, 2, 255})
	img.Set(2, 0, color.NRGBA{9, 9, 9, 0})

	// Decoded from disk, a gray+alpha PNG comes back as NRGBA.
	path := writePNG(t, "doodles.png", img)
	labels, err := LoadDoodles(path, DefaultPalette(), DefaultMatchTolerance)
	if err != nil {
		t.Fatalf("LoadDoodles failed: %v", err)
	}
	if diff := cmp.Diff([]uint8{1, 2, 0}, labels.Pix); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	wide := image.NewNRGBA64(image.Rect(0, 0, 2, 1))
	wide.Set(0, 0, color.NRGBA64{3, 3, 3, 0xffff})
	wide.Set(1, 0, color.NRGBA64{0, 0, 0, 0})
	if diff := cmp.Diff([]uint8{3, 0}, DoodlesFromImage(wide, DefaultPalette(), DefaultMatchTolerance).Pix); diff != "" {
		t.Errorf("16-bit labels mismatch (-want +got):\n%s", diff)
	}
}

func TestDoodlesFromImage_Colour(t *testing.T) {
	p := DefaultPalette()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	img.Set(0, 0, p.Color(1))
	img.Set(1, 0, p.Color(2))
	img.Set(2, 0, color.NRGBA{0, 0, 0, 0})         // transparent
	img.Set(3, 0, color.NRGBA{255, 255, 255, 255}) // not in palette

	labels := DoodlesFromImage(img, p, DefaultMatchTolerance)
	want := []uint8{1, 2, 0, 0}
	for i, v := range want {
		if labels.Pix[i] != v {
			t.Errorf("Pix[%d]: got %d, want %d", i, labels.Pix[i], v)
		}
	}
}

func TestSaveLabels_RoundTrip(t *testing.T) {
	labels := NewLabelMap(3, 2)
	labels.Set(0, 0, 1)
	labels.Set(2, 1, 4)

	path := filepath.Join(t.TempDir(), "out", "labels.png")
	if err := SaveLabels(path, labels); err != nil {
		t.Fatalf("SaveLabels failed: %v", err)
	}

	got, err := LoadDoodles(path, DefaultPalette(), DefaultMatchTolerance)
	if err != nil {
		t.Fatalf("LoadDoodles failed: %v", err)
	}
	for i := range labels.Pix {
		if got.Pix[i] != labels.Pix[i] {
			t.Errorf("Pix[%d]: got %d, want %d", i, got.Pix[i], labels.Pix[i])
		}
	}
}

func TestEncodePNGBase64(t *testing.T) {
	s, err := EncodePNGBase64(image.NewGray(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("EncodePNGBase64 failed: %v", err)
	}
	if s == "" {
		t.Error("encoded string is empty")
	}
}
