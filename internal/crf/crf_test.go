package crf

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"github.com/ironsheep/doodler-engine/internal/config"
	"github.com/ironsheep/doodler-engine/internal/imaging"
)

func TestNewLattice_Errors(t *testing.T) {
	if _, err := newLattice(make([]float32, 4), 0, 4); err == nil {
		t.Error("expected error for dimension 0")
	}
	if _, err := newLattice(make([]float32, 9*2), 9, 2); err == nil {
		t.Error("expected error for dimension above the maximum")
	}
	if _, err := newLattice(make([]float32, 5), 2, 3); err == nil {
		t.Error("expected error for feature count mismatch")
	}
}

func TestLattice_Locality(t *testing.T) {
	const n = 30
	feats := make([]float32, n)
	for i := range feats {
		feats[i] = float32(i)
	}
	lat, err := newLattice(feats, 1, n)
	if err != nil {
		t.Fatal(err)
	}

	in := make([]float32, n)
	in[0] = 1
	out := make([]float32, n)
	lat.compute(out, in, 1, false)

	if out[0] <= 0 {
		t.Fatalf("impulse response at source: got %v, want > 0", out[0])
	}
	if out[1] <= out[10] {
		t.Errorf("near response %v should exceed far response %v", out[1], out[10])
	}
	if out[20] != 0 {
		t.Errorf("response far outside the kernel: got %v, want 0", out[20])
	}
}

func TestLattice_OnesPositive(t *testing.T) {
	c, err := NewDenseCRF2D(6, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddPairwiseGaussian(3, 3, 1); err != nil {
		t.Fatal(err)
	}
	for i, v := range c.pairwise[0].norm {
		if v <= 0 || math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
			t.Fatalf("norm[%d]: got %v, want finite positive", i, v)
		}
	}
}

func TestUnaryFromLabels(t *testing.T) {
	u, err := UnaryFromLabels([]uint8{0, 1, 3}, 3, 0.5)
	if err != nil {
		t.Fatalf("UnaryFromLabels failed: %v", err)
	}
	unsure := float32(math.Log(3))
	pos := float32(-math.Log(0.5))
	neg := float32(-math.Log(0.25))
	want := []float32{
		unsure, unsure, unsure,
		pos, neg, neg,
		neg, neg, pos,
	}
	if diff := cmp.Diff(want, u, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("unary mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name   string
		labels []uint8
		n      int
		gt     float64
	}{
		{"one label", []uint8{1}, 1, 0.5},
		{"gt prob 1", []uint8{1}, 2, 1},
		{"label out of range", []uint8{3}, 2, 0.5},
	}
	for _, tt := range tests {
		if _, err := UnaryFromLabels(tt.labels, tt.n, tt.gt); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestUnaryFromSoftmax(t *testing.T) {
	u, err := UnaryFromSoftmax([]float64{1, 0, 0.5, 0.5}, 2)
	if err != nil {
		t.Fatalf("UnaryFromSoftmax failed: %v", err)
	}
	want := []float32{0, float32(-math.Log(softmaxClip)), float32(math.Ln2), float32(math.Ln2)}
	if diff := cmp.Diff(want, u, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("unary mismatch (-want +got):\n%s", diff)
	}
	if _, err := UnaryFromSoftmax([]float64{1, 0, 0}, 2); err == nil {
		t.Error("expected error for ragged probabilities")
	}
}

func TestInference_UnaryOnly(t *testing.T) {
	c, err := NewDenseCRF2D(2, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetUnary([]float32{0, 2, 3, 1}); err != nil {
		t.Fatal(err)
	}
	q, err := c.Inference(context.Background(), 5)
	if err != nil {
		t.Fatalf("Inference failed: %v", err)
	}
	p := float32(1 / (1 + math.Exp(-2)))
	want := []float32{p, 1 - p, 1 - p, p}
	if diff := cmp.Diff(want, q, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("marginals mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1}, MAP(q, 2)); diff != "" {
		t.Errorf("MAP mismatch (-want +got):\n%s", diff)
	}
}

func TestDenseCRF2D_Errors(t *testing.T) {
	if _, err := NewDenseCRF2D(0, 3, 2); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewDenseCRF2D(3, 3, 0); err == nil {
		t.Error("expected error for zero labels")
	}
	c, err := NewDenseCRF2D(3, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetUnary(make([]float32, 4)); err == nil {
		t.Error("expected error for unary size mismatch")
	}
	if err := c.AddPairwiseBilateral(1, 1, 1, imaging.NewRaster(4, 3, 3), 1); err == nil {
		t.Error("expected error for image size mismatch")
	}
	if err := c.AddPairwiseGaussian(0, 1, 1); err == nil {
		t.Error("expected error for zero kernel width")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Inference(ctx, 1); err == nil {
		t.Error("expected error for cancelled context")
	}
}

// halves returns a 20x20 image dark on the left and bright on the right.
func halves() *imaging.Raster {
	r := imaging.NewRaster(20, 20, 3)
	for y := 0; y < 20; y++ {
		for x := 10; x < 20; x++ {
			for c := 0; c < 3; c++ {
				r.Set(x, y, c, 1)
			}
		}
	}
	return r
}

func testParams() Params {
	return Params{Theta: 5, Mu: 10, Downsample: 2, Iterations: 10, GTProb: 0.51}
}

func TestRefiner_FromLabels(t *testing.T) {
	img := halves()
	doodles := imaging.NewLabelMap(20, 20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 4; x++ {
			doodles.Set(x, y, 1)
			doodles.Set(19-x, y, 2)
		}
	}

	r := NewRefiner(zerolog.Nop(), testParams())
	out, err := r.FromLabels(context.Background(), img, doodles, 2)
	if err != nil {
		t.Fatalf("FromLabels failed: %v", err)
	}
	if out.Width != 20 || out.Height != 20 {
		t.Fatalf("size: got %dx%d, want 20x20", out.Width, out.Height)
	}
	for y := 0; y < 20; y++ {
		for x := 0; x < 3; x++ {
			if got := out.At(x, y); got != 1 {
				t.Fatalf("(%d,%d): got %d, want 1", x, y, got)
			}
			if got := out.At(19-x, y); got != 2 {
				t.Fatalf("(%d,%d): got %d, want 2", 19-x, y, got)
			}
		}
	}
}

func TestRefiner_FromSoftmax(t *testing.T) {
	img := halves()
	prob := make([]float64, 20*20*2)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			i := y*20 + x
			if x < 10 {
				prob[i*2] = 1
			} else {
				prob[i*2+1] = 1
			}
		}
	}

	r := NewRefiner(zerolog.Nop(), testParams())
	out, err := r.FromSoftmax(context.Background(), img, prob, 2)
	if err != nil {
		t.Fatalf("FromSoftmax failed: %v", err)
	}
	if diff := cmp.Diff([]uint8{1, 2}, out.Classes()); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}
	if out.At(0, 0) != 1 || out.At(19, 19) != 2 {
		t.Errorf("corners: got %d and %d, want 1 and 2", out.At(0, 0), out.At(19, 19))
	}
}

func TestRefiner_Errors(t *testing.T) {
	r := NewRefiner(zerolog.Nop(), testParams())
	ctx := context.Background()
	if _, err := r.FromLabels(ctx, halves(), imaging.NewLabelMap(5, 5), 2); err == nil {
		t.Error("expected error for label size mismatch")
	}
	if _, err := r.FromSoftmax(ctx, halves(), make([]float64, 7), 2); err == nil {
		t.Error("expected error for probability count mismatch")
	}
	if _, err := r.FromLabels(ctx, halves(), imaging.NewLabelMap(20, 20), 1); err == nil {
		t.Error("expected error for a single class")
	}
}

func TestColourScale(t *testing.T) {
	if got := ColourScale(3000, 1500); got != 6 {
		t.Errorf("got %v, want 6", got)
	}
	if got := ColourScale(0, 0); got != 1 {
		t.Errorf("got %v, want 1", got)
	}
}

func TestNewRefiner_WarnsOnHeavyMu(t *testing.T) {
	tests := []struct {
		name     string
		mu       float64
		wantWarn bool
	}{
		{"defaults", config.Default().CRFMu, false},
		{"heavy", 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := ParamsFrom(config.Default())
			p.Mu = tt.mu
			NewRefiner(zerolog.New(&buf), p)
			if got := strings.Contains(buf.String(), `"level":"warn"`); got != tt.wantWarn {
				t.Errorf("warned = %v, want %v (log %q)", got, tt.wantWarn, buf.String())
			}
		})
	}
}
