package crf

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/ironsheep/doodler-engine/internal/imaging"
)

// kernel is a Gaussian pairwise term with Potts compatibility and symmetric
// normalisation.
type kernel struct {
	lat    *lattice
	norm   []float32
	weight float32
}

func newKernel(features []float32, d, n int, weight float64) (*kernel, error) {
	lat, err := newLattice(features, d, n)
	if err != nil {
		return nil, err
	}
	ones := make([]float32, n)
	for i := range ones {
		ones[i] = 1
	}
	norm := make([]float32, n)
	lat.compute(norm, ones, 1, false)
	for i, v := range norm {
		norm[i] = float32(1 / math.Sqrt(float64(v)+1e-20))
	}
	return &kernel{lat: lat, norm: norm, weight: float32(weight)}, nil
}

// message adds weight times the normalised filter response to q into dst.
// q and buf hold n points by labels values.
func (k *kernel) message(dst, q, buf []float32, labels int) {
	for i := 0; i < k.lat.n; i++ {
		s := k.norm[i]
		for l := 0; l < labels; l++ {
			buf[i*labels+l] = q[i*labels+l] * s
		}
	}
	k.lat.compute(buf, buf, labels, false)
	for i := 0; i < k.lat.n; i++ {
		s := k.norm[i] * k.weight
		for l := 0; l < labels; l++ {
			dst[i*labels+l] += buf[i*labels+l] * s
		}
	}
}

// DenseCRF2D is a fully connected CRF over the pixels of a 2-D image.
// Energies and marginals are stored pixel-major: value (i, l) of pixel i
// and label l lives at i*Labels+l.
type DenseCRF2D struct {
	Width  int
	Height int
	Labels int

	unary    []float32
	pairwise []*kernel
}

// NewDenseCRF2D returns a CRF with zero unary energy and no pairwise terms.
func NewDenseCRF2D(width, height, labels int) (*DenseCRF2D, error) {
	if width < 1 || height < 1 {
		return nil, errors.Errorf("invalid CRF size %dx%d", width, height)
	}
	if labels < 1 {
		return nil, errors.Errorf("CRF needs at least one label, got %d", labels)
	}
	return &DenseCRF2D{
		Width:  width,
		Height: height,
		Labels: labels,
		unary:  make([]float32, width*height*labels),
	}, nil
}

// SetUnary replaces the unary energies.
func (c *DenseCRF2D) SetUnary(u []float32) error {
	if len(u) != len(c.unary) {
		return errors.Errorf("expected %d unary values, got %d", len(c.unary), len(u))
	}
	copy(c.unary, u)
	return nil
}

// AddPairwiseGaussian adds a smoothness kernel over pixel positions.
func (c *DenseCRF2D) AddPairwiseGaussian(sx, sy, weight float64) error {
	if sx <= 0 || sy <= 0 {
		return errors.Errorf("invalid gaussian kernel widths (%v, %v)", sx, sy)
	}
	n := c.Width * c.Height
	feats := make([]float32, 2*n)
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			i := y*c.Width + x
			feats[2*i] = float32(float64(x) / sx)
			feats[2*i+1] = float32(float64(y) / sy)
		}
	}
	k, err := newKernel(feats, 2, n, weight)
	if err != nil {
		return errors.Wrap(err, "failed to build gaussian kernel")
	}
	c.pairwise = append(c.pairwise, k)
	return nil
}

// AddPairwiseBilateral adds an appearance kernel over pixel positions and
// the values of every band of img.
func (c *DenseCRF2D) AddPairwiseBilateral(sx, sy, schan float64, img *imaging.Raster, weight float64) error {
	if img.Width != c.Width || img.Height != c.Height {
		return errors.Errorf("image is %dx%d, CRF is %dx%d", img.Width, img.Height, c.Width, c.Height)
	}
	if sx <= 0 || sy <= 0 || schan <= 0 {
		return errors.Errorf("invalid bilateral kernel widths (%v, %v, %v)", sx, sy, schan)
	}
	d := 2 + img.Bands
	n := c.Width * c.Height
	feats := make([]float32, d*n)
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			i := y*c.Width + x
			f := feats[i*d : (i+1)*d]
			f[0] = float32(float64(x) / sx)
			f[1] = float32(float64(y) / sy)
			for b := 0; b < img.Bands; b++ {
				f[2+b] = float32(float64(img.Pix[i*img.Bands+b]) / schan)
			}
		}
	}
	k, err := newKernel(feats, d, n, weight)
	if err != nil {
		return errors.Wrap(err, "failed to build bilateral kernel")
	}
	c.pairwise = append(c.pairwise, k)
	return nil
}

// Inference runs mean-field iterations and returns the approximate
// marginals Q.
func (c *DenseCRF2D) Inference(ctx context.Context, iterations int) ([]float32, error) {
	q := make([]float32, len(c.unary))
	tmp := make([]float32, len(c.unary))
	buf := make([]float32, len(c.unary))

	for i, u := range c.unary {
		tmp[i] = -u
	}
	expNormalize(q, tmp, c.Labels)

	for it := 0; it < iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "CRF inference interrupted")
		}
		for i, u := range c.unary {
			tmp[i] = -u
		}
		for _, k := range c.pairwise {
			k.message(tmp, q, buf, c.Labels)
		}
		expNormalize(q, tmp, c.Labels)
	}
	return q, nil
}

// MAP returns the most probable label of every pixel.
func MAP(q []float32, labels int) []int {
	out := make([]int, len(q)/labels)
	for i := range out {
		row := q[i*labels : (i+1)*labels]
		best := 0
		for l := 1; l < labels; l++ {
			if row[l] > row[best] {
				best = l
			}
		}
		out[i] = best
	}
	return out
}

// expNormalize writes the per-pixel softmax of in into out.
func expNormalize(out, in []float32, labels int) {
	for i := 0; i < len(in); i += labels {
		row := in[i : i+labels]
		mx := row[0]
		for _, v := range row[1:] {
			if v > mx {
				mx = v
			}
		}
		var sum float32
		for l, v := range row {
			e := float32(math.Exp(float64(v - mx)))
			out[i+l] = e
			sum += e
		}
		for l := range row {
			out[i+l] /= sum
		}
	}
}
