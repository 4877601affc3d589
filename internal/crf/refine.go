package crf

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ironsheep/doodler-engine/internal/config"
	"github.com/ironsheep/doodler-engine/internal/imaging"
)

// Smoothness kernel settings shared by every refinement.
const (
	gaussianSXY    = 3
	gaussianCompat = 3
)

// Params controls a refinement.
type Params struct {
	Theta      float64
	Mu         float64
	Downsample int
	Iterations int
	GTProb     float64
}

// ParamsFrom extracts the CRF settings from run parameters.
func ParamsFrom(p config.Params) Params {
	return Params{
		Theta:      p.CRFTheta,
		Mu:         p.CRFMu,
		Downsample: p.CRFDownsample,
		Iterations: p.CRFIterations,
		GTProb:     p.CRFGTProb,
	}
}

// Refiner smooths label maps with a dense CRF over a decimated copy of the
// image and resizes the result back.
type Refiner struct {
	log    zerolog.Logger
	params Params
}

// NewRefiner returns a refiner. It warns when the pairwise weights can
// outweigh the unary of a confident label, since such settings tend to
// merge every class into one.
func NewRefiner(log zerolog.Logger, params Params) *Refiner {
	if params.Downsample < 1 {
		params.Downsample = 1
	}
	if limit := MaxPairwiseWeight(); params.Mu+gaussianCompat > limit {
		log.Warn().
			Float64("mu", params.Mu).
			Float64("limit", limit-gaussianCompat).
			Msg("CRF mu exceeds the unary energy of confident labels, classes may be lost")
	}
	return &Refiner{log: log, params: params}
}

// MaxPairwiseWeight is the energy gap between a certain and an impossible
// softmax label. Pairwise weights summing above it can overturn any
// classifier decision.
func MaxPairwiseWeight() float64 {
	return -math.Log(softmaxClip)
}

// ColourScale is the bilateral colour standard deviation used for an image
// of the given size; larger images get a wider one.
func ColourScale(width, height int) float64 {
	return 1 + 5*float64(max(width, height))/3000
}

// FromLabels refines sparse labels (0 unannotated, 1..n classes) and
// returns a dense map with values 1..n at the size of img.
func (r *Refiner) FromLabels(ctx context.Context, img *imaging.Raster, labels *imaging.LabelMap, n int) (*imaging.LabelMap, error) {
	if labels.Width != img.Width || labels.Height != img.Height {
		return nil, errors.Errorf("labels are %dx%d, image is %dx%d", labels.Width, labels.Height, img.Width, img.Height)
	}
	small := labels.Decimate(r.params.Downsample)
	return r.refine(ctx, img, n, "labels", func() ([]float32, error) {
		return UnaryFromLabels(small.Pix, n, r.params.GTProb)
	})
}

// FromSoftmax refines pixel-major class probabilities of img and returns a
// dense map with values 1..n.
func (r *Refiner) FromSoftmax(ctx context.Context, img *imaging.Raster, prob []float64, n int) (*imaging.LabelMap, error) {
	if len(prob) != img.Width*img.Height*n {
		return nil, errors.Errorf("expected %d probabilities, got %d", img.Width*img.Height*n, len(prob))
	}
	f := r.params.Downsample
	w := (img.Width + f - 1) / f
	h := (img.Height + f - 1) / f
	small := make([]float64, 0, w*h*n)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*f)*img.Width + x*f
			small = append(small, prob[i*n:(i+1)*n]...)
		}
	}
	return r.refine(ctx, img, n, "softmax", func() ([]float32, error) {
		return UnaryFromSoftmax(small, n)
	})
}

func (r *Refiner) refine(ctx context.Context, img *imaging.Raster, n int, source string, unary func() ([]float32, error)) (*imaging.LabelMap, error) {
	if n < 2 {
		return nil, errors.Errorf("CRF needs at least 2 classes, got %d", n)
	}
	scale := ColourScale(img.Width, img.Height)
	r.log.Info().
		Float64("scale", scale).
		Int("downsample", r.params.Downsample).
		Float64("theta", r.params.Theta).
		Float64("mu", r.params.Mu).
		Str("source", source).
		Msg("CRF refinement starting")

	small := img.Decimate(r.params.Downsample)
	u, err := unary()
	if err != nil {
		return nil, err
	}

	c, err := NewDenseCRF2D(small.Width, small.Height, n)
	if err != nil {
		return nil, err
	}
	if err := c.SetUnary(u); err != nil {
		return nil, err
	}
	if err := c.AddPairwiseGaussian(gaussianSXY, gaussianSXY, gaussianCompat); err != nil {
		return nil, err
	}
	if err := c.AddPairwiseBilateral(r.params.Theta, r.params.Theta, scale, small, r.params.Mu); err != nil {
		return nil, err
	}
	r.log.Debug().Int("width", small.Width).Int("height", small.Height).Msg("CRF features built, inference starting")

	q, err := c.Inference(ctx, r.params.Iterations)
	if err != nil {
		return nil, err
	}

	out := imaging.NewLabelMap(small.Width, small.Height)
	for i, l := range MAP(q, n) {
		out.Pix[i] = uint8(l + 1)
	}
	r.log.Info().Str("source", source).Msg("CRF inference complete")
	return out.Resize(img.Width, img.Height), nil
}
