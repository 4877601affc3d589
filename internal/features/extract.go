package features

import (
	"context"
	"math"
	"runtime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/doodler-engine/internal/config"
	"github.com/ironsheep/doodler-engine/internal/imaging"
)

// Parallel extraction needs more than this much physical memory...
const parallelMinTotalRAM = 10_000_000_000

// ...and less than this share of it in use.
const parallelMaxUsedPercent = 50.0

// Options selects which features are computed and over which scales.
type Options struct {
	NSigmas      int
	SigmaMin     float64
	SigmaMax     float64
	Multichannel bool
	Intensity    bool
	Edges        bool
	Texture      bool
}

// DefaultOptions mirrors the defaults of config.Default.
func DefaultOptions() Options {
	return OptionsFromParams(config.Default())
}

// OptionsFromParams extracts the feature settings from run parameters.
func OptionsFromParams(p config.Params) Options {
	return Options{
		NSigmas:      p.NSigmas,
		SigmaMin:     p.SigmaMin,
		SigmaMax:     p.SigmaMax,
		Multichannel: p.Multichannel,
		Intensity:    p.Intensity,
		Edges:        p.Edges,
		Texture:      p.Texture,
	}
}

// PerSigma is the number of features produced for one band at one sigma.
func (o Options) PerSigma() int {
	n := 1 // location
	if o.Intensity {
		n++
	}
	if o.Edges {
		n++
	}
	if o.Texture {
		n += 2
	}
	return n
}

// Sigmas returns n scales geometrically spaced between lo and hi inclusive.
func Sigmas(n int, lo, hi float64) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	a, b := math.Log2(lo), math.Log2(hi)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Exp2(a + (b-a)*float64(i)/float64(n-1))
	}
	return out
}

// Stack is a set of per-pixel feature planes of equal size.
type Stack struct {
	Width  int
	Height int
	Planes [][]float32
}

// NumFeatures is the number of planes.
func (s *Stack) NumFeatures() int {
	return len(s.Planes)
}

// NumPixels is Width*Height.
func (s *Stack) NumPixels() int {
	return s.Width * s.Height
}

// Len is the number of pixels, one feature row each.
func (s *Stack) Len() int {
	return s.NumPixels()
}

// Dim is the number of features per row.
func (s *Stack) Dim() int {
	return len(s.Planes)
}

// Row copies the features of pixel i into dst (allocating when dst is too
// short) and returns it.
func (s *Stack) Row(i int, dst []float64) []float64 {
	if cap(dst) < len(s.Planes) {
		dst = make([]float64, len(s.Planes))
	}
	dst = dst[:len(s.Planes)]
	for f, p := range s.Planes {
		dst[f] = float64(p[i])
	}
	return dst
}

// MemoryProbe reports total physical memory in bytes and the percentage in use.
type MemoryProbe func() (total uint64, usedPercent float64, err error)

// SystemMemory reads virtual memory statistics from the OS.
func SystemMemory() (uint64, float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read memory stats")
	}
	return vm.Total, vm.UsedPercent, nil
}

// Extractor computes feature stacks.
type Extractor struct {
	log   zerolog.Logger
	opts  Options
	probe MemoryProbe
}

// NewExtractor validates opts and returns an extractor probing system memory.
func NewExtractor(log zerolog.Logger, opts Options) (*Extractor, error) {
	if opts.NSigmas < 1 {
		return nil, errors.Errorf("n_sigmas must be >= 1, got %d", opts.NSigmas)
	}
	if opts.SigmaMin <= 0 || opts.SigmaMax < opts.SigmaMin {
		return nil, errors.Errorf("invalid sigma range [%v, %v]", opts.SigmaMin, opts.SigmaMax)
	}
	return &Extractor{log: log, opts: opts, probe: SystemMemory}, nil
}

// WithMemoryProbe replaces the memory probe used to pick serial or parallel mode.
func (e *Extractor) WithMemoryProbe(p MemoryProbe) *Extractor {
	e.probe = p
	return e
}

// SigmaFeatures computes the features of one plane at one scale, in order:
// location, intensity, edges, then the two Hessian eigenvalues.
func (e *Extractor) SigmaFeatures(plane []float32, width, height int, sigma float64) [][]float32 {
	out := make([][]float32, 0, e.opts.PerSigma())

	// Radius of the blurred pixel coordinates.
	xs := make([]float64, width)
	for x := range xs {
		xs[x] = float64(x)
	}
	ys := make([]float64, height)
	for y := range ys {
		ys[y] = float64(y)
	}
	gx := blur1D(xs, sigma)
	gy := blur1D(ys, sigma)
	loc := make([]float32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			loc[y*width+x] = float32(math.Hypot(gx[x], gy[y]))
		}
	}
	out = append(out, loc)
	e.log.Debug().Float64("sigma", sigma).Msg("location features extracted")

	blurred := GaussianBlur(plane, width, height, sigma)
	if e.opts.Intensity {
		out = append(out, blurred)
		e.log.Debug().Float64("sigma", sigma).Msg("intensity features extracted")
	}

	if e.opts.Edges {
		out = append(out, Sobel(blurred, width, height))
		e.log.Debug().Float64("sigma", sigma).Msg("edge features extracted")
	}

	if e.opts.Texture {
		l1, l2 := HessianEigenvalues(blurred, width, height)
		out = append(out, l1, l2)
		e.log.Debug().Float64("sigma", sigma).Msg("texture features extracted")
	}

	e.log.Info().Msgf("image features extracted using sigma= %f", sigma)
	return out
}

// parallelAllowed reports whether there is enough free memory to extract all
// scales at once.
func (e *Extractor) parallelAllowed() bool {
	if e.probe == nil {
		return false
	}
	total, used, err := e.probe()
	if err != nil {
		e.log.Warn().Err(err).Msg("memory probe failed, extracting in series")
		return false
	}
	e.log.Info().Uint64("total_ram", total).Float64("ram_used_percent", used).Msg("memory status")
	return total > parallelMinTotalRAM && used < parallelMaxUsedPercent
}

// ExtractChannel computes the features of one band over every sigma, sigma
// by sigma in increasing order.
func (e *Extractor) ExtractChannel(ctx context.Context, dim int, plane []float32, width, height int) ([][]float32, error) {
	e.log.Info().Msgf("extracting features from channel %d", dim)

	sigmas := Sigmas(e.opts.NSigmas, e.opts.SigmaMin, e.opts.SigmaMax)
	results := make([][][]float32, len(sigmas))

	if e.parallelAllowed() {
		e.log.Info().Msg("extracting features in parallel")
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, runtime.NumCPU()-1))
		for i, sigma := range sigmas {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = e.SigmaFeatures(plane, width, height, sigma)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "feature extraction interrupted")
		}
	} else {
		e.log.Info().Msg("extracting features in series")
		for i, sigma := range sigmas {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "feature extraction interrupted")
			}
			results[i] = e.SigmaFeatures(plane, width, height, sigma)
		}
	}

	out := make([][]float32, 0, len(sigmas)*e.opts.PerSigma())
	for _, r := range results {
		out = append(out, r...)
	}
	e.log.Info().Msgf("features from channel %d for all scales", dim)
	return out, nil
}

// Extract computes the feature stack of a raster. With Multichannel set every
// band contributes in band order; otherwise only band 0 is used.
func (e *Extractor) Extract(ctx context.Context, r *imaging.Raster) (*Stack, error) {
	if r.Width == 0 || r.Height == 0 {
		return nil, errors.New("cannot extract features from an empty raster")
	}

	bands := 1
	if e.opts.Multichannel {
		bands = r.Bands
	}

	stack := &Stack{Width: r.Width, Height: r.Height}
	for dim := 0; dim < bands; dim++ {
		planes, err := e.ExtractChannel(ctx, dim, r.Band(dim), r.Width, r.Height)
		if err != nil {
			return nil, err
		}
		stack.Planes = append(stack.Planes, planes...)
	}

	e.log.Info().Int("features", stack.NumFeatures()).Msg("feature extraction complete")
	return stack, nil
}
