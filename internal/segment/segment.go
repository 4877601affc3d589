package segment

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ironsheep/doodler-engine/internal/classifier"
	"github.com/ironsheep/doodler-engine/internal/config"
	"github.com/ironsheep/doodler-engine/internal/crf"
	"github.com/ironsheep/doodler-engine/internal/features"
	"github.com/ironsheep/doodler-engine/internal/imaging"
)

// Method names the path that produced a segmentation.
type Method string

const (
	// MethodSingleClass: only one class was doodled, every pixel gets it.
	MethodSingleClass Method = "single_class"
	// MethodMLPCRF: CRF seeded with the classifier output.
	MethodMLPCRF Method = "mlp_crf"
	// MethodCRFFromDoodles: CRF seeded with the doodles themselves.
	MethodCRFFromDoodles Method = "crf_from_doodles"
	// MethodMLP: raw classifier output, used when the CRF failed.
	MethodMLP Method = "mlp"
)

var (
	// ErrNoDoodles is returned when the doodle map has no annotated pixel.
	ErrNoDoodles = errors.New("no doodled pixels")

	// ErrShapeMismatch is returned when image and doodles differ in size.
	ErrShapeMismatch = errors.New("image and doodles differ in size")
)

// Timings records the wall time of each stage.
type Timings struct {
	Features   time.Duration `json:"features"`
	Training   time.Duration `json:"training"`
	Prediction time.Duration `json:"prediction"`
	CRF        time.Duration `json:"crf"`
	Total      time.Duration `json:"total"`
}

// Result is a dense segmentation. Label k corresponds to doodle class k+1.
type Result struct {
	Labels *imaging.LabelMap

	// DoodleClasses are the annotated class ids, ascending.
	DoodleClasses []uint8
	// Classes are the output labels present in Labels, ascending.
	Classes []uint8
	// Counts maps each output label to its pixel count.
	Counts map[uint8]int

	Method  Method
	Samples int
	Timings Timings
}

// labelRefiner is the CRF stage. *crf.Refiner implements it.
type labelRefiner interface {
	FromLabels(ctx context.Context, img *imaging.Raster, labels *imaging.LabelMap, n int) (*imaging.LabelMap, error)
	FromSoftmax(ctx context.Context, img *imaging.Raster, prob []float64, n int) (*imaging.LabelMap, error)
}

// classifyFunc labels every pixel of img as compact classes 1..n.
type classifyFunc func(ctx context.Context, img *imaging.Raster, compact *imaging.LabelMap, res *Result) (*imaging.LabelMap, error)

// Segmenter runs the doodle-to-label pipeline.
type Segmenter struct {
	log    zerolog.Logger
	params config.Params
	probe  features.MemoryProbe
	mlp    classifier.MLPConfig

	classify classifyFunc
	refiner  labelRefiner
}

// New validates params and returns a segmenter.
func New(log zerolog.Logger, params config.Params) (*Segmenter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	mlp := classifier.DefaultMLPConfig()
	mlp.MaxIter = params.MaxIter
	s := &Segmenter{
		log:     log,
		params:  params,
		probe:   features.SystemMemory,
		mlp:     mlp,
		refiner: crf.NewRefiner(log, crf.ParamsFrom(params)),
	}
	s.classify = s.classifyMLP
	return s, nil
}

// WithMemoryProbe replaces the probe that decides parallel feature extraction.
func (s *Segmenter) WithMemoryProbe(p features.MemoryProbe) *Segmenter {
	s.probe = p
	return s
}

// WithMLPConfig replaces the classifier hyper-parameters.
func (s *Segmenter) WithMLPConfig(cfg classifier.MLPConfig) *Segmenter {
	s.mlp = cfg
	return s
}

// Segment labels every pixel of img using the logger stored in ctx.
func Segment(ctx context.Context, img *imaging.Raster, doodles *imaging.LabelMap, params config.Params) (*Result, error) {
	s, err := New(*zerolog.Ctx(ctx), params)
	if err != nil {
		return nil, err
	}
	return s.Segment(ctx, img, doodles)
}

// Segment labels every pixel of img from the sparse annotation in doodles
// (0 unannotated, k > 0 class k).
func (s *Segmenter) Segment(ctx context.Context, img *imaging.Raster, doodles *imaging.LabelMap) (*Result, error) {
	start := time.Now()
	if img.Width != doodles.Width || img.Height != doodles.Height {
		return nil, errors.Wrapf(ErrShapeMismatch, "image %dx%d, doodles %dx%d",
			img.Width, img.Height, doodles.Width, doodles.Height)
	}

	std, err := imaging.Standardize(img)
	if err != nil {
		return nil, errors.Wrap(err, "failed to standardize image")
	}
	s.log.Info().Msg("image standardized")

	classes := doodles.Classes()
	for _, c := range classes {
		s.log.Info().Msgf("examples provided of %d", c)
	}

	res := &Result{DoodleClasses: classes}
	switch len(classes) {
	case 0:
		return nil, ErrNoDoodles
	case 1:
		s.log.Info().Msgf("only one class annotation provided, skipping MLP and CRF and coding all pixels %d", classes[0])
		res.Labels = imaging.NewLabelMap(img.Width, img.Height)
		for i := range res.Labels.Pix {
			res.Labels.Pix[i] = classes[0] - 1
		}
		res.Method = MethodSingleClass
		return s.finish(res, start), nil
	}

	n := len(classes)
	compact := compactDoodles(doodles, classes)

	mlpLabels, err := s.classify(ctx, std, compact, res)
	if err != nil {
		return nil, err
	}

	crfStart := time.Now()
	labels, method, err := s.refine(ctx, std, compact, mlpLabels, n)
	res.Timings.CRF = time.Since(crfStart)
	if err != nil {
		s.log.Warn().Err(err).Msg("CRF failed, using MLP labels")
		labels, method = mlpLabels, MethodMLP
	}
	logMemory(s.log)

	res.Labels = expand(labels, classes)
	res.Method = method
	return s.finish(res, start), nil
}

// classifyMLP trains the MLP on doodled pixels and returns its labels over
// the whole image as compact class values 1..n.
func (s *Segmenter) classifyMLP(ctx context.Context, img *imaging.Raster, compact *imaging.LabelMap, res *Result) (*imaging.LabelMap, error) {
	s.log.Info().Msg("extracting features for MLP classifier")
	t := time.Now()
	ext, err := features.NewExtractor(s.log, features.OptionsFromParams(s.params))
	if err != nil {
		return nil, err
	}
	stack, err := ext.WithMemoryProbe(s.probe).Extract(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "feature extraction failed")
	}
	res.Timings.Features = time.Since(t)

	t = time.Now()
	idx := TrainingIndices(compact, s.params.RFDownsample, s.params.MaxSamples)
	s.log.Info().Int("samples", len(idx)).Int("limit", s.params.MaxSamples).Msg("training samples selected")
	x := classifier.Collect(stack, idx)
	y := make([]int, len(idx))
	for k, i := range idx {
		y[k] = int(compact.Pix[i])
	}
	res.Samples = len(idx)

	pipe := classifier.NewPipeline(s.log, s.mlp)
	if err := pipe.Fit(ctx, x, y); err != nil {
		return nil, err
	}
	res.Timings.Training = time.Since(t)
	s.log.Info().Float64("sigma_min", s.params.SigmaMin).Float64("sigma_max", s.params.SigmaMax).Msg("MLP model fit to data")

	t = time.Now()
	pred, err := pipe.Predict(ctx, stack)
	if err != nil {
		return nil, errors.Wrap(err, "prediction failed")
	}
	res.Timings.Prediction = time.Since(t)
	logMemory(s.log)

	out := imaging.NewLabelMap(img.Width, img.Height)
	for i, c := range pred {
		out.Pix[i] = uint8(c)
	}
	return out, nil
}

// refine picks the CRF seeding, falling back to the doodles whenever a
// class disappears.
func (s *Segmenter) refine(ctx context.Context, img *imaging.Raster, compact, mlp *imaging.LabelMap, n int) (*imaging.LabelMap, Method, error) {
	r := s.refiner
	if len(mlp.Classes()) < n {
		s.log.Info().Msg("MLP method lost classes, computing CRF from original doodles")
		out, err := r.FromLabels(ctx, img, compact, n)
		return out, MethodCRFFromDoodles, err
	}

	s.log.Info().Msg("CRF from MLP softmax scores being computed")
	out, err := r.FromSoftmax(ctx, img, oneHot(mlp, n), n)
	if err != nil {
		return nil, "", err
	}
	if len(out.Classes()) == n {
		return out, MethodMLPCRF, nil
	}

	s.log.Info().Msg("CRF from MLP softmax scores lost classes, computing CRF from original doodles")
	out, err = r.FromLabels(ctx, img, compact, n)
	return out, MethodCRFFromDoodles, err
}

func (s *Segmenter) finish(res *Result, start time.Time) *Result {
	res.Counts = res.Labels.Counts()
	res.Classes = make([]uint8, 0, len(res.Counts))
	for c := range res.Counts {
		res.Classes = append(res.Classes, c)
	}
	slices.Sort(res.Classes)
	res.Timings.Total = time.Since(start)
	s.log.Info().Str("method", string(res.Method)).Dur("elapsed", res.Timings.Total).Msg("label creation complete")
	return res
}

// TrainingIndices returns the raster indices of doodled pixels used for
// training: every stride-th doodled pixel in raster order, then at most
// limit of those spaced evenly.
func TrainingIndices(doodles *imaging.LabelMap, stride, limit int) []int {
	var idx []int
	for i, v := range doodles.Pix {
		if v > 0 {
			idx = append(idx, i)
		}
	}
	if stride > 1 {
		kept := idx[:0]
		for k := 0; k < len(idx); k += stride {
			kept = append(kept, idx[k])
		}
		idx = kept
	}
	if limit <= 0 || len(idx) <= limit {
		return idx
	}
	out := make([]int, limit)
	if limit == 1 {
		out[0] = idx[0]
		return out
	}
	step := float64(len(idx)-1) / float64(limit-1)
	for k := range out {
		out[k] = idx[int(math.RoundToEven(float64(k)*step))]
	}
	return out
}

// compactDoodles renumbers doodle classes to 1..n in ascending order.
func compactDoodles(doodles *imaging.LabelMap, classes []uint8) *imaging.LabelMap {
	var lut [256]uint8
	for k, c := range classes {
		lut[c] = uint8(k + 1)
	}
	out := imaging.NewLabelMap(doodles.Width, doodles.Height)
	for i, v := range doodles.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}

// expand maps compact values 1..n back to 0-based output labels.
func expand(labels *imaging.LabelMap, classes []uint8) *imaging.LabelMap {
	out := imaging.NewLabelMap(labels.Width, labels.Height)
	for i, v := range labels.Pix {
		if v > 0 {
			out.Pix[i] = classes[v-1] - 1
		}
	}
	return out
}

// oneHot encodes compact labels 1..n as pixel-major probabilities.
func oneHot(labels *imaging.LabelMap, n int) []float64 {
	out := make([]float64, len(labels.Pix)*n)
	for i, v := range labels.Pix {
		if v > 0 {
			out[i*n+int(v)-1] = 1
		}
	}
	return out
}

func logMemory(log zerolog.Logger) {
	if _, used, err := features.SystemMemory(); err == nil {
		log.Info().Msgf("percent RAM usage: %f", used)
	}
}
