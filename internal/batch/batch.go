package batch

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/ironsheep/doodler-engine/internal/config"
	"github.com/ironsheep/doodler-engine/internal/imaging"
	"github.com/ironsheep/doodler-engine/internal/segment"
)

const (
	DefaultPattern      = "**/*.{jpg,jpeg,png,JPG,JPEG,PNG}"
	DefaultDoodleSuffix = "_doodles.png"
	DefaultOpacity      = 0.5

	labelSuffix   = "_label.png"
	overlaySuffix = "_overlay.png"
)

// Options describes a directory run.
type Options struct {
	InputDir  string
	OutputDir string

	// Pattern selects images relative to InputDir (doublestar syntax).
	Pattern string

	// DoodleSuffix is appended to an image's stem to find its doodles.
	DoodleSuffix string

	// Overlay also writes a colour overlay next to each label image.
	Overlay bool
	// Opacity is the label layer weight of overlays. nil means
	// DefaultOpacity; 0 is a legal value.
	Opacity *float64

	Palette   *imaging.Palette
	Tolerance float64

	// Progress receives the progress bar. nil disables it.
	Progress io.Writer
}

func (o *Options) setDefaults() {
	if o.Pattern == "" {
		o.Pattern = DefaultPattern
	}
	if o.DoodleSuffix == "" {
		o.DoodleSuffix = DefaultDoodleSuffix
	}
	if o.OutputDir == "" {
		o.OutputDir = o.InputDir
	}
	if o.Opacity == nil {
		v := DefaultOpacity
		o.Opacity = &v
	}
	if o.Palette == nil {
		o.Palette = imaging.DefaultPalette()
	}
	if o.Tolerance == 0 {
		o.Tolerance = imaging.DefaultMatchTolerance
	}
}

// Job is one image with its doodles and output paths.
type Job struct {
	Image   string `json:"image"`
	Doodles string `json:"doodles"`
	Label   string `json:"label"`
	Overlay string `json:"overlay,omitempty"`
}

// JobResult reports the outcome of one job.
type JobResult struct {
	Job
	Method  segment.Method `json:"method,omitempty"`
	Classes []uint8        `json:"classes,omitempty"`
	Elapsed time.Duration  `json:"elapsed"`
	Error   string         `json:"error,omitempty"`
}

// Summary reports a whole run.
type Summary struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Skipped   []string    `json:"skipped,omitempty"`
	Results   []JobResult `json:"results"`
}

// isOutput reports whether name is a file this package reads or writes
// besides source images.
func isOutput(name, doodleSuffix string) bool {
	return strings.HasSuffix(name, doodleSuffix) ||
		strings.HasSuffix(name, labelSuffix) ||
		strings.HasSuffix(name, overlaySuffix)
}

// Discover lists the jobs under opts.InputDir in lexical order. Images with
// no doodle file are returned in skipped.
func Discover(opts Options) (jobs []Job, skipped []string, err error) {
	opts.setDefaults()

	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot read input directory %q", opts.InputDir)
	}
	if !info.IsDir() {
		return nil, nil, errors.Errorf("input %q is not a directory", opts.InputDir)
	}

	err = filepath.WalkDir(opts.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isOutput(d.Name(), opts.DoodleSuffix) {
			return nil
		}
		rel, err := filepath.Rel(opts.InputDir, path)
		if err != nil {
			return err
		}
		ok, err := doublestar.Match(opts.Pattern, filepath.ToSlash(rel))
		if err != nil {
			return errors.Wrapf(err, "bad pattern %q", opts.Pattern)
		}
		if !ok {
			return nil
		}

		stem := strings.TrimSuffix(path, filepath.Ext(path))
		doodles := stem + opts.DoodleSuffix
		if _, err := os.Stat(doodles); err != nil {
			skipped = append(skipped, path)
			return nil
		}

		out := filepath.Join(opts.OutputDir, strings.TrimSuffix(rel, filepath.Ext(rel)))
		job := Job{Image: path, Doodles: doodles, Label: out + labelSuffix}
		if opts.Overlay {
			job.Overlay = out + overlaySuffix
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to scan input directory")
	}
	return jobs, skipped, nil
}

// Run segments every discovered job. A failing image is recorded and the
// run continues; cancelling ctx stops it between images.
func Run(ctx context.Context, log zerolog.Logger, params config.Params, opts Options) (*Summary, error) {
	opts.setDefaults()
	seg, err := segment.New(log, params)
	if err != nil {
		return nil, err
	}

	jobs, skipped, err := Discover(opts)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		log.Warn().Str("image", s).Msg("no doodles found, skipping")
	}
	log.Info().Int("images", len(jobs)).Int("skipped", len(skipped)).Msg("batch discovered")

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(
			len(jobs),
			progressbar.OptionSetDescription("segmenting"),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				io.WriteString(opts.Progress, "\n")
			}),
			progressbar.OptionSetWriter(opts.Progress),
		)
	}

	summary := &Summary{Skipped: skipped, Results: make([]JobResult, 0, len(jobs))}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return summary, errors.Wrap(err, "batch interrupted")
		}

		res := runJob(ctx, seg, opts, job)
		if res.Error != "" {
			summary.Failed++
			log.Error().Str("image", job.Image).Str("error", res.Error).Msg("segmentation failed")
		} else {
			summary.Processed++
			log.Info().Str("image", job.Image).Str("method", string(res.Method)).Dur("elapsed", res.Elapsed).Msg("segmented")
		}
		summary.Results = append(summary.Results, res)
		if bar != nil {
			bar.Add(1)
		}
	}
	return summary, nil
}

func runJob(ctx context.Context, seg *segment.Segmenter, opts Options, job Job) JobResult {
	start := time.Now()
	out := JobResult{Job: job}
	fail := func(err error) JobResult {
		out.Error = err.Error()
		out.Elapsed = time.Since(start)
		return out
	}

	img, err := imaging.LoadImage(job.Image)
	if err != nil {
		return fail(err)
	}
	doodles, err := imaging.LoadDoodles(job.Doodles, opts.Palette, opts.Tolerance)
	if err != nil {
		return fail(err)
	}

	res, err := seg.Segment(ctx, imaging.RasterFromImage(img), doodles)
	if err != nil {
		return fail(err)
	}
	if err := imaging.SaveLabels(job.Label, res.Labels); err != nil {
		return fail(err)
	}
	if job.Overlay != "" {
		ov, err := imaging.Overlay(img, imaging.ShiftLabels(res.Labels, 1), opts.Palette, *opts.Opacity)
		if err != nil {
			return fail(err)
		}
		if err := imaging.SavePNG(job.Overlay, ov); err != nil {
			return fail(err)
		}
	}

	out.Method = res.Method
	out.Classes = res.Classes
	out.Elapsed = time.Since(start)
	return out
}
