package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ironsheep/doodler-engine/internal/config"
)

// paramOptions mirrors config.Params as command line flags. Only flags the
// user sets override the configuration file.
type paramOptions struct {
	crfTheta      float64
	crfMu         float64
	crfDownsample int
	rfDownsample  int
	nSigmas       int
	sigmaMin      float64
	sigmaMax      float64
	multichannel  bool
	intensity     bool
	edges         bool
	texture       bool
	maxIter       int
}

var paramFlags paramOptions

func addParamFlags(c *cobra.Command) {
	flags := c.Flags()
	d := config.Default()
	flags.Float64Var(&paramFlags.crfTheta, "crf-theta", d.CRFTheta, "spatial std dev of the bilateral CRF kernel")
	flags.Float64Var(&paramFlags.crfMu, "crf-mu", d.CRFMu, "weight of the bilateral CRF kernel")
	flags.IntVar(&paramFlags.crfDownsample, "crf-downsample", d.CRFDownsample, "decimation factor before CRF inference")
	flags.IntVar(&paramFlags.rfDownsample, "rf-downsample", d.RFDownsample, "keep every n-th doodled pixel for training")
	flags.IntVar(&paramFlags.nSigmas, "n-sigmas", d.NSigmas, "number of feature scales")
	flags.Float64Var(&paramFlags.sigmaMin, "sigma-min", d.SigmaMin, "smallest feature scale")
	flags.Float64Var(&paramFlags.sigmaMax, "sigma-max", d.SigmaMax, "largest feature scale")
	flags.BoolVar(&paramFlags.multichannel, "multichannel", d.Multichannel, "extract features from every band")
	flags.BoolVar(&paramFlags.intensity, "intensity", d.Intensity, "use intensity features")
	flags.BoolVar(&paramFlags.edges, "edges", d.Edges, "use edge features")
	flags.BoolVar(&paramFlags.texture, "texture", d.Texture, "use texture features")
	flags.IntVar(&paramFlags.maxIter, "max-iter", d.MaxIter, "maximum classifier training epochs")
}

func (o *paramOptions) apply(c *cobra.Command, p *config.Params) {
	flags := c.Flags()
	set := func(name string, fn func()) {
		if flags.Changed(name) {
			fn()
		}
	}
	set("crf-theta", func() { p.CRFTheta = o.crfTheta })
	set("crf-mu", func() { p.CRFMu = o.crfMu })
	set("crf-downsample", func() { p.CRFDownsample = o.crfDownsample })
	set("rf-downsample", func() { p.RFDownsample = o.rfDownsample })
	set("n-sigmas", func() { p.NSigmas = o.nSigmas })
	set("sigma-min", func() { p.SigmaMin = o.sigmaMin })
	set("sigma-max", func() { p.SigmaMax = o.sigmaMax })
	set("multichannel", func() { p.Multichannel = o.multichannel })
	set("intensity", func() { p.Intensity = o.intensity })
	set("edges", func() { p.Edges = o.edges })
	set("texture", func() { p.Texture = o.texture })
	set("max-iter", func() { p.MaxIter = o.maxIter })
}
