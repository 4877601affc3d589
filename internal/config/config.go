// Package config holds the tunable parameters of the segmentation engine.
//
// Parameters use JSON tags so the same struct is read from YAML files
// (via ghodss/yaml), from MCP tool arguments and from CLI flags.
package config

import (
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Params controls every stage of a segmentation run.
type Params struct {
	// CRFTheta is the spatial standard deviation of the bilateral kernel.
	CRFTheta float64 `json:"crf_theta"`

	// CRFMu is the Potts weight of the bilateral kernel. The bilateral term
	// sees the standardized image, whose values span [0,1], against a colour
	// width above 1, so it acts mostly spatially; weights far above the
	// unary energy of a confident label flood the image with one class.
	CRFMu float64 `json:"crf_mu"`

	// CRFDownsample decimates the image and labels before CRF inference.
	CRFDownsample int `json:"crf_downsample"`

	// CRFIterations is the number of mean-field iterations.
	CRFIterations int `json:"crf_iterations"`

	// CRFGTProb is the confidence given to doodled pixels when the CRF is
	// seeded from the doodles instead of the classifier.
	CRFGTProb float64 `json:"crf_gt_prob"`

	// RFDownsample keeps every n-th doodled pixel as a training sample.
	RFDownsample int `json:"rf_downsample"`

	// MaxSamples caps the number of training samples.
	MaxSamples int `json:"max_samples"`

	NSigmas      int     `json:"n_sigmas"`
	SigmaMin     float64 `json:"sigma_min"`
	SigmaMax     float64 `json:"sigma_max"`
	Multichannel bool    `json:"multichannel"`
	Intensity    bool    `json:"intensity"`
	Edges        bool    `json:"edges"`
	Texture      bool    `json:"texture"`

	// MaxIter bounds the number of classifier training epochs.
	MaxIter int `json:"max_iter"`
}

// Default returns the parameters Doodler ships with.
func Default() Params {
	return Params{
		CRFTheta:      1,
		CRFMu:         1,
		CRFDownsample: 2,
		CRFIterations: 10,
		CRFGTProb:     0.51,
		RFDownsample:  1,
		MaxSamples:    100000,
		NSigmas:       6,
		SigmaMin:      0.5,
		SigmaMax:      16,
		Multichannel:  true,
		Intensity:     true,
		Edges:         true,
		Texture:       true,
		MaxIter:       2000,
	}
}

// Validate reports the first parameter outside its legal range.
func (p Params) Validate() error {
	switch {
	case p.CRFTheta <= 0:
		return errors.Errorf("crf_theta must be > 0, got %v", p.CRFTheta)
	case p.CRFMu < 0:
		return errors.Errorf("crf_mu must be >= 0, got %v", p.CRFMu)
	case p.CRFDownsample < 1:
		return errors.Errorf("crf_downsample must be >= 1, got %d", p.CRFDownsample)
	case p.CRFIterations < 1:
		return errors.Errorf("crf_iterations must be >= 1, got %d", p.CRFIterations)
	case p.CRFGTProb <= 0 || p.CRFGTProb >= 1:
		return errors.Errorf("crf_gt_prob must be in (0,1), got %v", p.CRFGTProb)
	case p.RFDownsample < 1:
		return errors.Errorf("rf_downsample must be >= 1, got %d", p.RFDownsample)
	case p.MaxSamples < 1:
		return errors.Errorf("max_samples must be >= 1, got %d", p.MaxSamples)
	case p.NSigmas < 1:
		return errors.Errorf("n_sigmas must be >= 1, got %d", p.NSigmas)
	case p.SigmaMin <= 0 || p.SigmaMax < p.SigmaMin:
		return errors.Errorf("invalid sigma range [%v, %v]", p.SigmaMin, p.SigmaMax)
	case p.MaxIter < 1:
		return errors.Errorf("max_iter must be >= 1, got %d", p.MaxIter)
	}
	return nil
}

// Parse decodes YAML (or JSON) on top of the defaults, so a document only
// needs to name the values it changes.
func Parse(data []byte) (Params, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, errors.Wrap(err, "failed to parse params")
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Load reads params from a YAML file. An empty path returns the defaults.
func Load(path string) (Params, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), errors.Wrapf(err, "failed to read config %q", path)
	}
	return Parse(data)
}

// Marshal renders params as YAML.
func (p Params) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// LogLevelEnv names the environment variable that sets the log level.
const LogLevelEnv = "DOODLER_LOG_LEVEL"

// LogLevel returns the level named by DOODLER_LOG_LEVEL, or info.
func LogLevel() zerolog.Level {
	v := strings.TrimSpace(os.Getenv(LogLevelEnv))
	if v == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(v))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
