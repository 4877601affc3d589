package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ironsheep/doodler-engine/internal/imaging"
	"github.com/ironsheep/doodler-engine/internal/segment"
)

var cmdSegment = &cobra.Command{
	Use:   "segment",
	Short: "segment one image from its doodles",
	Run: func(c *cobra.Command, args []string) {
		if err := segmentRun(c, args); err != nil {
			log.Fatal().Err(err).Send()
		}
	},
}

type segmentOptions struct {
	image   string
	doodles string
	output  string
	overlay string
	opacity float64
}

var segmentOpts segmentOptions

func init() {
	flags := cmdSegment.Flags()

	flags.StringVarP(&segmentOpts.image, "image", "i", "", "image to segment")
	flags.StringVarP(&segmentOpts.doodles, "doodles", "D", "", "doodle png of the same size")
	flags.StringVarP(&segmentOpts.output, "output", "o", "", "label png to write")
	flags.StringVar(&segmentOpts.overlay, "overlay", "", "optional colour overlay png to write")
	flags.Float64Var(&segmentOpts.opacity, "opacity", 0.5, "label opacity of the overlay")
	addParamFlags(cmdSegment)

	if err := cmdSegment.MarkFlagRequired("image"); err != nil {
		log.Fatal().Err(err).Send()
	}
	if err := cmdSegment.MarkFlagRequired("doodles"); err != nil {
		log.Fatal().Err(err).Send()
	}
	if err := cmdSegment.MarkFlagRequired("output"); err != nil {
		log.Fatal().Err(err).Send()
	}

	cmdRoot.AddCommand(cmdSegment)
}

func segmentRun(c *cobra.Command, args []string) error {
	params, err := loadParams(c)
	if err != nil {
		return err
	}
	if segmentOpts.opacity < 0 || segmentOpts.opacity > 1 {
		return errors.Errorf("opacity must be in [0,1], got %v", segmentOpts.opacity)
	}

	img, err := imaging.LoadImage(segmentOpts.image)
	if err != nil {
		return err
	}
	palette := imaging.DefaultPalette()
	doodles, err := imaging.LoadDoodles(segmentOpts.doodles, palette, imaging.DefaultMatchTolerance)
	if err != nil {
		return err
	}

	ctx := log.Logger.WithContext(c.Context())
	res, err := segment.Segment(ctx, imaging.RasterFromImage(img), doodles, params)
	if err != nil {
		return errors.Wrapf(err, "failed to segment %q", segmentOpts.image)
	}

	if err := imaging.SaveLabels(segmentOpts.output, res.Labels); err != nil {
		return err
	}
	if segmentOpts.overlay != "" {
		ov, err := imaging.Overlay(img, imaging.ShiftLabels(res.Labels, 1), palette, segmentOpts.opacity)
		if err != nil {
			return err
		}
		if err := imaging.SavePNG(segmentOpts.overlay, ov); err != nil {
			return err
		}
	}

	log.Info().
		Str("labels", segmentOpts.output).
		Str("method", string(res.Method)).
		Interface("classes", res.Classes).
		Dur("elapsed", res.Timings.Total).
		Msg("segmentation written")
	return nil
}
