package cmd

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ironsheep/doodler-engine/internal/batch"
)

var cmdBatch = &cobra.Command{
	Use:   "batch",
	Short: "segment every doodled image below a directory",
	Run: func(c *cobra.Command, args []string) {
		if err := batchRun(c, args); err != nil {
			log.Fatal().Err(err).Send()
		}
	},
}

type batchOptions struct {
	input    string
	output   string
	pattern  string
	suffix   string
	overlay  bool
	opacity  float64
	progress bool
	report   string
}

var batchOpts batchOptions

func init() {
	flags := cmdBatch.Flags()

	flags.StringVarP(&batchOpts.input, "input", "i", "", "directory with images and doodles")
	flags.StringVarP(&batchOpts.output, "output", "o", "", "directory for label images (defaults to input)")
	flags.StringVar(&batchOpts.pattern, "pattern", batch.DefaultPattern, "glob selecting images below input")
	flags.StringVar(&batchOpts.suffix, "doodle-suffix", batch.DefaultDoodleSuffix, "suffix naming an image's doodle file")
	flags.BoolVar(&batchOpts.overlay, "overlay", false, "also write colour overlays")
	flags.Float64Var(&batchOpts.opacity, "opacity", batch.DefaultOpacity, "label opacity of the overlays")
	flags.BoolVar(&batchOpts.progress, "progress", true, "show a progress bar on stderr")
	flags.StringVar(&batchOpts.report, "report", "", "write the json run summary to this file")
	addParamFlags(cmdBatch)

	if err := cmdBatch.MarkFlagRequired("input"); err != nil {
		log.Fatal().Err(err).Send()
	}

	cmdRoot.AddCommand(cmdBatch)
}

func batchRun(c *cobra.Command, args []string) error {
	params, err := loadParams(c)
	if err != nil {
		return err
	}

	opts := batch.Options{
		InputDir:     batchOpts.input,
		OutputDir:    batchOpts.output,
		Pattern:      batchOpts.pattern,
		DoodleSuffix: batchOpts.suffix,
		Overlay:      batchOpts.overlay,
		Opacity:      &batchOpts.opacity,
	}
	if batchOpts.progress {
		opts.Progress = os.Stderr
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := batch.Run(ctx, log.Logger, params, opts)
	if summary != nil && batchOpts.report != "" {
		data, merr := json.MarshalIndent(summary, "", "  ")
		if merr != nil {
			return errors.Wrap(merr, "failed to encode report")
		}
		if werr := os.WriteFile(batchOpts.report, data, 0o644); werr != nil {
			return errors.Wrapf(werr, "failed to write report %q", batchOpts.report)
		}
	}
	if err != nil {
		return err
	}

	log.Info().Int("processed", summary.Processed).Int("failed", summary.Failed).Int("skipped", len(summary.Skipped)).Msg("batch complete")
	if summary.Failed > 0 {
		return errors.Errorf("%d images failed", summary.Failed)
	}
	return nil
}
