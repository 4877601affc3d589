package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ironsheep/doodler-engine/internal/config"
)

func init() {
	// stdout carries MCP traffic and label output, logs go to stderr.
	cw := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339Nano,
	}

	log.Logger = log.With().Timestamp().Logger().Level(config.LogLevel()).Output(cw)
}

var cmdRoot = &cobra.Command{
	Use:     "doodler-engine",
	Short:   "segment images from sparse doodles",
	Version: Version,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		if rootOpts.debug {
			log.Logger = log.Level(zerolog.DebugLevel)
		}
	},
	Run: func(c *cobra.Command, args []string) {
		if err := c.Help(); err != nil {
			log.Fatal().Err(err).Send()
		}
	},
}

type rootOptions struct {
	debug  bool
	config string
}

var rootOpts rootOptions

func init() {
	flags := cmdRoot.PersistentFlags()

	flags.BoolVarP(&rootOpts.debug, "debug", "d", false, "debug logging")
	flags.StringVarP(&rootOpts.config, "config", "c", "", "yaml file with segmentation parameters")
}

// loadParams reads --config and applies the flags set on c.
func loadParams(c *cobra.Command) (config.Params, error) {
	p, err := config.Load(rootOpts.config)
	if err != nil {
		return p, err
	}
	paramFlags.apply(c, &p)
	return p, p.Validate()
}

func Execute() {
	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}
