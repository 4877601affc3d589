package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ironsheep/doodler-engine/internal/server"
)

var cmdMCP = &cobra.Command{
	Use:   "mcp",
	Short: "serve the segmentation tools over MCP on stdin/stdout",
	Run: func(c *cobra.Command, args []string) {
		if err := mcpRun(c, args); err != nil {
			log.Fatal().Err(err).Send()
		}
	},
}

func init() {
	addParamFlags(cmdMCP)

	cmdRoot.AddCommand(cmdMCP)
}

func mcpRun(c *cobra.Command, args []string) error {
	params, err := loadParams(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", Version).Str("protocol", server.ProtocolVersion).Msg("starting MCP server")
	return server.New(log.Logger, params, Version).Run(ctx, os.Stdin, os.Stdout)
}
