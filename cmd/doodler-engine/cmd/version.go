package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(c *cobra.Command, args []string) {
		fmt.Fprintf(c.OutOrStdout(), "doodler-engine %s\n", Version)
		fmt.Fprintf(c.OutOrStdout(), "  Build time: %s\n", BuildTime)
		fmt.Fprintf(c.OutOrStdout(), "  Git commit: %s\n", GitCommit)
	},
}

func init() {
	cmdRoot.AddCommand(cmdVersion)
}
