// Command shorty compresses a single video from the terminal using the same
// encoder pipeline as the agent.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shorty/shorty-agent/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "shorty",
		Short:        "Compress videos to a target size or quality",
		Version:      config.Version,
		SilenceUsage: true,
	}

	root.AddCommand(newBitrateCmd())
	root.AddCommand(newCompressCmd())
	return root
}
