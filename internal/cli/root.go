// Package cli implements the chunkup command line interface.
package cli

import (
	"github.com/bitrise-io/go-chunkupload/internal"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

// Dependencies are the process level collaborators of the commands.
type Dependencies struct {
	Logger log.Logger
	OS     internal.OsProxy
	Env    env.Repository
}

// DefaultDependencies talk to the real process environment.
func DefaultDependencies() Dependencies {
	return Dependencies{
		Logger: log.NewLogger(),
		OS:     internal.RealOS{},
		Env:    env.NewRepository(),
	}
}

// NewRootCommand creates the chunkup command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chunkup",
		Short: "chunkup - resumable chunked file uploads",
		Long: `chunkup uploads large files in fixed size chunks.
Chunks the server already stores are skipped, so an interrupted upload of the same
file continues where it stopped.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logs")
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, toml or json)")

	rootCmd.AddCommand(newUploadCommand(deps))

	return rootCmd
}
