// Package cli implements chunkd's command-line entrypoint, grounded on the
// teacher's cmd/tusd/cli package but replacing its stdlib flag parsing with
// cobra/viper so configuration can come from flags or environment variables
// (CHUNKD_*) interchangeably. No config file is read.
package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the chunkd root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:     "chunkd",
		Short:   "Resumable chunked-upload coordinator",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(loadConfig(v))
		},
	}

	bindConfigFlags(cmd, v)
	return cmd
}
