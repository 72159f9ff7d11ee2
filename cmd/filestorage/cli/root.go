// Package cli defines the filestorage cobra commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionInfo is stamped into the binary at build time.
type VersionInfo struct {
	Version string
	Commit  string
}

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand(info VersionInfo) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "filestorage",
		Short:         "File storage server and toolbox",
		Long:          "Stores files and their variants on pluggable storage backends and keeps their records in a metadata store.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	cmd.AddCommand(
		newServeCommand(opts),
		newPutCommand(opts),
		newPutVariantCommand(opts),
		newShowCommand(opts),
		newListCommand(opts),
		newRemoveCommand(opts),
		newRemoveVariantCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newSignCommand(opts),
		newVersionCommand(info),
	)
	return cmd
}
