package cli

import (
	"fmt"

	"github.com/bleepstore/filestorage/internal/metadata"
	"github.com/bleepstore/filestorage/internal/serialization"

	"github.com/spf13/cobra"
)

func newVersionCommand(info VersionInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "filestorage %s (%s)\n", info.Version, info.Commit)
			fmt.Fprintf(out, "export format %d, schema %d, source go/%s\n",
				serialization.ExportVersion, metadata.SchemaVersion, serialization.Version)
		},
	}
}
