package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/bleepstore/filestorage/internal/serialization"

	"github.com/spf13/cobra"
)

func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		output string
		export serialization.ExportOptions
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export file records as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "-" {
					fh, err := os.Create(output)
					if err != nil {
						return err
					}
					defer fh.Close()
					w = fh
				}
				if err := serialization.Export(cmd.Context(), a.store, w, &export); err != nil {
					return err
				}
				if output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&export.Filter.Storage, "storage", "", "only files on this storage")
	cmd.Flags().StringVar(&export.Filter.Model, "model", "", "only files of this model")
	cmd.Flags().StringVar(&export.Filter.Collection, "collection", "", "only files in this collection")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import file records from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				var r io.Reader = cmd.InOrStdin()
				if args[0] != "-" {
					fh, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer fh.Close()
					r = fh
				}

				result, err := serialization.Import(cmd.Context(), a.store, r, &serialization.ImportOptions{Replace: replace})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "imported %d, skipped %d, deleted %d\n", result.Imported, result.Skipped, result.Deleted)
				for _, w := range result.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "delete existing records before importing")
	return cmd
}
