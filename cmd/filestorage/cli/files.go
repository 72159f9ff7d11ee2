package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bleepstore/filestorage/internal/file"
	"github.com/bleepstore/filestorage/internal/metadata"

	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printFile(w io.Writer, f *file.File) error {
	m := f.ToMap()
	m["id"] = f.ID()
	m["storage"] = f.Storage()
	return printJSON(w, m)
}

func (a *app) loadFile(cmd *cobra.Command, uuid string) (*file.File, error) {
	rec, err := a.store.GetFile(cmd.Context(), uuid)
	if err != nil {
		return nil, err
	}
	return rec.File()
}

func newPutCommand(opts *rootOptions) *cobra.Command {
	var (
		storageName string
		model       string
		modelID     string
		collection  string
		meta        string
	)

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Store a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if storageName == "" {
					storageName = a.cfg.DefaultStorage
				}
				f, err := file.FromDisk(args[0], storageName)
				if err != nil {
					return err
				}
				if model != "" {
					f = f.BelongsToModel(model, modelID)
				}
				if collection != "" {
					f = f.AddToCollection(collection)
				}
				if meta != "" {
					var md map[string]any
					if err := json.Unmarshal([]byte(meta), &md); err != nil {
						f.Close()
						return fmt.Errorf("--metadata must be a JSON object: %w", err)
					}
					f = f.WithMetadata(md)
				}

				stored, err := a.orch.Store(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printFile(cmd.OutOrStdout(), stored)
			})
		},
	}

	cmd.Flags().StringVar(&storageName, "storage", "", "target storage (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "owning model")
	cmd.Flags().StringVar(&modelID, "model-id", "", "owning model id")
	cmd.Flags().StringVar(&collection, "collection", "", "collection name")
	cmd.Flags().StringVar(&meta, "metadata", "", "metadata as a JSON object")
	return cmd
}

func newPutVariantCommand(opts *rootOptions) *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "put-variant <uuid> <name> <path>",
		Short: "Store a variant of a stored file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				f, err := a.loadFile(cmd, args[0])
				if err != nil {
					return err
				}
				fh, err := os.Open(args[2])
				if err != nil {
					return err
				}
				defer fh.Close()
				updated, err := a.orch.StoreVariant(cmd.Context(), f, args[1], fh, mimeType)
				if err != nil {
					return err
				}
				if _, err := a.store.PutFile(cmd.Context(), metadata.ToRecord(updated)); err != nil {
					return err
				}
				return printFile(cmd.OutOrStdout(), updated)
			})
		},
	}

	cmd.Flags().StringVar(&mimeType, "mime-type", "application/octet-stream", "variant mime type")
	return cmd
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <uuid>",
		Short: "Print the record of a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				f, err := a.loadFile(cmd, args[0])
				if err != nil {
					return err
				}
				return printFile(cmd.OutOrStdout(), f)
			})
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var filter metadata.ListOptions

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				recs, err := a.store.ListFiles(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, rec := range recs {
					fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\n", rec.ID, rec.UUID, rec.Storage, rec.Path, file.ReadableSize(rec.Filesize))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Storage, "storage", "", "only files on this storage")
	cmd.Flags().StringVar(&filter.Model, "model", "", "only files of this model")
	cmd.Flags().StringVar(&filter.ModelID, "model-id", "", "only files of this model id")
	cmd.Flags().StringVar(&filter.Collection, "collection", "", "only files in this collection")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of files")
	return cmd
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <uuid>",
		Short: "Remove a file and all its variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				f, err := a.loadFile(cmd, args[0])
				if err != nil {
					return err
				}
				if _, err := a.orch.Remove(cmd.Context(), f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", f.UUID())
				return nil
			})
		},
	}
}

func newRemoveVariantCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-variant <uuid> <name>",
		Short: "Remove a single variant of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				f, err := a.loadFile(cmd, args[0])
				if err != nil {
					return err
				}
				updated, err := a.orch.RemoveVariant(cmd.Context(), f, args[1])
				if err != nil {
					return err
				}
				if _, err := a.store.PutFile(cmd.Context(), metadata.ToRecord(updated)); err != nil {
					return err
				}
				return printFile(cmd.OutOrStdout(), updated)
			})
		},
	}
}
