package cli

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bleepstore/filestorage/internal/auth"

	"github.com/spf13/cobra"
)

func newSignCommand(opts *rootOptions) *cobra.Command {
	var (
		keyID   string
		variant string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign <uuid>",
		Short: "Print a presigned content URL path for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if len(a.cfg.Auth.Keys) == 0 {
					return errors.New("no auth.keys configured")
				}
				if keyID == "" {
					keyID = a.cfg.Auth.Keys[0].ID
				}
				f, err := a.loadFile(cmd, args[0])
				if err != nil {
					return err
				}

				path := "/files/" + f.UUID() + "/content"
				if variant != "" {
					if _, err := f.Variant(variant); err != nil {
						return err
					}
					path = "/files/" + f.UUID() + "/variants/" + variant + "/content"
				}
				q, err := auth.NewVerifier(a.cfg.Auth).Presign(keyID, http.MethodGet, path, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s?%s\n", path, q.Encode())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&keyID, "key", "", "API key id (default: first configured key)")
	cmd.Flags().StringVar(&variant, "variant", "", "sign a variant instead of the main file")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "URL lifetime")
	return cmd
}
