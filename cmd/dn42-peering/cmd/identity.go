package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/willagc/dn42-peering/internal/generator"
	"github.com/willagc/dn42-peering/internal/generator/identity"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the local identity",
	Long: `Show the persisted local identity: public key, tunnel address and listen
port. The private key is never printed.

Examples:
  # Show the identity created by a previous generate run
  dn42-peering identity

  # Create the identity now if it does not exist yet
  dn42-peering identity --create`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg, os.Stderr)

		components, err := generator.NewComponents(cfg, log)
		if err != nil {
			return err
		}

		create, _ := cmd.Flags().GetBool("create")

		var id identity.LocalIdentity
		if create {
			id, err = components.Identity.LoadOrCreate(context.Background())
		} else {
			id, err = components.Identity.Load(context.Background())
		}
		if errors.Is(err, sharedErrors.ErrIdentityIncomplete) {
			return fmt.Errorf("%w (run generate or identity --create first)", err)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Local AS:     %s\n", cfg.LocalASN)
		fmt.Fprintf(out, "Public key:   %s\n", id.PublicKey)
		fmt.Fprintf(out, "Address:      %s\n", id.Address)
		fmt.Fprintf(out, "Listen port:  %d\n", id.ListenPort)
		fmt.Fprintf(out, "Key storage:  %s\n", components.Identity.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)

	identityCmd.Flags().Bool("create", false, "create the identity if it does not exist")
}
