package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/willagc/dn42-peering/internal/generator"
	"github.com/willagc/dn42-peering/internal/generator/identity"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peer descriptors and their output files",
	Long: `List every peer descriptor in the descriptor directory with the output file
it compiles to and any warnings about its fields. Nothing is written.

Examples:
  # Check the descriptors before generating
  dn42-peering peers`,
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

		ctx := context.Background()

		// Without an identity the local address check is skipped.
		id, err := components.Identity.Load(ctx)
		if err != nil && !errors.Is(err, sharedErrors.ErrIdentityIncomplete) {
			return err
		}
		if err != nil {
			id = identity.LocalIdentity{}
		}

		descriptors, err := components.Loader.LoadAll(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tIDENTIFIER\tOUTPUT")
		warnings := 0
		for _, d := range descriptors {
			identifier := components.Compiler.Identifier(d)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Source, identifier, components.Compiler.OutputPath(identifier))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		for _, d := range descriptors {
			for _, w := range components.Compiler.Inspect(id, d) {
				fmt.Fprintf(out, "warning: %s\n", w)
				warnings++
			}
		}

		fmt.Fprintf(out, "%d descriptor(s), %d warning(s)\n", len(descriptors), warnings)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)
}
