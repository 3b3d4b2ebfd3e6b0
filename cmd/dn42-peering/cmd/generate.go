package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willagc/dn42-peering/internal/generator"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the local public key and every peer configuration",
	Long: `Resolve the local identity, compile every peer descriptor and publish
<local_asn>.pub plus one <ASN>.conf per peer into the output directory.

The run stops at the first fatal error and reports the stage and path that
failed. Descriptor problems that still render (a malformed public key, an
unparsable endpoint, a missing ASN) are logged as warnings.

Examples:
  # Generate with defaults (./peers -> ./secrets/wireguard)
  dn42-peering generate

  # Print the rendered configurations instead of writing them
  dn42-peering generate --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg, os.Stderr)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gen, err := generator.NewFromConfig(cfg, log)
		if err != nil {
			return err
		}

		result, err := gen.Run(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if result.DryRun {
			for _, c := range result.Compiled {
				fmt.Fprintf(out, "# %s (from %s)\n", c.Path, c.Source)
				out.Write(c.Content)
				fmt.Fprintln(out)
			}
			return nil
		}

		for _, path := range result.Published {
			fmt.Fprintf(out, "wrote %s\n", path)
		}
		if len(result.Warnings) > 0 {
			fmt.Fprintf(out, "%d warning(s), see log output\n", len(result.Warnings))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().Bool("dry-run", false, "compile everything and print it, write nothing")
	generateCmd.Flags().Int("workers", 0, "peers compiled in parallel (default from config)")
}
