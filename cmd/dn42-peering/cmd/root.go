package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/willagc/dn42-peering/internal/generator/config"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/logger"
)

const envPrefix = "DN42_PEERING_"

var cfgFile string

// flagBindings maps configuration keys to the flags that override them.
var flagBindings = map[string]string{
	"local_asn":              "local-asn",
	"paths.peers":            "peers-dir",
	"paths.template":         "template",
	"paths.output":           "output-dir",
	"paths.keys":             "keys-dir",
	"peers.suffix":           "suffix",
	"peers.identifier_field": "identifier-field",
	"keys.provider":          "key-provider",
	"keys.wg_binary":         "wg-binary",
	"log.level":              "log-level",
	"log.format":             "log-format",
	"compile.workers":        "workers",
	"compile.dry_run":        "dry-run",
}

var rootCmd = &cobra.Command{
	Use:   "dn42-peering",
	Short: "Generate WireGuard configurations for DN42 peers",
	Long: `dn42-peering compiles one WireGuard configuration per peer descriptor.

On first run it creates the local identity (key pair, tunnel address and
listen port) and reuses it on every later run, so the generated files only
change when a descriptor or the template changes.

Examples:
  # Generate every peer configuration
  dn42-peering generate

  # Preview the output without writing anything
  dn42-peering generate --dry-run

  # Use another descriptor directory
  dn42-peering generate --peers-dir ./registry/peers`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Failures with a known remedy carry a hint
// line after the error.
func Execute() error {
	err := rootCmd.Execute()
	if hint := errorHint(err); hint != "" {
		return fmt.Errorf("%w\nhint: %s", err, hint)
	}
	return err
}

func errorHint(err error) string {
	if err == nil {
		return ""
	}

	var cfgErr *sharedErrors.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		env := envPrefix + strings.ToUpper(strings.ReplaceAll(cfgErr.Field, ".", "_"))
		return fmt.Sprintf("set %s in the config file or through %s", cfgErr.Field, env)
	case sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeKeyToolMissing):
		return "install wireguard-tools or set keys.provider to native"
	case sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeCorruptState):
		return "repair or remove the damaged identity file, a new identity changes the published public key"
	case sharedErrors.IsErrorDomain(err, sharedErrors.DomainRender):
		return "the template references a field the descriptor does not set, use index for optional fields"
	}
	return ""
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default searches /etc/dn42-peering, ~/.dn42-peering and .)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("local-asn", "", "local AS number, names the published public key")
	flags.String("peers-dir", "", "directory holding peer descriptors")
	flags.String("template", "", "configuration template (default built-in)")
	flags.String("output-dir", "", "directory receiving generated files")
	flags.String("keys-dir", "", "directory holding the local identity")
	flags.String("suffix", "", "file suffix marking peer descriptors")
	flags.String("identifier-field", "", "descriptor field naming the output file")
	flags.String("key-provider", "", "key pair backend: native or wg")
	flags.String("wg-binary", "", "wg binary used by the wg key provider")
}

// loadConfig merges defaults, config file, environment and the flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}

	for key, name := range flagBindings {
		flag := cmd.Flag(name)
		if flag == nil {
			continue
		}
		if err := loader.BindFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the run logger. Logs go to stderr, stdout is reserved for
// command output.
func newLogger(cfg *config.Config, w io.Writer) *logger.Logger {
	return logger.New(logger.LoggerConfig{
		Level:  logger.LogLevel(cfg.Log.Level),
		Format: logger.OutputFormat(cfg.Log.Format),
		Output: w,
	})
}
