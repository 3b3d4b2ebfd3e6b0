package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

// Key provider names accepted by keys.provider.
const (
	KeyProviderNative = "native"
	KeyProviderWG     = "wg"
)

// Config is the single configuration value threaded through a generation run.
type Config struct {
	// LocalASN names the published public key artifact (<local_asn>.pub).
	LocalASN  string          `mapstructure:"local_asn"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Peers     PeersConfig     `mapstructure:"peers"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Allocator AllocatorConfig `mapstructure:"allocator"`
	Compile   CompileConfig   `mapstructure:"compile"`
	Log       LogConfig       `mapstructure:"log"`
}

// PathsConfig defines the filesystem layout.
type PathsConfig struct {
	Peers    string `mapstructure:"peers"`
	Template string `mapstructure:"template"` // empty selects the built-in template
	Output   string `mapstructure:"output"`
	Keys     string `mapstructure:"keys"`
}

// PeersConfig defines how peer descriptors are discovered and named.
type PeersConfig struct {
	Suffix          string `mapstructure:"suffix"`
	IdentifierField string `mapstructure:"identifier_field"`
}

// KeysConfig selects the key pair backend.
type KeysConfig struct {
	Provider string `mapstructure:"provider"`
	WGBinary string `mapstructure:"wg_binary"`
}

// AllocatorConfig defines the address pools used on first run.
type AllocatorConfig struct {
	Pools []string `mapstructure:"pools"`
	Seed  int64    `mapstructure:"seed"` // 0 seeds from the clock
}

// CompileConfig tunes the compile stage.
type CompileConfig struct {
	Workers int  `mapstructure:"workers"`
	DryRun  bool `mapstructure:"dry_run"`
}

// LogConfig defines the logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks the configuration for values the run cannot work with.
// Errors are *errors.ConfigError values matching errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.LocalASN == "" {
		return invalid("local_asn", "local_asn is required")
	}
	if _, err := strconv.ParseUint(c.LocalASN, 10, 32); err != nil {
		return invalid("local_asn", "local_asn must be a 32-bit unsigned number, got %q", c.LocalASN)
	}

	if err := c.Paths.Validate(); err != nil {
		return err
	}

	if c.Peers.Suffix == "" {
		return invalid("peers.suffix", "peers.suffix is required")
	}
	if c.Peers.IdentifierField == "" {
		return invalid("peers.identifier_field", "peers.identifier_field is required")
	}

	switch c.Keys.Provider {
	case KeyProviderNative:
	case KeyProviderWG:
		if c.Keys.WGBinary == "" {
			return invalid("keys.wg_binary", "keys.wg_binary is required for the %q provider", KeyProviderWG)
		}
	default:
		return invalid("keys.provider", "invalid keys.provider: %s (must be %s or %s)", c.Keys.Provider, KeyProviderNative, KeyProviderWG)
	}

	if _, err := c.Allocator.ParsedPools(); err != nil {
		return err
	}

	if c.Compile.Workers < 1 {
		return invalid("compile.workers", "compile.workers must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("log.format", "invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// Validate checks that every required path is set.
func (p PathsConfig) Validate() error {
	for _, path := range []struct{ key, value string }{
		{"paths.peers", p.Peers},
		{"paths.output", p.Output},
		{"paths.keys", p.Keys},
	} {
		if strings.TrimSpace(path.value) == "" {
			return invalid(path.key, "%s is required", path.key)
		}
	}
	return nil
}

// ParsedPools parses the configured address pools.
func (a AllocatorConfig) ParsedPools() ([]netip.Prefix, error) {
	if len(a.Pools) == 0 {
		return nil, invalid("allocator.pools", "allocator.pools must list at least one prefix")
	}

	pools := make([]netip.Prefix, 0, len(a.Pools))
	for _, raw := range a.Pools {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, sharedErrors.NewConfigError("allocator.pools", fmt.Sprintf("invalid allocator pool %q", raw), err)
		}
		pools = append(pools, prefix.Masked())
	}
	return pools, nil
}

func invalid(field, format string, args ...any) error {
	return sharedErrors.NewConfigError(field, fmt.Sprintf(format, args...), nil)
}
