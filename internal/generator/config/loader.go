package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DN42_PEERING"

// Loader handles configuration loading from YAML files, environment variables and flags
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	l := &Loader{
		v: viper.New(),
	}
	l.setDefaults()
	l.setupEnvVars()
	return l
}

// Load reads the optional config file and unmarshals the merged result.
// Precedence: flags, environment, config file, defaults.
func (l *Loader) Load() (*Config, error) {
	if l.configFile == "" {
		l.setupConfigPaths()
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.unmarshal()
}

// SetConfigFile pins the config file instead of searching the default paths.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = expandPath(path)
	l.v.SetConfigFile(l.configFile)
}

// BindFlag binds a command-line flag to a configuration key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag to bind for %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Paths.Peers = expandPath(cfg.Paths.Peers)
	cfg.Paths.Template = expandPath(cfg.Paths.Template)
	cfg.Paths.Output = expandPath(cfg.Paths.Output)
	cfg.Paths.Keys = expandPath(cfg.Paths.Keys)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults matches the usual layout of a DN42 peering repository.
func (l *Loader) setDefaults() {
	l.v.SetDefault("local_asn", "4242420513")

	l.v.SetDefault("paths.peers", "peers")
	l.v.SetDefault("paths.template", "")
	l.v.SetDefault("paths.output", "secrets/wireguard")
	l.v.SetDefault("paths.keys", "secrets/keys")

	l.v.SetDefault("peers.suffix", ".conf")
	l.v.SetDefault("peers.identifier_field", "ASN")

	l.v.SetDefault("keys.provider", KeyProviderNative)
	l.v.SetDefault("keys.wg_binary", "wg")

	l.v.SetDefault("allocator.pools", []string{"192.0.0.0/8", "169.254.0.0/16"})
	l.v.SetDefault("allocator.seed", 0)

	l.v.SetDefault("compile.workers", 4)
	l.v.SetDefault("compile.dry_run", false)

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")
}

func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName("dn42-peering")
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/dn42-peering")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".dn42-peering"))
	}
	l.v.AddConfigPath(".")
}

func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// expandPath expands ~ to home directory in file paths.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if len(path) == 1 {
		return home
	}

	return filepath.Join(home, path[1:])
}
