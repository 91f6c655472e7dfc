// Package config provides configuration management for toolhost.
//
// Config file locations (priority order):
//  1. $TOOLHOST_CONFIG
//  2. ./toolhost.yaml
//  3. $XDG_CONFIG_HOME/toolhost/config.yaml
//  4. ~/.config/toolhost/config.yaml
//  5. /etc/toolhost/config.yaml
//
// Environment variables override file values; command-line flags override
// both.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joncooperworks/toolhost/crypto/keystore"
)

// Environment overrides.
const (
	EnvPluginDir = "TOOLHOST_PLUGIN_DIR"
	EnvLogLevel  = "TOOLHOST_LOG_LEVEL"
	EnvTransport = "TOOLHOST_TRANSPORT"
	EnvAddr      = "TOOLHOST_ADDR"
	EnvHistoryDB = "TOOLHOST_HISTORY_DB"
	EnvPolicy    = "TOOLHOST_POLICY"

	// EnvKeystorePassword unlocks the file keystore backend.
	EnvKeystorePassword = "TOOLHOST_KEYSTORE_PASSWORD"
)

// Config is the toolhost configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Plugins  PluginsConfig   `yaml:"plugins"`
	Log      LogConfig       `yaml:"log"`
	History  HistoryConfig   `yaml:"history"`
	Keystore keystore.Config `yaml:"keystore"`
	// ToolsPath is the scanner tool tree exported to command units as
	// APPSEC_TOOLS_PATH. Resolved by ResolveToolsPath when empty.
	ToolsPath string `yaml:"tools_path"`
}

// ServerConfig describes the MCP server identity and transport.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`
	Addr      string `yaml:"addr"`
	BaseURL   string `yaml:"base_url"`
}

// PluginsConfig controls unit discovery and classification.
type PluginsConfig struct {
	Dir string `yaml:"dir"`
	// Policy is "permissive" (default) or "strict".
	Policy string `yaml:"policy"`
	// Keywords replace the default tool keywords when set.
	Keywords []string `yaml:"keywords"`
	// Builtins includes compiled-in units. Defaults to true.
	Builtins *bool `yaml:"builtins"`
	// TrustedKeys are PEM public key files or directories. When set, every
	// file unit must carry a valid signature by one of them.
	TrustedKeys []string `yaml:"trusted_keys"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HistoryConfig controls the invocation history database.
type HistoryConfig struct {
	// Path of the SQLite database. Empty disables history.
	Path string `yaml:"path"`
	// Retention prunes older records at startup. Zero keeps everything.
	Retention Duration `yaml:"retention"`
}

// Duration is a time.Duration written as "72h" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides are applied in both cases.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		cfg.ApplyEnv(os.Getenv)
		return cfg, "", cfg.Validate()
	}
	cfg, path, err := LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, path, cfg.Validate()
}

// LoadExplicit loads the config file at path when path is set, and
// otherwise behaves like Load. Environment overrides are applied.
func LoadExplicit(path string) (*Config, string, error) {
	if path == "" {
		return Load()
	}
	cfg, path, err := LoadFromPath(path)
	if err != nil {
		return nil, path, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, path, cfg.Validate()
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "toolhost"
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Plugins.Dir == "" {
		c.Plugins.Dir = "./plugins"
	}
	if c.Plugins.Policy == "" {
		c.Plugins.Policy = "permissive"
	}
	if c.Plugins.Builtins == nil {
		enabled := true
		c.Plugins.Builtins = &enabled
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Keystore.Backend == "" {
		c.Keystore.Backend = keystore.BackendKeyring
	}
}

// ApplyEnv overrides config values from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvPluginDir); v != "" {
		c.Plugins.Dir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvTransport); v != "" {
		c.Server.Transport = v
	}
	if v := getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := getenv(EnvHistoryDB); v != "" {
		c.History.Path = v
	}
	if v := getenv(EnvPolicy); v != "" {
		c.Plugins.Policy = v
	}
	if v := getenv(EnvToolsPath); v != "" {
		c.ToolsPath = v
	}
	if v := getenv(EnvKeystorePassword); v != "" {
		c.Keystore.Password = v
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio":
	case "sse":
		if c.Server.Addr == "" {
			return fmt.Errorf("server.addr is required for the sse transport")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Server.Transport)
	}
	switch strings.ToLower(c.Plugins.Policy) {
	case "permissive", "strict":
	default:
		return fmt.Errorf("unknown plugin policy %q", c.Plugins.Policy)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention cannot be negative")
	}
	return nil
}

// OpenKeystore opens the configured keystore backend.
func (c *Config) OpenKeystore() (keystore.Keystore, error) {
	return keystore.NewKeystore(c.Keystore)
}

// BuiltinsEnabled reports whether compiled-in units are loaded.
func (c *Config) BuiltinsEnabled() bool {
	return c.Plugins.Builtins == nil || *c.Plugins.Builtins
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Logger builds the process logger writing to w. Logs never go to stdout,
// which carries the stdio transport.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
