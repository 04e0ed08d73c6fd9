// Package config loads reel's layered configuration.
//
// Precedence, highest first: command-line flags bound by the caller,
// REEL_* environment variables (REEL_SERVER_ADDR for server.addr), the TOML
// config file, and the defaults below.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/reelroom/reel/internal/livesync"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REEL"

// FileName is the config file name inside the config directory.
const FileName = "config.toml"

// Config represents the main configuration for reel.
type Config struct {
	DataDir   string           `toml:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`
	ImportDir string           `toml:"import_dir,omitempty" mapstructure:"import_dir" yaml:"import_dir,omitempty"`
	Server    ServerConfig     `toml:"server" mapstructure:"server" yaml:"server"`
	Session   SessionConfig    `toml:"session" mapstructure:"session" yaml:"session"`
	Chat      CollectionConfig `toml:"chat" mapstructure:"chat" yaml:"chat"`
	Comments  CollectionConfig `toml:"comments" mapstructure:"comments" yaml:"comments"`
	Log       LogConfig        `toml:"log" mapstructure:"log" yaml:"log"`
}

// ServerConfig configures both `reel serve` and the clients that dial it.
type ServerConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr" yaml:"addr"`                // listen address for serve
	URL      string `toml:"url" mapstructure:"url" yaml:"url"`                   // base URL clients dial
	MaxLimit int    `toml:"max_limit" mapstructure:"max_limit" yaml:"max_limit"` // cap on GET /rest page size
	DevLogin string `toml:"dev_login" mapstructure:"dev_login" yaml:"dev_login"` // auto, on or off
}

// Development login modes for server.dev_login.
const (
	DevLoginAuto = "auto" // enabled when serving on a loopback address
	DevLoginOn   = "on"
	DevLoginOff  = "off"
)

// SessionConfig configures token issuing.
type SessionConfig struct {
	Secret   string `toml:"secret,omitempty" mapstructure:"secret" yaml:"secret,omitempty"`
	TokenTTL string `toml:"token_ttl" mapstructure:"token_ttl" yaml:"token_ttl"`
}

// CollectionConfig configures one kind of live collection.
type CollectionConfig struct {
	// Limit is a positive row count or "unbounded".
	Limit string `toml:"limit" mapstructure:"limit" yaml:"limit"`
}

// LogConfig configures log output.
type LogConfig struct {
	File       string `toml:"file,omitempty" mapstructure:"file" yaml:"file,omitempty"`
	Verbose    bool   `toml:"verbose" mapstructure:"verbose" yaml:"verbose"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups" yaml:"max_backups"`
}

// DefaultDir returns the directory holding the config file and, by
// default, the data directory: $XDG_CONFIG_HOME/reel or ~/.reel.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "reel")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".reel")
	}
	return ".reel"
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := DefaultDir()
	return &Config{
		DataDir: dir,
		Server: ServerConfig{
			Addr:     "127.0.0.1:8080",
			URL:      "http://127.0.0.1:8080",
			MaxLimit: 1000,
			DevLogin: DevLoginAuto,
		},
		Session:  SessionConfig{TokenTTL: "720h"},
		Chat:     CollectionConfig{Limit: "100"},
		Comments: CollectionConfig{Limit: "unbounded"},
		Log:      LogConfig{MaxSizeMB: 10, MaxBackups: 3},
	}
}

// NewViper returns a viper instance with reel's defaults and environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("import_dir", d.ImportDir)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.max_limit", d.Server.MaxLimit)
	v.SetDefault("server.dev_login", d.Server.DevLogin)
	v.SetDefault("session.secret", d.Session.Secret)
	v.SetDefault("session.token_ttl", d.Session.TokenTTL)
	v.SetDefault("chat.limit", d.Chat.Limit)
	v.SetDefault("comments.limit", d.Comments.Limit)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	return v
}

// Load reads the config file at path into v and decodes the merged
// configuration. An empty path looks for config.toml in DefaultDir; a
// missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(DefaultDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the Config has valid field values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Server.MaxLimit <= 0 {
		return fmt.Errorf("server.max_limit must be positive (got %d)", c.Server.MaxLimit)
	}
	if _, err := c.Server.DevLoginEnabled(); err != nil {
		return err
	}
	if _, err := c.Session.TTL(); err != nil {
		return err
	}
	if _, err := ParseLimit(c.Chat.Limit); err != nil {
		return fmt.Errorf("chat.limit: %w", err)
	}
	if _, err := ParseLimit(c.Comments.Limit); err != nil {
		return fmt.Errorf("comments.limit: %w", err)
	}
	return nil
}

// DBPath returns the server database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "reel.db")
}

// SessionPath returns where `reel login` stores its token.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// DevLoginEnabled reports whether serve should issue tokens through the
// unauthenticated development login. In auto mode that is the case only when
// Addr binds a loopback interface.
func (s ServerConfig) DevLoginEnabled() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s.DevLogin)) {
	case DevLoginOn:
		return true, nil
	case DevLoginOff:
		return false, nil
	case DevLoginAuto, "":
		return isLoopback(s.Addr), nil
	}
	return false, fmt.Errorf("server.dev_login must be auto, on or off (got %q)", s.DevLogin)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// TTL parses the token lifetime.
func (s SessionConfig) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(s.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("session.token_ttl: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("session.token_ttl must be positive (got %s)", s.TokenTTL)
	}
	return d, nil
}

// ParseLimit converts a configured page size to a livesync limit.
func ParseLimit(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unbounded", "all", "-1":
		return livesync.Unbounded, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive number or \"unbounded\" (got %q)", s)
	}
	return n, nil
}

// Watch calls onChange with the re-decoded configuration every time the
// config file changes. Invalid edits are reported through onError and the
// previous configuration stays in effect.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("ignoring %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Init writes cfg as TOML to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFile decodes a TOML config file without applying defaults or the
// environment.
func ReadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// WriteYAML prints the configuration with the session secret redacted.
func (c *Config) WriteYAML(w io.Writer) error {
	redacted := *c
	if redacted.Session.Secret != "" {
		redacted.Session.Secret = "<redacted>"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
