// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Process configuration for hosts embedding duplexws: listener address,
// per-connection limits and logging. Loaded from TOML, YAML or JSON.

package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr     = ":9001"
	DefaultMaxMessageSize = 64 << 10 // 64 KiB
	DefaultCloseTimeout   = 5 * time.Second
)

var (
	ErrUnsupportedConfigFormat = errors.New("unsupported config file extension")
	ErrInvalidConfig           = errors.New("invalid configuration")
)

// Config is the top-level configuration structure.
type Config struct {
	ListenAddr     string        `json:"listen_addr" toml:"listen_addr" yaml:"listen_addr"`
	MaxMessageSize int           `json:"max_message_size" toml:"max_message_size" yaml:"max_message_size"`
	CloseTimeout   Duration      `json:"close_timeout" toml:"close_timeout" yaml:"close_timeout"`
	Logging        LoggingConfig `json:"logging" toml:"logging" yaml:"logging"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `json:"level" toml:"level" yaml:"level"`    // debug|info|warn|error
	Target     string `json:"target" toml:"target" yaml:"target"` // stderr|stdout|/abs/path
	Console    bool   `json:"console" toml:"console" yaml:"console"`
	MaxSizeMB  int    `json:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		MaxMessageSize: DefaultMaxMessageSize,
		CloseTimeout:   Duration(DefaultCloseTimeout),
		Logging: LoggingConfig{
			Level:      "info",
			Target:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads path, decoding by extension, over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: %q", ErrUnsupportedConfigFormat, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the connection layer cannot run with.
func (c Config) Validate() error {
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("%w: close_timeout must be positive", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	t := c.Logging.Target
	if t != "" && t != "stderr" && t != "stdout" && !filepath.IsAbs(t) {
		return fmt.Errorf("%w: log target must be stderr, stdout or an absolute path, got %q", ErrInvalidConfig, t)
	}
	return nil
}

// Duration is a time.Duration written as a string such as "5s" in config files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler (TOML and JSON strings).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
