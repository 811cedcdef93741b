// Package config provides YAML-based configuration loading for zrm.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the process
	AppName string `mapstructure:"app_name"`

	// DomainID partitions the middleware; nodes only see peers in
	// the same domain
	DomainID int `mapstructure:"domain_id"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Session controls how nodes attach to the transport substrate
	Session SessionConfig `mapstructure:"session"`

	// Router holds listener settings for the zrm-router daemon
	Router RouterConfig `mapstructure:"router"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig selects the transport substrate for this process.
type SessionConfig struct {
	// Mode: mem (in-process bus) or client (connect to a router)
	Mode string `mapstructure:"mode"`
	// LinkKind: tcp or quic, client mode only
	LinkKind string `mapstructure:"link_kind"`
	// Endpoint address of the router, client mode only
	Endpoint string `mapstructure:"endpoint"`
	// QueryTimeoutMS default timeout for service calls and discovery queries
	QueryTimeoutMS int `mapstructure:"query_timeout_ms"`
}

// RouterConfig describes where the router daemon accepts sessions.
type RouterConfig struct {
	Listeners []ListenerConfig `mapstructure:"listeners"`
}

// ListenerConfig is one listening endpoint.
// Example YAML:
// router:
//
//	listeners:
//	  - kind: tcp
//	    address: ":7447"
//	  - kind: quic
//	    address: ":7448"
type ListenerConfig struct {
	Kind    string `mapstructure:"kind"`
	Address string `mapstructure:"address"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:  "zrm-node",
		DomainID: 0,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/zrm.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Session: SessionConfig{
			Mode:           "mem",
			LinkKind:       "tcp",
			Endpoint:       "127.0.0.1:7447",
			QueryTimeoutMS: 2000,
		},
		Router: RouterConfig{
			Listeners: []ListenerConfig{{Kind: "tcp", Address: ":7447"}},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix ZRM and `.`/`-` are replaced with `_`.
// Example: ZRM_LOG_LEVEL=debug, ZRM_DOMAIN_ID=7
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ZRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("domain_id", cfg.DomainID)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("session.mode", cfg.Session.Mode)
	v.SetDefault("session.link_kind", cfg.Session.LinkKind)
	v.SetDefault("session.endpoint", cfg.Session.Endpoint)
	v.SetDefault("session.query_timeout_ms", cfg.Session.QueryTimeoutMS)
	v.SetDefault("router.listeners", cfg.Router.Listeners)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("ZRM_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `zrm`
		v.SetConfigName("zrm")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".zrm"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.DomainID < 0 {
		return fmt.Errorf("invalid domain_id: %d", c.DomainID)
	}

	c.Session.Mode = strings.ToLower(strings.TrimSpace(c.Session.Mode))
	switch c.Session.Mode {
	case "", "mem":
		c.Session.Mode = "mem"
	case "client":
		if strings.TrimSpace(c.Session.Endpoint) == "" {
			return errors.New("session.endpoint required in client mode")
		}
	default:
		return fmt.Errorf("invalid session.mode: %q", c.Session.Mode)
	}
	c.Session.LinkKind = strings.ToLower(strings.TrimSpace(c.Session.LinkKind))
	switch c.Session.LinkKind {
	case "", "tcp":
		c.Session.LinkKind = "tcp"
	case "quic":
	default:
		return fmt.Errorf("invalid session.link_kind: %q", c.Session.LinkKind)
	}
	if c.Session.QueryTimeoutMS <= 0 {
		c.Session.QueryTimeoutMS = 2000
	}

	for i := range c.Router.Listeners {
		c.Router.Listeners[i].Kind = strings.ToLower(strings.TrimSpace(c.Router.Listeners[i].Kind))
		switch c.Router.Listeners[i].Kind {
		case "tcp", "quic":
		default:
			return fmt.Errorf("invalid router listener kind: %q", c.Router.Listeners[i].Kind)
		}
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
