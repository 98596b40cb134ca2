// Package config loads and saves the TOML configuration file of a tagmesh
// node and applies its logging settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/tagmesh/limits"
	"github.com/opd-ai/tagmesh/plugins/file"
	"github.com/opd-ai/tagmesh/plugins/tcp"
	"github.com/opd-ai/tagmesh/transport"
	"github.com/sirupsen/logrus"
)

// DefaultFileName is the configuration file looked for when none is given.
const DefaultFileName = "tagmesh.toml"

// PassphraseEnv overrides the passphrase in the file when set.
const PassphraseEnv = "TAGMESH_PASSPHRASE"

// Transport indices select the secret chain of each transport. They are
// part of the derived keys and must never change.
const (
	TCPTransportIndex  = 0
	FileTransportIndex = 1
)

// ErrInvalid indicates a configuration value out of range.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "60s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// TCPConfig configures the LAN TCP plugin.
type TCPConfig struct {
	Enabled        bool     `toml:"enabled"`
	Listen         string   `toml:"listen"`
	MaxFrameLength int      `toml:"max_frame_length"`
	MaxLatency     Duration `toml:"max_latency"`
}

// FileConfig configures the directory drop plugin.
type FileConfig struct {
	Enabled      bool     `toml:"enabled"`
	Dir          string   `toml:"dir"`
	Capacity     int64    `toml:"capacity"`
	MaxLatency   Duration `toml:"max_latency"`
	PollInterval Duration `toml:"poll_interval"`
}

// Config is the node configuration.
type Config struct {
	DataDir    string     `toml:"data_dir"`
	Passphrase string     `toml:"passphrase"`
	LogLevel   string     `toml:"log_level"`
	LogFormat  string     `toml:"log_format"`
	TCP        TCPConfig  `toml:"tcp"`
	File       FileConfig `toml:"file"`

	// path is the file the configuration was loaded from; relative paths
	// are resolved against its directory
	path string
}

// Default returns the configuration written by "tagmesh init".
func Default() *Config {
	return &Config{
		DataDir:   "data",
		LogLevel:  "info",
		LogFormat: "text",
		TCP: TCPConfig{
			Enabled:        true,
			Listen:         "0.0.0.0:4321",
			MaxFrameLength: limits.DefaultMaxFrameLength,
			MaxLatency:     Duration{tcp.DefaultMaxLatency},
		},
		File: FileConfig{
			Enabled:      true,
			Dir:          "drop",
			Capacity:     file.DefaultCapacity,
			MaxLatency:   Duration{file.DefaultMaxLatency},
			PollInterval: Duration{file.DefaultPollInterval},
		},
	}
}

// Load reads the configuration at path. Keys missing from the file keep
// their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	conf := Default()
	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if p := os.Getenv(PassphraseEnv); p != "" {
		conf.Passphrase = p
	}
	conf.path = path
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Save writes conf to path, replacing any existing file.
func Save(path string, conf *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(conf); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	conf.path = path
	return nil
}

// Validate checks every value.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log_format %q is neither text nor json", ErrInvalid, c.LogFormat)
	}
	if c.TCP.Enabled {
		if c.TCP.Listen == "" {
			return fmt.Errorf("%w: tcp.listen is empty", ErrInvalid)
		}
		if err := limits.ValidateFrameLength(c.TCP.MaxFrameLength); err != nil {
			return fmt.Errorf("%w: tcp.max_frame_length: %v", ErrInvalid, err)
		}
		if c.TCP.MaxLatency.Duration <= 0 {
			return fmt.Errorf("%w: tcp.max_latency must be positive", ErrInvalid)
		}
	}
	if c.File.Enabled {
		if c.File.Dir == "" {
			return fmt.Errorf("%w: file.dir is empty", ErrInvalid)
		}
		if err := limits.ValidateCapacity(c.File.Capacity, limits.DefaultMaxFrameLength); err != nil {
			return fmt.Errorf("%w: file.capacity: %v", ErrInvalid, err)
		}
		if c.File.MaxLatency.Duration <= 0 || c.File.PollInterval.Duration <= 0 {
			return fmt.Errorf("%w: file durations must be positive", ErrInvalid)
		}
	}
	return nil
}

// ResolvePath resolves p against the directory of the configuration file.
func (c *Config) ResolvePath(p string) string {
	if filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// DatabasePath is the directory of the leveldb database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvePath(c.DataDir), "db")
}

// TCPPluginConfig returns the settings of the TCP plugin.
func (c *Config) TCPPluginConfig() tcp.Config {
	return tcp.Config{
		ListenAddr:     c.TCP.Listen,
		MaxFrameLength: c.TCP.MaxFrameLength,
		MaxLatency:     c.TCP.MaxLatency.Duration,
	}
}

// FilePluginConfig returns the settings of the file plugin.
func (c *Config) FilePluginConfig() file.Config {
	return file.Config{
		Dir:          c.ResolvePath(c.File.Dir),
		Capacity:     c.File.Capacity,
		MaxLatency:   c.File.MaxLatency.Duration,
		PollInterval: c.File.PollInterval.Duration,
	}
}

// Transports returns the key manager settings of the enabled transports.
func (c *Config) Transports() []transport.TransportConfig {
	var ts []transport.TransportConfig
	if c.TCP.Enabled {
		ts = append(ts, transport.TransportConfig{
			ID:         tcp.ID,
			Index:      TCPTransportIndex,
			MaxLatency: c.TCP.MaxLatency.Duration,
		})
	}
	if c.File.Enabled {
		ts = append(ts, transport.TransportConfig{
			ID:         file.ID,
			Index:      FileTransportIndex,
			MaxLatency: c.File.MaxLatency.Duration,
		})
	}
	return ts
}

// ConfigureLogging applies the log level and format to the standard logrus
// logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	switch c.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return nil
}
