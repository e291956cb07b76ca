// Package config loads habitd configuration from ~/.habitd/config.yaml,
// with HABITD_* environment variables taking precedence over the file.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"habitd/internal/store"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir holds the local database and log files.
	DataDir string `mapstructure:"data_dir"`

	// RemoteAddr is the sync hub's host:port. Empty disables sync.
	RemoteAddr string `mapstructure:"remote_addr"`

	// DeviceName labels this device in sync origin tags. Defaults to
	// the hostname; the persisted device id is appended to make the
	// tag unique across same-named machines.
	DeviceName string `mapstructure:"device_name"`

	// Listen is the address the serve command binds to.
	Listen string `mapstructure:"listen"`

	// LogFile receives daemon logs. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// PhaseFile optionally overrides the built-in daily phases (TOML).
	PhaseFile string `mapstructure:"phase_file"`
}

// Dir returns the habitd home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".habitd"
	}
	return filepath.Join(home, ".habitd")
}

// Path returns the config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(Path())
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HABITD")
	v.AutomaticEnv()

	v.SetDefault("data_dir", Dir())
	v.SetDefault("remote_addr", "")
	v.SetDefault("device_name", hostname())
	v.SetDefault("listen", "127.0.0.1:7600")
	v.SetDefault("log_file", "")
	v.SetDefault("phase_file", "")
	return v
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "habitd"
	}
	return name
}

// Load reads the config file if present and resolves all settings. A
// missing file is not an error; defaults and environment apply.
func Load() (*Config, error) {
	v := newViper()
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", Path(), err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", Path(), err)
	}
	return cfg, nil
}

// Watch reloads the config whenever the file changes and hands the new
// value to onChange. Unparseable edits are skipped; the previous config
// stays in effect.
func Watch(onChange func(*Config)) error {
	v := newViper()
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config %s: %w", Path(), err)
	}

	v.OnConfigChange(func(fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// StorePath returns the local database path under the data dir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "habitd.db")
}

// deviceIdentity is persisted once so the device id survives restarts.
type deviceIdentity struct {
	ID string `json:"id"`
}

// DeviceID returns this device's stable sync identity, generating and
// persisting one on first use.
func DeviceID(st *store.Store, deviceName string) (string, error) {
	ident := deviceIdentity{}
	st.Load(store.KeyDeviceIdentity, &ident)
	if ident.ID != "" {
		return fmt.Sprintf("%s-%s", deviceName, ident.ID), nil
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	ident.ID = hex.EncodeToString(buf)
	if err := st.Save(store.KeyDeviceIdentity, ident); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return fmt.Sprintf("%s-%s", deviceName, ident.ID), nil
}
