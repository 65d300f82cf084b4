package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the usbadb configuration.
type Config struct {
	// DevicePath pins a usbfs device node (e.g. /dev/bus/usb/001/004).
	// Empty means the first device with an ADB interface.
	DevicePath string `yaml:"device_path"`

	// KeystoreDir is where the host key pair lives.
	KeystoreDir string `yaml:"keystore_dir"`

	// ConnectTimeout bounds the handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ShellTimeout bounds collecting shell output.
	ShellTimeout time.Duration `yaml:"shell_timeout"`
}

// DefaultConfigPath returns the default config file path:
// ~/.usbadb/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".usbadb", "config.yaml")
	}
	return filepath.Join(home, ".usbadb", "config.yaml")
}

// defaultKeystoreDir returns ~/.usbadb.
func defaultKeystoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".usbadb"
	}
	return filepath.Join(home, ".usbadb")
}

// LoadConfig reads the configuration from a YAML file. A missing file
// returns the defaults with no error.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		KeystoreDir: defaultKeystoreDir(),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.KeystoreDir == "" {
		cfg.KeystoreDir = defaultKeystoreDir()
	}
	return cfg, nil
}
