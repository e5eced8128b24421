// Package config handles loading and parsing of mantabridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for mantabridge.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	S3      S3Config      `yaml:"s3"`
	Store   StoreConfig   `yaml:"store"`
	Manta   MantaConfig   `yaml:"manta"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeoutSeconds bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// S3Config holds settings for the S3-compatible surface.
type S3Config struct {
	// Version is the S3 API version stamped into XML namespaces
	// (e.g., "2006-03-01").
	Version string `yaml:"version"`
	// PrettyPrint enables indented XML responses.
	PrettyPrint bool `yaml:"pretty_print"`
}

// StoreConfig holds translation settings for the backing store.
type StoreConfig struct {
	// Backend selects the store implementation: "manta" or "memory".
	// The memory backend keeps everything in-process and is meant for
	// local development and tests.
	Backend string `yaml:"backend"`
	// BucketPath is the store directory that holds all buckets. The
	// prefix "~~" expands to "/<account>".
	BucketPath string `yaml:"bucket_path"`
	// DefaultDurability is the copy count used when no storage class
	// maps the request.
	DefaultDurability int `yaml:"default_durability"`
	// MaxFilenameLength caps the full store path length of any object.
	MaxFilenameLength int `yaml:"max_filename_length"`
	// StorageClassToDurability maps S3 storage classes to copy counts.
	StorageClassToDurability map[string]int `yaml:"storage_class_to_durability"`
	// DurabilityToStorageClass maps copy counts back to storage classes.
	// Keys are decimal strings because YAML map keys arrive as strings.
	DurabilityToStorageClass map[string]string `yaml:"durability_to_storage_class"`
}

// MantaConfig holds connection settings for the Manta store.
type MantaConfig struct {
	// URL is the store endpoint (e.g., "https://us-central.manta.example.com").
	URL string `yaml:"url"`
	// User is the store account name.
	User string `yaml:"user"`
	// KeyID is the SSH key fingerprint used in the HTTP Signature keyId.
	KeyID string `yaml:"key_id"`
	// KeyPath is the filesystem path of the RSA private key used for
	// request signing. Empty disables signing (for test endpoints).
	KeyPath string `yaml:"key_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BucketRoot returns the store directory holding all buckets, with the
// "~~" account shorthand expanded and any trailing slash removed.
func (c *Config) BucketRoot(user string) string {
	root := c.Store.BucketPath
	if strings.HasPrefix(root, "~~") {
		root = "/" + user + strings.TrimPrefix(root, "~~")
	}
	return strings.TrimRight(root, "/")
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to mantabridge.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// Try fallback paths
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "mantabridge.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "mantabridge.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8080,
			ShutdownTimeoutSeconds: 30,
		},
		S3: S3Config{
			Version: "2006-03-01",
		},
		Store: StoreConfig{
			Backend:           "manta",
			BucketPath:        "~~/stor/s3_buckets",
			DefaultDurability: 2,
			MaxFilenameLength: 1024,
			StorageClassToDurability: map[string]int{
				"STANDARD":           2,
				"STANDARD_IA":        2,
				"REDUCED_REDUNDANCY": 1,
				"GLACIER":            1,
			},
			DurabilityToStorageClass: map[string]string{
				"1": "REDUCED_REDUNDANCY",
				"2": "STANDARD",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 30
	}
	if cfg.S3.Version == "" {
		cfg.S3.Version = "2006-03-01"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "manta"
	}
	if cfg.Store.BucketPath == "" {
		cfg.Store.BucketPath = "~~/stor/s3_buckets"
	}
	if cfg.Store.DefaultDurability == 0 {
		cfg.Store.DefaultDurability = 2
	}
	if cfg.Store.MaxFilenameLength == 0 {
		cfg.Store.MaxFilenameLength = 1024
	}
	if cfg.Store.StorageClassToDurability == nil {
		cfg.Store.StorageClassToDurability = map[string]int{
			"STANDARD":           2,
			"STANDARD_IA":        2,
			"REDUCED_REDUNDANCY": 1,
			"GLACIER":            1,
		}
	}
	if cfg.Store.DurabilityToStorageClass == nil {
		cfg.Store.DurabilityToStorageClass = map[string]string{
			"1": "REDUCED_REDUNDANCY",
			"2": "STANDARD",
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
