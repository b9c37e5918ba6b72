package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-novels/site"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the optional config.json (or config.yaml) file.
// DownloadPath is untyped so that a non-string value only invalidates that key.
type FileConfig struct {
	DownloadPath        any                     `json:"download_path" yaml:"download_path"`
	VerifyTLS           *bool                   `json:"verify_tls,omitempty" yaml:"verify_tls,omitempty"`
	MaxAttempts         *int                    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	RetryBackoffSeconds *float64                `json:"retry_backoff_seconds,omitempty" yaml:"retry_backoff_seconds,omitempty"`
	Workers             *int                    `json:"workers,omitempty" yaml:"workers,omitempty"`
	OutputFormat        string                  `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	CatalogSource       string                  `json:"catalog_source,omitempty" yaml:"catalog_source,omitempty"`
	Sites               map[string]site.Profile `json:"sites,omitempty" yaml:"sites,omitempty"`
}

// LoadFile loads the config file at path. Returns nil if the file doesn't
// exist (not an error). Returns error if the file exists but cannot be parsed.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// Apply merges the file values onto c. It reports false when download_path is
// missing or not a non-empty string, in which case the current value is kept.
func (c *Config) Apply(fc *FileConfig) bool {
	if fc == nil {
		return false
	}
	if fc.VerifyTLS != nil {
		c.VerifyTLS = *fc.VerifyTLS
	}
	if fc.MaxAttempts != nil {
		c.MaxAttempts = *fc.MaxAttempts
	}
	if fc.RetryBackoffSeconds != nil {
		c.RetryBackoff = time.Duration(*fc.RetryBackoffSeconds * float64(time.Second))
		if c.RetryBackoffMax < c.RetryBackoff {
			c.RetryBackoffMax = c.RetryBackoff
		}
	}
	if fc.Workers != nil {
		c.Workers = *fc.Workers
	}
	if fc.OutputFormat != "" {
		c.OutputFormat = strings.ToLower(fc.OutputFormat)
	}
	if fc.CatalogSource != "" {
		c.CatalogSource = strings.ToLower(fc.CatalogSource)
	}
	if len(fc.Sites) > 0 {
		c.Sites = fc.Sites
	}

	path, ok := fc.DownloadPath.(string)
	if !ok || strings.TrimSpace(path) == "" {
		return false
	}
	c.DownloadPath = NormalizePath(path)
	return true
}

// Load builds the run configuration from defaults and the optional file at
// path. A missing or broken file falls back to the defaults.
func Load(path string) *Config {
	cfg := DefaultConfig()

	fc, err := LoadFile(path)
	if err != nil {
		slog.Warn("config file unusable, using defaults",
			slog.String("path", path),
			slog.String("download_path", cfg.DownloadPath),
			slog.Any("error", err),
		)
		return cfg
	}
	if fc == nil {
		slog.Info("config file not found, using default download path",
			slog.String("path", path),
			slog.String("download_path", cfg.DownloadPath),
		)
		return cfg
	}
	if !cfg.Apply(fc) {
		slog.Warn("download_path missing or invalid, using default",
			slog.String("path", path),
			slog.String("download_path", cfg.DownloadPath),
		)
	}
	return cfg
}

// NormalizePath replaces Windows separators with forward slashes.
func NormalizePath(path string) string {
	return strings.ReplaceAll(strings.TrimSpace(path), `\`, "/")
}
