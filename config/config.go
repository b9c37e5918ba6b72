package config

import (
	"fmt"
	"time"

	"github.com/aluiziolira/go-scrape-novels/site"
)

// Config holds scraper configuration.
type Config struct {
	DownloadPath     string
	CatalogDir       string
	CategoriesDir    string
	LongSite         string
	ShortSite        string
	CatalogSource    string // label or feed
	Timeout          time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	VerifyTLS        bool
	UserAgent        string
	MaxBodySize      int
	AllowedDomains   []string
	RespectRobotsTxt bool
	Workers          int
	ContentCacheSize int
	OutputFormat     string // txt, jsonl, or dual
	MetricsAddr      string
	Verbose          bool
	Sites            map[string]site.Profile
}

const (
	SourceLabel = "label"
	SourceFeed  = "feed"

	FormatText  = "txt"
	FormatJSONL = "jsonl"
	FormatDual  = "dual"

	// DefaultDownloadPath is used when no config file provides one.
	DefaultDownloadPath = "novels"
)

// DefaultConfig returns conservative defaults for the two xbookcn sites.
func DefaultConfig() *Config {
	return &Config{
		DownloadPath:     DefaultDownloadPath,
		CatalogDir:       "chapters",
		CategoriesDir:    "categories",
		LongSite:         site.Book,
		ShortSite:        site.Blog,
		CatalogSource:    SourceLabel,
		Timeout:          30 * time.Second,
		MaxAttempts:      3,
		RetryBackoff:     3 * time.Second,
		RetryBackoffMax:  3 * time.Second,
		VerifyTLS:        true,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MaxBodySize:      64 << 20,
		Workers:          1,
		ContentCacheSize: 256,
		OutputFormat:     FormatText,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.DownloadPath == "" {
		return fmt.Errorf("download path cannot be empty")
	}
	if c.CatalogDir == "" {
		return fmt.Errorf("catalog dir cannot be empty")
	}
	if c.CategoriesDir == "" {
		return fmt.Errorf("categories dir cannot be empty")
	}
	if c.CatalogSource != SourceLabel && c.CatalogSource != SourceFeed {
		return fmt.Errorf("catalog source must be label or feed")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ContentCacheSize < 0 {
		return fmt.Errorf("content cache size cannot be negative")
	}
	if c.OutputFormat != FormatText && c.OutputFormat != FormatJSONL && c.OutputFormat != FormatDual {
		return fmt.Errorf("output format must be txt, jsonl, or dual")
	}
	if _, err := c.LongProfile(); err != nil {
		return fmt.Errorf("long site: %w", err)
	}
	if _, err := c.ShortProfile(); err != nil {
		return fmt.Errorf("short site: %w", err)
	}

	return nil
}

// LongProfile resolves the site used for long-form novels.
func (c *Config) LongProfile() (site.Profile, error) {
	return site.Lookup(c.LongSite, c.Sites)
}

// ShortProfile resolves the site used for short story categories.
func (c *Config) ShortProfile() (site.Profile, error) {
	return site.Lookup(c.ShortSite, c.Sites)
}
