package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	ModeCreate = "create"
	ModeUpdate = "update"

	DefaultUserAgent = "webscraper"
)

var (
	ErrInvalidDatasetMode = errors.New("invalid dataset mode")
	ErrNoBaseURLs         = errors.New("at least one base URL is required")
)

type Config struct {
	DatasetMode   string           `toml:"dataset_mode"`
	ProcessingID  string           `toml:"processing_id,omitempty"`
	ShutdownGrace string           `toml:"shutdown_grace"`
	Dataset       DatasetConfig    `toml:"dataset"`
	Crawler       CrawlerConfig    `toml:"crawler"`
	Extract       ExtractConfig    `toml:"extract"`
	Politeness    PolitenessConfig `toml:"politeness"`
	Storage       StorageConfig    `toml:"storage"`
	Logging       LoggingConfig    `toml:"logging"`
}

type DatasetConfig struct {
	ID    string `toml:"id,omitempty"`
	Title string `toml:"title,omitempty"`
}

type CrawlerConfig struct {
	UserAgent          string   `toml:"user_agent"`
	BaseURLs           []string `toml:"base_urls"`
	StartURLs          []string `toml:"start_urls"`
	SeedsFile          string   `toml:"seeds_file,omitempty"`
	ExcludeURLPatterns []string `toml:"exclude_url_patterns,omitempty"`
	Sitemaps           []string `toml:"sitemaps,omitempty"`
	FetchTimeout       string   `toml:"fetch_timeout"`
	MaxBodyBytes       int64    `toml:"max_body_bytes"`
}

type AnchorConfig struct {
	Tags            []string `toml:"tags,omitempty"`
	WrapperSelector string   `toml:"wrapper_selector,omitempty"`
	TitleSelector   string   `toml:"title_selector,omitempty"`
}

type ExtractConfig struct {
	TitlePrefix    string         `toml:"title_prefix,omitempty"`
	TitleSelectors []string       `toml:"title_selectors,omitempty"`
	TagsSelectors  []string       `toml:"tags_selectors,omitempty"`
	Prune          []string       `toml:"prune,omitempty"`
	Anchors        []AnchorConfig `toml:"anchors,omitempty"`
}

type PolitenessConfig struct {
	// DefaultCrawlDelay is in seconds and applies when robots.txt declares none.
	DefaultCrawlDelay float64 `toml:"default_crawl_delay"`
	RobotsTimeout     string  `toml:"robots_timeout"`
}

type StorageConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn,omitempty"`
	Path   string `toml:"path,omitempty"`
	APIURL string `toml:"api_url,omitempty"`
	APIKey string `toml:"api_key,omitempty"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		DatasetMode:   ModeCreate,
		ShutdownGrace: "30s",
		Crawler: CrawlerConfig{
			UserAgent:    DefaultUserAgent,
			FetchTimeout: "30s",
			MaxBodyBytes: 10 * 1024 * 1024,
		},
		Politeness: PolitenessConfig{
			DefaultCrawlDelay: 1,
			RobotsTimeout:     "10s",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "webscraper.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration back to path. It is used to switch a freshly
// created dataset into update mode so the next run reconciles against it.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("could not encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) Validate() error {
	switch c.DatasetMode {
	case ModeCreate:
	case ModeUpdate:
		if c.Dataset.ID == "" {
			return fmt.Errorf("%w: update mode requires dataset.id", ErrInvalidDatasetMode)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDatasetMode, c.DatasetMode)
	}

	if len(c.Crawler.BaseURLs) == 0 {
		return ErrNoBaseURLs
	}

	return nil
}

func (c *CrawlerConfig) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (c *CrawlerConfig) GetUserAgent() string {
	if c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

// GetDefaultCrawlDelay falls back to one second when no positive delay is configured.
func (c *PolitenessConfig) GetDefaultCrawlDelay() time.Duration {
	if c.DefaultCrawlDelay <= 0 {
		return time.Second
	}
	return time.Duration(c.DefaultCrawlDelay * float64(time.Second))
}

func (c *PolitenessConfig) GetRobotsTimeout() time.Duration {
	d, err := time.ParseDuration(c.RobotsTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (c *Config) GetShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownGrace)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
