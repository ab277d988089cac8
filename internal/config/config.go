// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Index backends.
const (
	IndexElasticsearch = "elasticsearch"
	IndexPostgres      = "postgres"
	IndexMemory        = "memory"
)

// Resolver modes.
const (
	ResolverChromedp = "chromedp"
	ResolverHTTP     = "http"
)

// Publish and archive backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendKafka  = "kafka"
	BackendPubSub = "pubsub"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Index     IndexConfig     `mapstructure:"index"`
	Retention RetentionConfig `mapstructure:"retention"`
	Lock      LockConfig      `mapstructure:"lock"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// FeedConfig describes the metadata feed endpoint.
type FeedConfig struct {
	APIKey string `mapstructure:"api_key"`
	// BaseURL is a URL template; "{}" is replaced by the API key.
	BaseURL   string            `mapstructure:"base_url"`
	Headers   map[string]string `mapstructure:"headers"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	MaxItems  int               `mapstructure:"max_items"`
	UserAgent string            `mapstructure:"user_agent"`
}

// ResolverConfig configures page rendering and extraction.
type ResolverConfig struct {
	Mode               string        `mapstructure:"mode"`
	Headless           bool          `mapstructure:"headless"`
	UserAgent          string        `mapstructure:"user_agent"`
	StartTimeout       time.Duration `mapstructure:"start_timeout"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	WaitTimeout        time.Duration `mapstructure:"wait_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	DomainQPS          float64       `mapstructure:"domain_qps"`
	ContainerSelectors []string      `mapstructure:"container_selectors"`
	PruneTags          []string      `mapstructure:"prune_tags"`
	PruneClasses       []string      `mapstructure:"prune_classes"`
}

// PipelineConfig governs run behavior.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	RunTimeout    time.Duration `mapstructure:"run_timeout"`
	Interval      time.Duration `mapstructure:"interval"`
	SweepAfterRun bool          `mapstructure:"sweep_after_run"`
	Enrich        bool          `mapstructure:"enrich"`
}

// IndexConfig selects and configures the article store.
type IndexConfig struct {
	Backend  string `mapstructure:"backend"`
	URL      string `mapstructure:"url"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RetentionConfig sets the article horizon.
type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

// LockConfig enables the cross-process run lock when RedisURL is set.
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PublishConfig holds metadata for indexed-article notifications.
type PublishConfig struct {
	Backend   string   `mapstructure:"backend"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	ProjectID string   `mapstructure:"project_id"`
}

// ArchiveConfig sets where rendered pages are kept.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry spans. ProjectID enables Cloud Trace export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// legacyEnv maps config keys to the bare environment names older deployments use.
var legacyEnv = map[string]string{
	"feed.api_key":       "NEWS_API_KEY",
	"feed.base_url":      "NEWS_API_BASE_URL",
	"index.url":          "ELASTICSEARCH_URL",
	"lock.redis_url":     "REDIS_URL",
	"retention.days":     "ARTICLE_RETENTION_DAYS",
	"publish.project_id": "GOOGLE_CLOUD_PROJECT",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		envKey := "NEWSINDEX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.base_url", "https://newsdata.io/api/1/latest?apikey={}&country=in&language=en")
	v.SetDefault("feed.timeout", 15*time.Second)
	v.SetDefault("feed.max_items", 0)
	v.SetDefault("feed.user_agent", "newsindexer/0.1")
	v.SetDefault("resolver.mode", ResolverChromedp)
	v.SetDefault("resolver.headless", true)
	v.SetDefault("resolver.user_agent", "")
	v.SetDefault("resolver.start_timeout", 30*time.Second)
	v.SetDefault("resolver.nav_timeout", 30*time.Second)
	v.SetDefault("resolver.wait_timeout", 10*time.Second)
	v.SetDefault("resolver.settle_delay", 2*time.Second)
	v.SetDefault("resolver.domain_qps", 0.0)
	v.SetDefault("resolver.container_selectors", []string{})
	v.SetDefault("resolver.prune_tags", []string{})
	v.SetDefault("resolver.prune_classes", []string{})
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.run_timeout", 10*time.Minute)
	v.SetDefault("pipeline.interval", 30*time.Minute)
	v.SetDefault("pipeline.sweep_after_run", false)
	v.SetDefault("pipeline.enrich", false)
	v.SetDefault("index.backend", IndexElasticsearch)
	v.SetDefault("index.url", "http://localhost:9200")
	v.SetDefault("index.name", "articles")
	v.SetDefault("index.username", "")
	v.SetDefault("index.password", "")
	v.SetDefault("index.dsn", "")
	v.SetDefault("index.table", "articles")
	v.SetDefault("index.max_conns", 0)
	v.SetDefault("retention.days", 7)
	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.key", "newsindexer:run")
	v.SetDefault("lock.ttl", 15*time.Minute)
	v.SetDefault("publish.backend", BackendNone)
	v.SetDefault("publish.brokers", []string{})
	v.SetDefault("publish.topic", "article.indexed")
	v.SetDefault("publish.project_id", "")
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "newsindexer")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Feed.APIKey) == "" {
		return fmt.Errorf("feed.api_key is required")
	}
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be > 0")
	}
	if c.Feed.MaxItems < 0 {
		return fmt.Errorf("feed.max_items must be >= 0")
	}
	switch c.Resolver.Mode {
	case ResolverChromedp, ResolverHTTP:
	default:
		return fmt.Errorf("resolver.mode %q is not one of chromedp, http", c.Resolver.Mode)
	}
	if c.Resolver.NavTimeout <= 0 || c.Resolver.WaitTimeout <= 0 {
		return fmt.Errorf("resolver.nav_timeout and resolver.wait_timeout must be > 0")
	}
	if c.Resolver.SettleDelay < 0 || c.Resolver.DomainQPS < 0 {
		return fmt.Errorf("resolver.settle_delay and resolver.domain_qps must be >= 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.RunTimeout <= 0 || c.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.run_timeout and pipeline.interval must be > 0")
	}
	if err := c.validateIndex(); err != nil {
		return err
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be > 0")
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be > 0")
	}
	if c.Lock.RedisURL != "" && c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be > 0 when lock.redis_url is set")
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

func (c Config) validateIndex() error {
	switch c.Index.Backend {
	case IndexElasticsearch:
		if c.Index.URL == "" {
			return fmt.Errorf("index.url is required for the elasticsearch backend")
		}
	case IndexPostgres:
		if c.Index.DSN == "" {
			return fmt.Errorf("index.dsn is required for the postgres backend")
		}
	case IndexMemory:
	default:
		return fmt.Errorf("index.backend %q is not one of elasticsearch, postgres, memory", c.Index.Backend)
	}
	return nil
}

func (c Config) validatePublish() error {
	switch c.Publish.Backend {
	case BackendNone, BackendMemory:
	case BackendKafka:
		if len(c.Publish.Brokers) == 0 {
			return fmt.Errorf("publish.brokers is required for the kafka backend")
		}
	case BackendPubSub:
		if c.Publish.ProjectID == "" {
			return fmt.Errorf("publish.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("publish.backend %q is not one of none, memory, kafka, pubsub", c.Publish.Backend)
	}
	if c.Publish.Backend != BackendNone && c.Publish.Topic == "" {
		return fmt.Errorf("publish.topic is required when publishing is enabled")
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local backend")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	return nil
}
