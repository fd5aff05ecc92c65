package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/opendata-kr/g2b-collector/internal/checkpoint"
	"github.com/opendata-kr/g2b-collector/internal/collector"
	"github.com/opendata-kr/g2b-collector/internal/sink"
)

// Config is the full runtime configuration, loaded from an optional YAML
// file with environment overrides. Secrets (API key, DSNs, Slack token)
// normally arrive through the environment only.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Collection CollectionConfig `mapstructure:"collection"`
	Checkpoint checkpoint.StoreConfig
	Sink       sink.Config
	Slack      SlackConfig `mapstructure:"slack"`
}

type APIConfig struct {
	Key        string        `mapstructure:"key"`
	BaseURL    string        `mapstructure:"base_url"`
	PageSize   int           `mapstructure:"page_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	PageDelay  time.Duration `mapstructure:"page_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type CollectionConfig struct {
	Categories       []string `mapstructure:"categories"`
	StartYear        int      `mapstructure:"start_year"`
	EndYear          int      `mapstructure:"end_year"`
	TrailingWindow   bool     `mapstructure:"trailing_window"`
	DailyQuota       int      `mapstructure:"daily_quota"`
	EmptyStreakLimit int      `mapstructure:"empty_streak_limit"`
	Timezone         string   `mapstructure:"timezone"`
	BackupPath       string   `mapstructure:"backup_path"`
}

type SlackConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates what cannot be defaulted.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.page_size", 999)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.base_delay", "1s")
	v.SetDefault("api.page_delay", "100ms")
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("collection.categories", []string{})
	v.SetDefault("collection.start_year", 2005)
	v.SetDefault("collection.end_year", 2025)
	v.SetDefault("collection.trailing_window", false)
	v.SetDefault("collection.daily_quota", 500)
	v.SetDefault("collection.empty_streak_limit", 60)
	v.SetDefault("collection.timezone", "Asia/Seoul")
	v.SetDefault("collection.backup_path", "checkpoint_backup.json")

	v.SetDefault("checkpoint.type", "FS")
	v.SetDefault("checkpoint.path", "checkpoint.json")
	v.SetDefault("checkpoint.object", "checkpoint.json")

	v.SetDefault("sink.type", "file")
	v.SetDefault("sink.dir", "data")

	v.SetEnvPrefix("G2B")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional bare names used by deployment environments.
	v.BindEnv("api.key", "G2B_API_KEY", "API_KEY")
	v.BindEnv("sink.postgres_dsn", "G2B_SINK_POSTGRES_DSN", "DATABASE_URL")
	v.BindEnv("slack.token", "G2B_SLACK_TOKEN", "SLACK_TOKEN")
	v.BindEnv("slack.channel_id", "G2B_SLACK_CHANNEL_ID", "SLACK_CHANNEL_ID")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", cfgFile)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}

	cfg.Checkpoint = checkpoint.StoreConfig{
		Type:   v.GetString("checkpoint.type"),
		Bucket: v.GetString("checkpoint.bucket"),
		Object: v.GetString("checkpoint.object"),
		Region: v.GetString("checkpoint.region"),
		Path:   v.GetString("checkpoint.path"),
	}
	cfg.Sink = sink.Config{
		Type:            v.GetString("sink.type"),
		Dir:             v.GetString("sink.dir"),
		ArchiveBucket:   v.GetString("sink.archive_bucket"),
		PostgresDSN:     v.GetString("sink.postgres_dsn"),
		SQLitePath:      v.GetString("sink.sqlite_path"),
		MongoURI:        v.GetString("sink.mongo_uri"),
		MongoDatabase:   v.GetString("sink.mongo_database"),
		MongoCollection: v.GetString("sink.mongo_collection"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.API.Key == "" {
		return errors.New("API key is required (set G2B_API_KEY or API_KEY)")
	}
	if c.Collection.StartYear > c.Collection.EndYear {
		return errors.Errorf("start_year %d is after end_year %d",
			c.Collection.StartYear, c.Collection.EndYear)
	}
	if c.Collection.DailyQuota <= 0 {
		return errors.New("daily_quota must be positive")
	}
	for _, cat := range c.Collection.Categories {
		if !collector.ValidCategory(collector.DefaultCategories, collector.Category(cat)) {
			return errors.Errorf("unknown category %q (valid: %v)", cat, collector.DefaultCategories)
		}
	}
	return nil
}

// Categories returns the configured category order, falling back to the
// standard four-category rotation.
func (c *Config) Categories() []collector.Category {
	if len(c.Collection.Categories) == 0 {
		return collector.DefaultCategories
	}
	out := make([]collector.Category, len(c.Collection.Categories))
	for i, s := range c.Collection.Categories {
		out[i] = collector.Category(s)
	}
	return out
}
