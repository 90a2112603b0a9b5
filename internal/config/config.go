package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Scrape   ScrapeConfig   `yaml:"scrape" mapstructure:"scrape"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Ebay     EbayConfig     `yaml:"ebay" mapstructure:"ebay"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ScrapeConfig configures outbound scraping behavior.
type ScrapeConfig struct {
	// CompliantMode disables all rendered-page scraping and search;
	// only official marketplace APIs remain active.
	CompliantMode bool `yaml:"compliant_mode" mapstructure:"compliant_mode"`

	// RateLimit is an expression like "1/s" or "30/m" setting the minimum
	// spacing of outbound calls per operation class.
	RateLimit string `yaml:"rate_limit" mapstructure:"rate_limit"`

	// ProxyURL routes browser traffic through an outbound proxy.
	ProxyURL string `yaml:"proxy_url" mapstructure:"proxy_url"`

	NavTimeoutSecs      int `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	SelectorTimeoutSecs int `yaml:"selector_timeout_secs" mapstructure:"selector_timeout_secs"`
}

// NavTimeout returns the page navigation timeout.
func (c ScrapeConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSecs) * time.Second
}

// SelectorTimeout returns the per-selector wait timeout.
func (c ScrapeConfig) SelectorTimeout() time.Duration {
	return time.Duration(c.SelectorTimeoutSecs) * time.Second
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	Headless         bool     `yaml:"headless" mapstructure:"headless"`
	BlockedResources []string `yaml:"blocked_resources" mapstructure:"blocked_resources"`
}

// EbayConfig holds eBay Finding API credentials. An empty AppID disables
// the structured API channel; search then falls back to the rendered page.
type EbayConfig struct {
	AppID   string `yaml:"app_id" mapstructure:"app_id"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ScheduleConfig configures the periodic rescrape and re-research jobs.
type ScheduleConfig struct {
	ScrapeIntervalHours  int `yaml:"scrape_interval_hours" mapstructure:"scrape_interval_hours"`
	ResearchIntervalDays int `yaml:"research_interval_days" mapstructure:"research_interval_days"`
	ResearchLimit        int `yaml:"research_limit" mapstructure:"research_limit"`
	CaptchaCooldownHours int `yaml:"captcha_cooldown_hours" mapstructure:"captcha_cooldown_hours"`
}

// ScrapeInterval returns the rescrape loop interval.
func (c ScheduleConfig) ScrapeInterval() time.Duration {
	return time.Duration(c.ScrapeIntervalHours) * time.Hour
}

// ResearchInterval returns the re-research loop interval.
func (c ScheduleConfig) ResearchInterval() time.Duration {
	return time.Duration(c.ResearchIntervalDays) * 24 * time.Hour
}

// CaptchaCooldown returns how long a match sits out after a captcha.
func (c ScheduleConfig) CaptchaCooldown() time.Duration {
	return time.Duration(c.CaptchaCooldownHours) * time.Hour
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pricetrack.db")
	v.SetDefault("scrape.compliant_mode", false)
	v.SetDefault("scrape.rate_limit", "1/s")
	v.SetDefault("scrape.nav_timeout_secs", 30)
	v.SetDefault("scrape.selector_timeout_secs", 15)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.blocked_resources", []string{"images", "stylesheets", "fonts", "media"})
	v.SetDefault("ebay.base_url", "https://svcs.ebay.com/services/search/FindingService/v1")
	v.SetDefault("schedule.scrape_interval_hours", 24)
	v.SetDefault("schedule.research_interval_days", 7)
	v.SetDefault("schedule.research_limit", 200)
	v.SetDefault("schedule.captcha_cooldown_hours", 6)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
