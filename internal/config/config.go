// Package config loads the bot's configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Bot      BotConfig      `yaml:"bot"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the bot's own HTTP listener (health, metrics,
// catalog read API, provider webhook).
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig selects the catalog store. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// ProviderConfig points at the messaging provider's HTTP API.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" env:"PROVIDER_BASE_URL"`
	Token   string `yaml:"token" env:"PROVIDER_TOKEN"`
}

// BotConfig carries the store bot's domain settings.
type BotConfig struct {
	// TagName is the front-end tag this bot serves.
	TagName string `yaml:"tag_name" env:"BOT_TAG_NAME"`
	// CompatibleTags lists older front-end tags still served.
	CompatibleTags []string `yaml:"compatible_tags"`
	// GenesisChatID is the operator chat.
	GenesisChatID int64 `yaml:"genesis_chat_id" env:"BOT_GENESIS_CHAT_ID"`
	// ShopBundle and HelperBundle are paths to the front-end bundles posted
	// into shop and submit/review chats.
	ShopBundle   string `yaml:"shop_bundle" env:"BOT_SHOP_BUNDLE"`
	HelperBundle string `yaml:"helper_bundle" env:"BOT_HELPER_BUNDLE"`
	// TesterCount is how many testers join each review chat.
	TesterCount int `yaml:"tester_count" env:"BOT_TESTER_COUNT"`
}

// LoggingConfig mirrors pkg/logger's settings.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Load reads the file at path when it exists, then applies environment
// overrides and defaults. A missing file is not an error; the environment
// alone can configure the bot.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// envdecode errors on structs with no matching variables set; all fields
	// are optional here so that case is not an error.
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bot.TagName == "" {
		c.Bot.TagName = "v1"
	}
	if c.Bot.TesterCount == 0 {
		c.Bot.TesterCount = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
