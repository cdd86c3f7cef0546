// Package config provides YAML-based configuration loading for ChangeBot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level ChangeBot configuration, loaded from changebot.yaml.
// Secrets (bot tokens, API keys) are taken from the environment and override
// anything present in the file.
type Config struct {
	Platform  string          `yaml:"platform"` // "discord" or "slack"
	Discord   DiscordConfig   `yaml:"discord"`
	Slack     SlackConfig     `yaml:"slack"`
	DB        DBConfig        `yaml:"db"`
	Suppliers SuppliersConfig `yaml:"suppliers"`
	Reminders RemindersConfig `yaml:"reminders"`
	Health    HealthConfig    `yaml:"health"`
}

// DiscordConfig holds Discord-specific channel and role identifiers.
type DiscordConfig struct {
	BotToken             string   `yaml:"bot_token"`
	DestinationChannelID string   `yaml:"destination_channel_id"`
	AllowedForumIDs      []string `yaml:"allowed_forum_ids"`
	MaterialsRoleID      string   `yaml:"materials_role_id"` // empty = everyone may open requests
	OfficeRoleID         string   `yaml:"office_role_id"`    // empty = everyone may change status
	AlertRoleID          string   `yaml:"alert_role_id"`
}

// SlackConfig holds Slack Socket Mode credentials and the destination channel.
type SlackConfig struct {
	AppToken             string `yaml:"app_token"`
	BotToken             string `yaml:"bot_token"`
	DestinationChannelID string `yaml:"destination_channel_id"`
}

// DBConfig selects and parameterizes the storage backend.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
}

// SuppliersConfig tunes the supplier lookup pipeline.
type SuppliersConfig struct {
	GoogleAPIKey    string `yaml:"google_api_key"`
	OSMContactEmail string `yaml:"osm_contact_email"`
	RadiusMi        int    `yaml:"radius_mi"`
	CacheTTLDays    int    `yaml:"cache_ttl_days"`
}

// RemindersConfig tunes the reminder scheduler.
type RemindersConfig struct {
	PollCron       string `yaml:"poll_cron"`       // 5-field cron for the due-reminder poll
	PruneCron      string `yaml:"prune_cron"`      // 5-field cron for the cache prune
	FrequencyHours int    `yaml:"frequency_hours"` // default reminder interval
}

// HealthConfig configures the keepalive HTTP endpoint.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment. Several historical names
// are accepted for the Google key.
func (c *Config) applyEnv() {
	if v := getenv("CHANGEBOT_DISCORD_TOKEN", "UHC_DISCORD_TOKEN"); v != "" {
		c.Discord.BotToken = v
	}
	if v := os.Getenv("CHANGEBOT_SLACK_APP_TOKEN"); v != "" {
		c.Slack.AppToken = v
	}
	if v := os.Getenv("CHANGEBOT_SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := getenv("GOOGLE_PLACES_API_KEY", "MAPS_PLATFORM_API_KEY", "GOOGLE_MAPS_API_KEY", "MAPS_API_KEY"); v != "" {
		c.Suppliers.GoogleAPIKey = v
	}
	if v := os.Getenv("OSM_CONTACT_EMAIL"); v != "" {
		c.Suppliers.OSMContactEmail = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "discord"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "changebot.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.Suppliers.RadiusMi == 0 {
		c.Suppliers.RadiusMi = 50
	}
	if c.Suppliers.CacheTTLDays == 0 {
		c.Suppliers.CacheTTLDays = 30
	}
	if c.Suppliers.OSMContactEmail == "" {
		c.Suppliers.OSMContactEmail = "ops@example.com"
	}
	if c.Reminders.PollCron == "" {
		c.Reminders.PollCron = "*/10 * * * *"
	}
	if c.Reminders.PruneCron == "" {
		c.Reminders.PruneCron = "30 4 * * *"
	}
	if c.Reminders.FrequencyHours == 0 {
		c.Reminders.FrequencyHours = 10
	}
	if c.Health.Port == 0 {
		c.Health.Port = 10000
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required (or CHANGEBOT_DISCORD_TOKEN)")
		}
		if c.Discord.DestinationChannelID == "" {
			errs = append(errs, "discord.destination_channel_id is required")
		}
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required (or CHANGEBOT_SLACK_APP_TOKEN)")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required (or CHANGEBOT_SLACK_BOT_TOKEN)")
		}
		if c.Slack.DestinationChannelID == "" {
			errs = append(errs, "slack.destination_channel_id is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (discord, slack)", c.Platform))
	}
	if c.DB.Driver != "sqlite" && c.DB.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite, mysql)", c.DB.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getenv returns the first non-empty value among the named env vars.
func getenv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}
