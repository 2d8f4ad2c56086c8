// Package config loads the bot configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"whos-online/internal/presence"
)

const (
	SourceDiscord = "discord"
	SourceRouter  = "router"
)

type Config struct {
	Source        string
	CommandPrefix string
	Log           LogConfig
	Discord       DiscordConfig
	Router        RouterConfig
	Telegram      TelegramConfig
	LookupPolicy  presence.LookupPolicy
	MetricsListen string
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
}

type RouterConfig struct {
	BaseURL      string
	Username     string
	Password     string
	Lang         string
	PollInterval time.Duration
	ClearDelay   time.Duration
	Targets      []string
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Enabled reports whether the Telegram frontend should start.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

type rawConfig struct {
	Source        string         `yaml:"source"`
	CommandPrefix string         `yaml:"command_prefix"`
	Log           LogConfig      `yaml:"log"`
	Discord       DiscordConfig  `yaml:"discord"`
	Router        rawRouter      `yaml:"router"`
	Telegram      TelegramConfig `yaml:"telegram"`
	Roster        struct {
		LookupPolicy string `yaml:"lookup_policy"`
	} `yaml:"roster"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

type rawRouter struct {
	BaseURL      string   `yaml:"base_url"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Lang         string   `yaml:"lang"`
	PollInterval string   `yaml:"poll_interval"`
	ClearDelay   string   `yaml:"clear_delay"`
	Targets      []string `yaml:"targets"`
}

// Load reads path, applies DISCORD_TOKEN and TELEGRAM_TOKEN from the
// environment (or a .env file in the working directory) and validates
// the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data, os.Getenv)
}

// Parse decodes YAML data. getenv supplies token overrides.
func Parse(data []byte, getenv func(string) string) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, err
	}

	if token := getenv("DISCORD_TOKEN"); token != "" {
		raw.Discord.Token = token
	}
	if token := getenv("TELEGRAM_TOKEN"); token != "" {
		raw.Telegram.Token = token
	}

	source := strings.ToLower(strings.TrimSpace(raw.Source))
	if source == "" {
		source = SourceDiscord
	}
	prefix := raw.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	logCfg := raw.Log
	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	if logCfg.Format == "" {
		logCfg.Format = "console"
	}

	pollInterval := 10 * time.Second
	if raw.Router.PollInterval != "" {
		d, err := time.ParseDuration(raw.Router.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("invalid router.poll_interval: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid router.poll_interval: must be positive")
		}
		pollInterval = d
	}
	clearDelay := time.Duration(0)
	if raw.Router.ClearDelay != "" {
		d, err := time.ParseDuration(raw.Router.ClearDelay)
		if err != nil {
			return Config{}, fmt.Errorf("invalid router.clear_delay: %w", err)
		}
		clearDelay = d
	}
	lang := raw.Router.Lang
	if lang == "" {
		lang = "en"
	}

	policy, err := presence.ParseLookupPolicy(raw.Roster.LookupPolicy)
	if err != nil {
		return Config{}, fmt.Errorf("invalid roster.lookup_policy: %w", err)
	}

	cfg := Config{
		Source:        source,
		CommandPrefix: prefix,
		Log:           logCfg,
		Discord:       raw.Discord,
		Router: RouterConfig{
			BaseURL:      raw.Router.BaseURL,
			Username:     raw.Router.Username,
			Password:     raw.Router.Password,
			Lang:         lang,
			PollInterval: pollInterval,
			ClearDelay:   clearDelay,
			Targets:      raw.Router.Targets,
		},
		Telegram:      raw.Telegram,
		LookupPolicy:  policy,
		MetricsListen: raw.Metrics.Listen,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Source {
	case SourceDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("discord.token is required (or set DISCORD_TOKEN)")
		}
	case SourceRouter:
		if c.Router.BaseURL == "" {
			return fmt.Errorf("router.base_url is required")
		}
	default:
		return fmt.Errorf("invalid source %q: want %s or %s", c.Source, SourceDiscord, SourceRouter)
	}
	return nil
}
