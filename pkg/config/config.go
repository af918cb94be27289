// Package config loads picobridge settings from the environment.
// Configuration problems are fatal at load time and never reach the router.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
)

// ErrInvalid marks configuration errors.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full environment-driven configuration.
type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	DiscordBotToken  string `env:"DISCORD_BOT_TOKEN"`

	// Either BRIDGE_PAIRS (JSON array) or the single-pair fallback via
	// TELEGRAM_CHAT_ID + DISCORD_CHANNEL_ID.
	BridgePairsJSON  string `env:"BRIDGE_PAIRS"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`
	DiscordChannelID int64  `env:"DISCORD_CHANNEL_ID"`

	WhitelistUsers   []string `env:"WHITELIST_USERS"`
	BlacklistUsers   []string `env:"BLACKLIST_USERS"`
	ExcludedCommands []string `env:"EXCLUDED_COMMANDS" envDefault:"/start,!admin"`
	IgnoreBots       bool     `env:"IGNORE_BOTS" envDefault:"true"`

	DedupTTL      time.Duration `env:"DEDUP_TTL" envDefault:"5m"`
	DedupRedisURL string        `env:"DEDUP_REDIS_URL"`

	MappingTTL      time.Duration `env:"MAPPING_TTL" envDefault:"5m"`
	MappingMaxItems int           `env:"MAPPING_MAX_ITEMS" envDefault:"1000"`
	MappingDBPath   string        `env:"MAPPING_DB_PATH"`
	MappingRedisURL string        `env:"MAPPING_REDIS_URL"`

	PairsFile       string `env:"BRIDGE_PAIRS_FILE" envDefault:"bridge_pairs.json"`
	AdminListenAddr string `env:"ADMIN_LISTEN_ADDR"`
	AdminToken      string `env:"ADMIN_TOKEN"`

	EventsAMQPURL  string `env:"EVENTS_AMQP_URL"`
	EventsExchange string `env:"EVENTS_EXCHANGE" envDefault:"picobridge.events"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`

	// BridgePairs is resolved from BridgePairsJSON or the single-pair
	// fallback during Load.
	BridgePairs []bridge.Pair `env:"-"`
}

// Load parses and validates the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is required", ErrInvalid)
	}
	if cfg.DiscordBotToken == "" {
		return nil, fmt.Errorf("%w: DISCORD_BOT_TOKEN is required", ErrInvalid)
	}

	pairs, err := cfg.resolvePairs()
	if err != nil {
		return nil, err
	}
	cfg.BridgePairs = pairs

	return &cfg, nil
}

func (c *Config) resolvePairs() ([]bridge.Pair, error) {
	if c.BridgePairsJSON == "" {
		if c.TelegramChatID == 0 || c.DiscordChannelID == 0 {
			return nil, fmt.Errorf("%w: set BRIDGE_PAIRS or both TELEGRAM_CHAT_ID and DISCORD_CHANNEL_ID", ErrInvalid)
		}
		return []bridge.Pair{{
			TelegramChatID:   c.TelegramChatID,
			DiscordChannelID: c.DiscordChannelID,
		}}, nil
	}

	var pairs []bridge.Pair
	if err := json.Unmarshal([]byte(c.BridgePairsJSON), &pairs); err != nil {
		return nil, fmt.Errorf("%w: BRIDGE_PAIRS must be a JSON array: %v", ErrInvalid, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: BRIDGE_PAIRS must be a non-empty JSON array", ErrInvalid)
	}
	for i, pair := range pairs {
		if pair.TelegramChatID == 0 || pair.DiscordChannelID == 0 {
			return nil, fmt.Errorf("%w: BRIDGE_PAIRS[%d] must include telegram_chat_id and discord_channel_id", ErrInvalid, i)
		}
	}
	return pairs, nil
}

// Rules builds the forwarding rule set from the configured lists.
func (c *Config) Rules() bridge.ForwardingRules {
	return bridge.NewForwardingRules(c.WhitelistUsers, c.BlacklistUsers, c.ExcludedCommands, c.IgnoreBots)
}
