package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("DISCORD_BOT_TOKEN", "dc-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("DISCORD_CHANNEL_ID", "555")
}

func TestLoad_SinglePairFallback(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.BridgePairs, 1)
	assert.Equal(t, int64(-100123), cfg.BridgePairs[0].TelegramChatID)
	assert.Equal(t, int64(555), cfg.BridgePairs[0].DiscordChannelID)
	assert.True(t, cfg.IgnoreBots)
	assert.Equal(t, []string{"/start", "!admin"}, cfg.ExcludedCommands)
}

func TestLoad_MissingTokensFatal(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("DISCORD_BOT_TOKEN", "dc-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("DISCORD_CHANNEL_ID", "555")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MissingPairConfigFatal(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("DISCORD_BOT_TOKEN", "dc-token")

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_BridgePairsJSON(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BRIDGE_PAIRS", `[
		{"telegram_chat_id": -1, "discord_channel_id": 10, "telegram_thread_id": 7},
		{"telegram_chat_id": -2, "discord_channel_id": 20}
	]`)

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.BridgePairs, 2)
	assert.Equal(t, bridge.Pair{TelegramChatID: -1, DiscordChannelID: 10, TelegramThreadID: 7}, cfg.BridgePairs[0])
	assert.Equal(t, bridge.Pair{TelegramChatID: -2, DiscordChannelID: 20}, cfg.BridgePairs[1])
}

func TestLoad_BridgePairsJSONInvalid(t *testing.T) {
	setBaseEnv(t)

	for name, raw := range map[string]string{
		"not json":    "nope",
		"empty array": "[]",
		"missing ids": `[{"telegram_chat_id": -1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("BRIDGE_PAIRS", raw)
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestConfig_Rules(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WHITELIST_USERS", "1, 2")
	t.Setenv("BLACKLIST_USERS", "3")
	t.Setenv("EXCLUDED_COMMANDS", "/start,!mod")
	t.Setenv("IGNORE_BOTS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	rules := cfg.Rules()
	assert.False(t, rules.IgnoreBots)
	assert.Contains(t, rules.WhitelistUsers, "1")
	assert.Contains(t, rules.WhitelistUsers, "2")
	assert.Contains(t, rules.BlacklistUsers, "3")
	assert.Equal(t, []string{"/start", "!mod"}, rules.ExcludedCommands)

	allow, reason := rules.Evaluate("3", false, "hello")
	assert.False(t, allow)
	assert.Equal(t, bridge.ReasonBlacklisted, reason)
}
