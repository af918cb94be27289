package bridge

import "strings"

// Rule-rejection reason codes.
const (
	ReasonOK             = "ok"
	ReasonIgnoredBot     = "ignored_bot"
	ReasonBlacklisted    = "blacklisted_user"
	ReasonNotWhitelisted = "not_whitelisted_user"
	ReasonExcludedCmd    = "excluded_command"
)

// ForwardingRules decides which authors and messages may be relayed.
// Immutable once built; hot swaps replace the whole value.
type ForwardingRules struct {
	WhitelistUsers   map[string]struct{}
	BlacklistUsers   map[string]struct{}
	ExcludedCommands []string
	IgnoreBots       bool
}

// NewForwardingRules normalizes the raw user lists (trimmed, empties
// dropped) into a rule set.
func NewForwardingRules(whitelist, blacklist, excludedCommands []string, ignoreBots bool) ForwardingRules {
	rules := ForwardingRules{
		WhitelistUsers: make(map[string]struct{}, len(whitelist)),
		BlacklistUsers: make(map[string]struct{}, len(blacklist)),
		IgnoreBots:     ignoreBots,
	}
	for _, id := range whitelist {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			rules.WhitelistUsers[trimmed] = struct{}{}
		}
	}
	for _, id := range blacklist {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			rules.BlacklistUsers[trimmed] = struct{}{}
		}
	}
	for _, cmd := range excludedCommands {
		if trimmed := strings.TrimSpace(cmd); trimmed != "" {
			rules.ExcludedCommands = append(rules.ExcludedCommands, trimmed)
		}
	}
	return rules
}

// Evaluate applies the rule set to one message. Checks run in a fixed
// order and short-circuit on the first rejection: bot flag, blacklist,
// whitelist, excluded command.
func (r ForwardingRules) Evaluate(authorID string, isBot bool, content string) (bool, string) {
	normalized := strings.TrimSpace(authorID)

	if r.IgnoreBots && isBot {
		return false, ReasonIgnoredBot
	}

	if normalized != "" {
		if _, blocked := r.BlacklistUsers[normalized]; blocked {
			return false, ReasonBlacklisted
		}
	}

	// A configured whitelist is exclusive: anonymous authors are rejected.
	if len(r.WhitelistUsers) > 0 {
		if normalized == "" {
			return false, ReasonNotWhitelisted
		}
		if _, allowed := r.WhitelistUsers[normalized]; !allowed {
			return false, ReasonNotWhitelisted
		}
	}

	if r.isExcludedCommand(content) {
		return false, ReasonExcludedCmd
	}

	return true, ReasonOK
}

func (r ForwardingRules) isExcludedCommand(content string) bool {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return false
	}
	for _, cmd := range r.ExcludedCommands {
		if fields[0] == cmd {
			return true
		}
	}
	return false
}
