package bridge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tinyland-inc/picobridge/pkg/events"
	"github.com/tinyland-inc/picobridge/pkg/logger"
)

// Fixed per-platform limits. Only Telegram and Discord are in scope.
const (
	TelegramMessageLimit = 4096
	DiscordMessageLimit  = 2000

	TelegramCaptionLimit = 1024
	DiscordCaptionLimit  = 2000

	TelegramMaxFileBytes = 50 << 20
	DiscordMaxFileBytes  = 8 << 20
)

// Hidden mirror markers. U+2063 (invisible separator) brackets keep the
// sentinel out of sight on both platforms; any message carrying either
// marker was produced by this bridge and is never re-relayed.
const (
	HiddenTelegramMarker = "⁣tg_mirror⁣"
	HiddenDiscordMarker  = "⁣dc_mirror⁣"
)

const (
	telegramPrefix = "[tg]"
	discordPrefix  = "[dc]"

	replyExcerptLimit = 180
	ellipsis          = "…"
)

// Pair is one configured relay route between a Telegram chat and a Discord
// channel, each side optionally pinned to a thread.
type Pair struct {
	ID               string `json:"id,omitempty"`
	TelegramChatID   int64  `json:"telegram_chat_id"`
	TelegramThreadID int64  `json:"telegram_thread_id,omitempty"`
	DiscordChannelID int64  `json:"discord_channel_id"`
	DiscordThreadID  int64  `json:"discord_thread_id,omitempty"`
}

// SendOptions carries threading and reply targeting for a text send.
type SendOptions struct {
	ThreadID         int64
	ReplyToMessageID string
}

// MediaOptions carries metadata for a media send.
type MediaOptions struct {
	SendOptions
	Filename string
	Caption  string
	MimeType string
	Duration int
}

// Sender is the outbound capability of a platform adapter. Implementations
// retry transient failures internally and must be safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (string, error)
	SendMedia(ctx context.Context, kind MediaKind, chatID int64, data []byte, opts MediaOptions) (string, error)
	DownloadByID(ctx context.Context, fileID string) ([]byte, error)
	DownloadByURL(ctx context.Context, url string) ([]byte, error)
}

// SenderFunc resolves the current sender for a platform. Senders are
// externally owned and may be swapped between calls; routers must tolerate
// a nil result (misconfiguration, fatal for that call only).
type SenderFunc func() Sender

// Router relays messages for a single bridge pair. The rule set, dedup
// store, mapping store and senders are shared with other routers and must
// be concurrency-safe.
type Router struct {
	pair     Pair
	rules    func() ForwardingRules
	dedup    DedupStore
	mappings ForwardMappingStore
	telegram SenderFunc
	discord  SenderFunc
	sink     events.Sink
}

// NewRouter builds a router for one pair.
func NewRouter(
	pair Pair,
	rules func() ForwardingRules,
	dedup DedupStore,
	mappings ForwardMappingStore,
	telegram, discord SenderFunc,
	sink events.Sink,
) *Router {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Router{
		pair:     pair,
		rules:    rules,
		dedup:    dedup,
		mappings: mappings,
		telegram: telegram,
		discord:  discord,
		sink:     sink,
	}
}

// Pair returns the route this router serves.
func (r *Router) Pair() Pair { return r.pair }

// direction bundles the per-direction constants of the pipeline.
type direction struct {
	sourcePlatform Platform
	sourceChatID   int64
	sourceThreadID int64
	targetPlatform Platform
	targetChatID   int64
	targetThreadID int64
	prefix         string
	marker         string
	messageLimit   int
	captionLimit   int
	fileLimit      int64
	source         SenderFunc
	target         SenderFunc
}

// RouteTelegramToDiscord relays one Telegram message to the pair's Discord
// side.
func (r *Router) RouteTelegramToDiscord(ctx context.Context, cid string, msg IncomingMessage) error {
	return r.route(ctx, cid, msg, direction{
		sourcePlatform: PlatformTelegram,
		sourceChatID:   r.pair.TelegramChatID,
		sourceThreadID: r.pair.TelegramThreadID,
		targetPlatform: PlatformDiscord,
		targetChatID:   r.pair.DiscordChannelID,
		targetThreadID: r.pair.DiscordThreadID,
		prefix:         telegramPrefix,
		marker:         HiddenTelegramMarker,
		messageLimit:   DiscordMessageLimit,
		captionLimit:   DiscordCaptionLimit,
		fileLimit:      DiscordMaxFileBytes,
		source:         r.telegram,
		target:         r.discord,
	})
}

// RouteDiscordToTelegram relays one Discord message to the pair's Telegram
// side.
func (r *Router) RouteDiscordToTelegram(ctx context.Context, cid string, msg IncomingMessage) error {
	return r.route(ctx, cid, msg, direction{
		sourcePlatform: PlatformDiscord,
		sourceChatID:   r.pair.DiscordChannelID,
		sourceThreadID: r.pair.DiscordThreadID,
		targetPlatform: PlatformTelegram,
		targetChatID:   r.pair.TelegramChatID,
		targetThreadID: r.pair.TelegramThreadID,
		prefix:         discordPrefix,
		marker:         HiddenDiscordMarker,
		messageLimit:   TelegramMessageLimit,
		captionLimit:   TelegramCaptionLimit,
		fileLimit:      TelegramMaxFileBytes,
		source:         r.discord,
		target:         r.telegram,
	})
}

func (r *Router) route(ctx context.Context, cid string, msg IncomingMessage, d direction) error {
	// Scope filter: wrong chat means the message belongs to another pair;
	// a configured thread is exclusive.
	if msg.ChatID != d.sourceChatID {
		return nil
	}
	if d.sourceThreadID != 0 && msg.ThreadID != d.sourceThreadID {
		return nil
	}

	// Loop guard. The marker check runs before and independent of the
	// dedup store so self-produced content survives dedup races.
	if strings.Contains(msg.Content, HiddenTelegramMarker) || strings.Contains(msg.Content, HiddenDiscordMarker) {
		r.reject(ctx, cid, msg, "loop_marker")
		return nil
	}
	if key := msg.DedupKey(); key != "" {
		// The store is shared by all routers; the key carries the
		// destination so fan-out to multiple pairs on the same source
		// chat is not suppressed as a duplicate.
		key = fmt.Sprintf("%s:%s:%d", key, d.targetPlatform, d.targetChatID)
		seen, err := r.dedup.SeenOrAdd(ctx, key)
		if err != nil {
			// Best-effort suppression: a broken dedup backend must not
			// stop relaying. The marker above still prevents loops.
			logger.WarnCF("router", "Dedup store error", map[string]any{
				"correlation_id": cid, "key": key, "error": err.Error(),
			})
		}
		if seen {
			r.reject(ctx, cid, msg, "duplicate")
			return nil
		}
	}

	// Rule filter.
	if allow, reason := r.rules().Evaluate(msg.AuthorID, msg.IsBot, msg.Content); !allow {
		r.reject(ctx, cid, msg, reason)
		return nil
	}

	// Reply resolution: thread natively when we mirrored the reply target
	// earlier, otherwise fall back to a quoted excerpt line.
	replyTargetID, replyFallback := r.resolveReply(ctx, cid, msg, d)

	body := r.formatBody(msg, d, replyFallback)
	if strings.TrimSpace(body) == "" && len(msg.Media) == 0 {
		r.reject(ctx, cid, msg, "empty_payload")
		return nil
	}

	target := d.target()
	if target == nil {
		return fmt.Errorf("%s sender is not configured", d.targetPlatform)
	}

	sendOpts := SendOptions{ThreadID: d.targetThreadID, ReplyToMessageID: replyTargetID}

	var targetMessageID string
	if strings.TrimSpace(body) != "" {
		text := truncate(body, d.messageLimit-utf8.RuneCountInString(d.marker)) + d.marker
		id, err := target.SendText(ctx, d.targetChatID, text, sendOpts)
		if err != nil {
			return fmt.Errorf("relay text to %s: %w", d.targetPlatform, err)
		}
		targetMessageID = id
	}

	for _, item := range msg.Media {
		if !item.Kind.NativelySendable() {
			continue // already listed in the attachments block
		}
		id, err := r.dispatchMedia(ctx, target, d, item, sendOpts)
		if err != nil {
			return fmt.Errorf("relay %s media to %s: %w", item.Kind, d.targetPlatform, err)
		}
		if targetMessageID == "" {
			targetMessageID = id
		}
	}

	if msg.MessageID != "" && targetMessageID != "" {
		fc := ForwardContext{
			SourcePlatform:  d.sourcePlatform,
			SourceChatID:    msg.ChatID,
			SourceMessageID: msg.MessageID,
			TargetPlatform:  d.targetPlatform,
			TargetChatID:    d.targetChatID,
			TargetMessageID: targetMessageID,
		}
		if err := r.mappings.SaveMapping(ctx, fc); err != nil {
			logger.WarnCF("router", "Mapping write failed", map[string]any{
				"correlation_id": cid, "error": err.Error(),
			})
		}
	}

	r.sink.Emit(ctx, events.Event{
		Name:          events.BridgeRelayed,
		CorrelationID: cid,
		Fields: map[string]any{
			"platform":          string(msg.Platform),
			"chat_id":           msg.ChatID,
			"message_id":        msg.MessageID,
			"target_platform":   string(d.targetPlatform),
			"target_chat_id":    d.targetChatID,
			"target_message_id": targetMessageID,
			"media_items":       len(msg.Media),
		},
	})
	return nil
}

func (r *Router) resolveReply(ctx context.Context, cid string, msg IncomingMessage, d direction) (replyTargetID, replyFallback string) {
	if !msg.IsReply() {
		return "", ""
	}

	if msg.ReplyToMessageID != "" {
		id, err := r.mappings.TargetMessageID(ctx, d.sourcePlatform, msg.ChatID, msg.ReplyToMessageID, d.targetPlatform, d.targetChatID)
		if err != nil {
			logger.WarnCF("router", "Mapping lookup failed", map[string]any{
				"correlation_id": cid, "error": err.Error(),
			})
		}
		if id != "" {
			return id, ""
		}
	}

	if strings.TrimSpace(msg.ReplyToText) != "" {
		author := msg.ReplyToAuthor
		if author == "" {
			author = "unknown"
		}
		excerpt := truncate(strings.TrimSpace(msg.ReplyToText), replyExcerptLimit)
		return "", fmt.Sprintf("↪ reply to %s: %s", author, excerpt)
	}
	return "", ""
}

func (r *Router) formatBody(msg IncomingMessage, d direction, replyFallback string) string {
	var lines []string
	if replyFallback != "" {
		lines = append(lines, replyFallback)
	}

	// The attribution header is scaffolding, not payload: a message with
	// no content and no media stays blank so the empty-payload check
	// can abort instead of relaying "[tg] :".
	content := strings.TrimSpace(msg.Content)
	if content != "" || len(msg.Media) > 0 {
		header := strings.TrimRight(fmt.Sprintf("%s %s: %s", d.prefix, msg.AuthorName, content), " ")
		lines = append(lines, header)
	}

	var listed []MediaItem
	for _, item := range msg.Media {
		if !item.Kind.NativelySendable() {
			listed = append(listed, item)
		}
	}
	if len(listed) > 0 {
		lines = append(lines, "Attachments:")
		for _, item := range listed {
			lines = append(lines, "- "+item.Render())
		}
	}

	var kept []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// dispatchMedia forwards one natively sendable item. Resolution failures and
// oversize payloads degrade to a visible textual notice instead of silent
// loss; only transport errors propagate.
func (r *Router) dispatchMedia(ctx context.Context, target Sender, d direction, item MediaItem, opts SendOptions) (string, error) {
	data := item.Data
	if len(data) == 0 {
		data = r.resolveBytes(ctx, d, item)
	}

	if len(data) == 0 {
		notice := fmt.Sprintf("⚠️ %s attachment could not be forwarded (unsupported or unavailable): %s", item.Kind, item.Render())
		return r.sendNotice(ctx, target, d, notice, opts)
	}

	if int64(len(data)) > d.fileLimit {
		notice := fmt.Sprintf("⚠️ %s attachment too large to forward: %d bytes (limit %d bytes)", item.Kind, len(data), d.fileLimit)
		return r.sendNotice(ctx, target, d, notice, opts)
	}

	if captionCannotRide(d.targetPlatform, item.Kind) {
		id, err := target.SendMedia(ctx, item.Kind, d.targetChatID, data, MediaOptions{
			SendOptions: opts,
			Filename:    item.Filename,
			MimeType:    item.MimeType,
			Duration:    item.Duration,
		})
		if err != nil || item.Caption == "" {
			return id, err
		}
		// The caption (and its marker) travels as a companion text so it
		// is neither dropped by the captionless send nor left unmarked.
		if _, noticeErr := r.sendNotice(ctx, target, d, item.Caption, opts); noticeErr != nil {
			logger.WarnCF("router", "Caption relay failed", map[string]any{
				"kind": string(item.Kind), "error": noticeErr.Error(),
			})
		}
		return id, nil
	}

	caption := item.Caption
	if caption != "" {
		caption = truncate(caption, d.captionLimit-utf8.RuneCountInString(d.marker))
	}
	// The marker rides on the caption so an echoed copy of the media
	// message is recognized as ours.
	caption += d.marker

	return target.SendMedia(ctx, item.Kind, d.targetChatID, data, MediaOptions{
		SendOptions: opts,
		Filename:    item.Filename,
		Caption:     caption,
		MimeType:    item.MimeType,
		Duration:    item.Duration,
	})
}

// captionCannotRide reports media kinds whose send operation on the target
// platform has no caption slot (Telegram stickers and video notes).
func captionCannotRide(target Platform, kind MediaKind) bool {
	return target == PlatformTelegram && (kind == MediaSticker || kind == MediaVideoNote)
}

func (r *Router) resolveBytes(ctx context.Context, d direction, item MediaItem) []byte {
	source := d.source()
	if source == nil {
		return nil
	}
	if item.FileID != "" {
		if data, err := source.DownloadByID(ctx, item.FileID); err == nil && len(data) > 0 {
			return data
		}
	}
	if item.URL != "" {
		if data, err := source.DownloadByURL(ctx, item.URL); err == nil && len(data) > 0 {
			return data
		}
	}
	return nil
}

func (r *Router) sendNotice(ctx context.Context, target Sender, d direction, notice string, opts SendOptions) (string, error) {
	text := truncate(notice, d.messageLimit-utf8.RuneCountInString(d.marker)) + d.marker
	return target.SendText(ctx, d.targetChatID, text, opts)
}

func (r *Router) reject(ctx context.Context, cid string, msg IncomingMessage, reason string) {
	logger.DebugCF("router", "Message rejected", map[string]any{
		"correlation_id": cid,
		"platform":       string(msg.Platform),
		"chat_id":        msg.ChatID,
		"message_id":     msg.MessageID,
		"reason":         reason,
	})
	r.sink.Emit(ctx, events.Event{
		Name:          events.BridgeRejected,
		CorrelationID: cid,
		Fields: map[string]any{
			"platform":   string(msg.Platform),
			"chat_id":    msg.ChatID,
			"message_id": msg.MessageID,
			"reason":     reason,
		},
	})
}

// truncate cuts text to limit runes, trimming trailing whitespace and
// appending a single ellipsis when something was removed.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := strings.TrimRight(string(runes[:limit-1]), " \t\n")
	return cut + ellipsis
}
