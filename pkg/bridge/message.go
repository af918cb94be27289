// Package bridge implements the message-relay core: forwarding rules,
// dedup and forward-mapping stores, the per-pair message router and the
// fan-out bridge service.
package bridge

import (
	"fmt"
	"strings"
)

// Platform identifies one of the two bridged messaging platforms.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
)

// MediaKind classifies an attachment.
type MediaKind string

const (
	MediaPhoto       MediaKind = "photo"
	MediaVideo       MediaKind = "video"
	MediaAudio       MediaKind = "audio"
	MediaVoice       MediaKind = "voice"
	MediaDocument    MediaKind = "document"
	MediaSticker     MediaKind = "sticker"
	MediaAnimation   MediaKind = "animation"
	MediaVideoNote   MediaKind = "video_note"
	MediaCustomEmoji MediaKind = "custom_emoji"
	MediaReaction    MediaKind = "reaction"
	MediaOther       MediaKind = "other"
)

// NativelySendable reports whether the kind has a dedicated send operation
// on the destination platform. Kinds without one are rendered as a line in
// the "Attachments:" block instead.
func (k MediaKind) NativelySendable() bool {
	switch k {
	case MediaPhoto, MediaVideo, MediaAudio, MediaVoice, MediaDocument,
		MediaSticker, MediaAnimation, MediaVideoNote:
		return true
	default:
		return false
	}
}

// MediaItem is one attachment of an incoming message. At least one of Data,
// FileID, URL or TextFallback should be set; otherwise the item is
// unrenderable and falls back to a plain description.
type MediaItem struct {
	Kind         MediaKind
	FileID       string // platform file handle for lazy download
	FileUniqueID string
	URL          string
	MimeType     string
	Filename     string
	Caption      string
	Duration     int // seconds
	FileSize     int64
	Data         []byte

	// Kind-specific metadata.
	Emoji          string
	StickerSetName string
	Animated       bool
	VideoSticker   bool
	CustomEmojiID  string
	TextFallback   string
}

// Render produces the one-line textual representation used in the
// "Attachments:" block and in unrenderable fallbacks.
func (m MediaItem) Render() string {
	switch {
	case m.TextFallback != "":
		return m.TextFallback
	case m.Filename != "" && m.URL != "":
		return fmt.Sprintf("%s: %s", m.Filename, m.URL)
	case m.URL != "":
		return m.URL
	case m.Filename != "":
		return m.Filename
	case m.Emoji != "":
		return fmt.Sprintf("%s (%s)", m.Emoji, m.Kind)
	default:
		return string(m.Kind)
	}
}

// IncomingMessage is one observed platform event, created by an adapter and
// owned exclusively by the router call processing it.
type IncomingMessage struct {
	Platform         Platform
	ChatID           int64
	ThreadID         int64 // 0 when the message is not in a thread
	AuthorName       string
	AuthorID         string
	IsBot            bool
	Content          string
	MessageID        string // empty only for synthetic events
	ReplyToMessageID string
	ReplyToAuthor    string
	ReplyToText      string
	Media            []MediaItem
}

// DedupKey derives the duplicate-suppression key. Messages without a
// platform message id have no key and skip dedup entirely.
func (m IncomingMessage) DedupKey() string {
	if m.MessageID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d:%s", m.Platform, m.ChatID, m.ThreadID, m.MessageID)
}

// IsReply reports whether the message references another message.
func (m IncomingMessage) IsReply() bool {
	return m.ReplyToMessageID != "" || strings.TrimSpace(m.ReplyToText) != ""
}
