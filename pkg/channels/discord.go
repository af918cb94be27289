package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
	"github.com/tinyland-inc/picobridge/pkg/events"
	"github.com/tinyland-inc/picobridge/pkg/logger"
	"github.com/tinyland-inc/picobridge/pkg/retry"
)

// DiscordChannel receives gateway events over the discordgo session and
// implements bridge.Sender for the Discord side.
type DiscordChannel struct {
	*BaseChannel
	session   *discordgo.Session
	handler   Handler
	sink      events.Sink
	http      *http.Client
	botUserID string
}

func NewDiscordChannel(token string, handler Handler, sink events.Sink) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	if sink == nil {
		sink = events.NopSink{}
	}
	c := &DiscordChannel{
		BaseChannel: NewBaseChannel("discord"),
		session:     session,
		handler:     handler,
		sink:        sink,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
	session.AddHandler(c.handleReady)
	session.AddHandler(c.handleMessageCreate)
	return c, nil
}

// Start opens the gateway connection and blocks until ctx is canceled.
func (c *DiscordChannel) Start(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	c.SetRunning(true)
	defer c.SetRunning(false)

	<-ctx.Done()
	return c.session.Close()
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *DiscordChannel) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	c.botUserID = r.User.ID
	logger.InfoCF("discord", "Discord channel connected", map[string]any{"user": r.User.Username})
}

func (c *DiscordChannel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID {
		return
	}

	channelID, threadID := c.normalizeChannel(m.ChannelID)
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return
	}

	incoming := bridge.IncomingMessage{
		Platform:   bridge.PlatformDiscord,
		ChatID:     chatID,
		ThreadID:   threadID,
		AuthorName: discordDisplayName(m.Author, m.Member),
		AuthorID:   m.Author.ID,
		IsBot:      m.Author.Bot,
		Content:    m.Content,
		MessageID:  m.ID,
		Media:      c.discordMedia(m.Message),
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		incoming.ReplyToMessageID = ref.MessageID
		referenced := m.ReferencedMessage
		if referenced == nil {
			referenced, _ = s.ChannelMessage(ref.ChannelID, ref.MessageID)
		}
		if referenced != nil && referenced.Author != nil {
			incoming.ReplyToAuthor = discordDisplayName(referenced.Author, nil)
			incoming.ReplyToText = referenced.Content
		}
	}

	if incoming.Content == "" && len(incoming.Media) == 0 {
		return
	}

	c.handler.HandleDiscordMessage(context.Background(), incoming)
}

// normalizeChannel maps a thread channel onto its parent so pair matching
// uses the configured channel id, with the thread id carried separately.
func (c *DiscordChannel) normalizeChannel(channelID string) (string, int64) {
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID)
	}
	if err != nil || ch == nil || !ch.IsThread() || ch.ParentID == "" {
		return channelID, 0
	}
	threadID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return channelID, 0
	}
	return ch.ParentID, threadID
}

func discordDisplayName(user *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func (c *DiscordChannel) discordMedia(msg *discordgo.Message) []bridge.MediaItem {
	var items []bridge.MediaItem
	for _, att := range msg.Attachments {
		items = append(items, bridge.MediaItem{
			Kind:     kindFromContentType(att.ContentType),
			URL:      att.URL,
			MimeType: att.ContentType,
			Filename: att.Filename,
			FileSize: int64(att.Size),
		})
	}
	for _, sticker := range msg.StickerItems {
		items = append(items, bridge.MediaItem{
			Kind:     bridge.MediaSticker,
			URL:      fmt.Sprintf("https://media.discordapp.net/stickers/%s.png", sticker.ID),
			Filename: fmt.Sprintf("sticker_%s.png", sticker.ID),
		})
	}
	return items
}

func kindFromContentType(contentType string) bridge.MediaKind {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "image/gif":
		return bridge.MediaAnimation
	case strings.HasPrefix(ct, "image/"):
		return bridge.MediaPhoto
	case strings.HasPrefix(ct, "video/"):
		return bridge.MediaVideo
	case strings.HasPrefix(ct, "audio/"):
		return bridge.MediaAudio
	default:
		return bridge.MediaDocument
	}
}

// SendText relays a text payload into a Discord channel or thread.
func (c *DiscordChannel) SendText(ctx context.Context, chatID int64, text string, opts bridge.SendOptions) (string, error) {
	target := c.targetChannel(chatID, opts.ThreadID)
	send := &discordgo.MessageSend{
		Content:   text,
		Reference: discordReference(target, opts.ReplyToMessageID),
	}
	sent, err := retry.Do(ctx, "discord.send_message", func() (*discordgo.Message, error) {
		return c.session.ChannelMessageSendComplex(target, send, discordgo.WithContext(ctx))
	}, classifyDiscordError, retry.WithSink(c.sink))
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

// SendMedia uploads the payload as a file attachment. The reader is rebuilt
// per attempt so retries resend the full body.
func (c *DiscordChannel) SendMedia(ctx context.Context, kind bridge.MediaKind, chatID int64, data []byte, opts bridge.MediaOptions) (string, error) {
	target := c.targetChannel(chatID, opts.ThreadID)
	filename := discordUploadName(kind, opts.Filename)
	reference := discordReference(target, opts.ReplyToMessageID)

	sent, err := retry.Do(ctx, "discord.send_file", func() (*discordgo.Message, error) {
		send := &discordgo.MessageSend{
			Content:   opts.Caption,
			Reference: reference,
			Files: []*discordgo.File{{
				Name:        filename,
				ContentType: opts.MimeType,
				Reader:      bytes.NewReader(data),
			}},
		}
		return c.session.ChannelMessageSendComplex(target, send, discordgo.WithContext(ctx))
	}, classifyDiscordError, retry.WithSink(c.sink))
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

// DownloadByID is not meaningful on Discord; attachments carry CDN URLs.
func (c *DiscordChannel) DownloadByID(ctx context.Context, fileID string) ([]byte, error) {
	return nil, fmt.Errorf("discord has no file id download for %q", fileID)
}

func (c *DiscordChannel) DownloadByURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %q: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// targetChannel picks the thread when one is set; thread sends go directly
// to the thread channel id.
func (c *DiscordChannel) targetChannel(chatID, threadID int64) string {
	if threadID != 0 {
		return strconv.FormatInt(threadID, 10)
	}
	return strconv.FormatInt(chatID, 10)
}

func discordReference(channelID, messageID string) *discordgo.MessageReference {
	if messageID == "" {
		return nil
	}
	failIfNotExists := false
	return &discordgo.MessageReference{
		MessageID:       messageID,
		ChannelID:       channelID,
		FailIfNotExists: &failIfNotExists,
	}
}

func discordUploadName(kind bridge.MediaKind, filename string) string {
	if filename != "" {
		return filename
	}
	switch kind {
	case bridge.MediaPhoto:
		return "photo.jpg"
	case bridge.MediaVideo, bridge.MediaAnimation, bridge.MediaVideoNote:
		return "video.mp4"
	case bridge.MediaAudio:
		return "audio.mp3"
	case bridge.MediaVoice:
		return "voice.ogg"
	case bridge.MediaSticker:
		return "sticker.webp"
	default:
		return "document.bin"
	}
}

// classifyDiscordError retries rate limits and gateway-side 5xx responses.
func classifyDiscordError(err error) (bool, int) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return true, http.StatusTooManyRequests
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		code := 0
		if restErr.Response != nil {
			code = restErr.Response.StatusCode
		}
		switch code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true, code
		}
		return false, code
	}
	return true, http.StatusServiceUnavailable
}
