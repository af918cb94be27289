package channels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
	"github.com/tinyland-inc/picobridge/pkg/events"
	"github.com/tinyland-inc/picobridge/pkg/logger"
	"github.com/tinyland-inc/picobridge/pkg/retry"
)

// TelegramChannel receives updates via long polling and implements
// bridge.Sender for the Telegram side.
type TelegramChannel struct {
	*BaseChannel
	bot     *telego.Bot
	handler Handler
	sink    events.Sink
	cancel  context.CancelFunc
}

func NewTelegramChannel(token string, handler Handler, sink events.Sink) (*TelegramChannel, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram"),
		bot:         bot,
		handler:     handler,
		sink:        sink,
	}, nil
}

// Start begins long polling and blocks until ctx is canceled or Stop is
// called. Updates are processed sequentially so relative inbound order is
// preserved.
func (c *TelegramChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	updates, err := c.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	c.SetRunning(true)
	defer c.SetRunning(false)
	logger.InfoC("telegram", "Telegram channel started")

	for update := range updates {
		if update.Message == nil {
			continue
		}
		c.handleMessage(ctx, update.Message)
	}
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}

	if isStartCommand(msg.Text) {
		params := &telego.SendMessageParams{ChatID: tu.ID(msg.Chat.ID), Text: "Bridge bot is running."}
		if msg.MessageThreadID != 0 {
			params.MessageThreadID = msg.MessageThreadID
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			logger.WarnCF("telegram", "Failed to answer /start", map[string]any{"error": err.Error()})
		}
		return
	}

	content := strings.TrimSpace(firstNonEmpty(msg.Text, msg.Caption))
	media := telegramMedia(msg)
	if content == "" && len(media) == 0 {
		return
	}

	incoming := bridge.IncomingMessage{
		Platform:   bridge.PlatformTelegram,
		ChatID:     msg.Chat.ID,
		ThreadID:   int64(msg.MessageThreadID),
		AuthorName: telegramFullName(msg.From),
		AuthorID:   strconv.FormatInt(msg.From.ID, 10),
		IsBot:      msg.From.IsBot,
		Content:    content,
		MessageID:  strconv.Itoa(msg.MessageID),
		Media:      media,
	}

	if rm := msg.ReplyToMessage; rm != nil {
		incoming.ReplyToMessageID = strconv.Itoa(rm.MessageID)
		if rm.From != nil {
			incoming.ReplyToAuthor = telegramFullName(rm.From)
		}
		incoming.ReplyToText = firstNonEmpty(rm.Text, rm.Caption)
	}

	c.handler.HandleTelegramMessage(ctx, incoming)
}

func isStartCommand(text string) bool {
	if !strings.HasPrefix(text, "/start") {
		return false
	}
	command := strings.Fields(text)[0]
	command, _, _ = strings.Cut(command, "@")
	return command == "/start"
}

func telegramFullName(user *telego.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = strconv.FormatInt(user.ID, 10)
	}
	return name
}

func telegramMedia(msg *telego.Message) []bridge.MediaItem {
	var items []bridge.MediaItem

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaPhoto,
			FileID:       largest.FileID,
			FileUniqueID: largest.FileUniqueID,
			Filename:     fmt.Sprintf("photo_%s.jpg", largest.FileUniqueID),
			FileSize:     int64(largest.FileSize),
		})
	}
	switch {
	case msg.Animation != nil:
		// Animations also carry a backward-compatible document field;
		// the animation wins.
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaAnimation,
			FileID:       msg.Animation.FileID,
			FileUniqueID: msg.Animation.FileUniqueID,
			MimeType:     msg.Animation.MimeType,
			Filename:     firstNonEmpty(msg.Animation.FileName, fmt.Sprintf("animation_%s.mp4", msg.Animation.FileUniqueID)),
			Duration:     msg.Animation.Duration,
			FileSize:     int64(msg.Animation.FileSize),
		})
	case msg.Document != nil:
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaDocument,
			FileID:       msg.Document.FileID,
			FileUniqueID: msg.Document.FileUniqueID,
			MimeType:     msg.Document.MimeType,
			Filename:     firstNonEmpty(msg.Document.FileName, fmt.Sprintf("document_%s.bin", msg.Document.FileUniqueID)),
			FileSize:     int64(msg.Document.FileSize),
		})
	}
	if msg.Video != nil {
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaVideo,
			FileID:       msg.Video.FileID,
			FileUniqueID: msg.Video.FileUniqueID,
			MimeType:     msg.Video.MimeType,
			Filename:     firstNonEmpty(msg.Video.FileName, fmt.Sprintf("video_%s.mp4", msg.Video.FileUniqueID)),
			Duration:     msg.Video.Duration,
			FileSize:     int64(msg.Video.FileSize),
		})
	}
	if msg.Audio != nil {
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaAudio,
			FileID:       msg.Audio.FileID,
			FileUniqueID: msg.Audio.FileUniqueID,
			MimeType:     msg.Audio.MimeType,
			Filename:     firstNonEmpty(msg.Audio.FileName, fmt.Sprintf("audio_%s.mp3", msg.Audio.FileUniqueID)),
			Duration:     msg.Audio.Duration,
			FileSize:     int64(msg.Audio.FileSize),
		})
	}
	if msg.Voice != nil {
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaVoice,
			FileID:       msg.Voice.FileID,
			FileUniqueID: msg.Voice.FileUniqueID,
			MimeType:     msg.Voice.MimeType,
			Filename:     fmt.Sprintf("voice_%s.ogg", msg.Voice.FileUniqueID),
			Duration:     msg.Voice.Duration,
			FileSize:     int64(msg.Voice.FileSize),
		})
	}
	if msg.VideoNote != nil {
		items = append(items, bridge.MediaItem{
			Kind:         bridge.MediaVideoNote,
			FileID:       msg.VideoNote.FileID,
			FileUniqueID: msg.VideoNote.FileUniqueID,
			Filename:     fmt.Sprintf("video_note_%s.mp4", msg.VideoNote.FileUniqueID),
			Duration:     msg.VideoNote.Duration,
			FileSize:     int64(msg.VideoNote.FileSize),
		})
	}
	if msg.Sticker != nil {
		items = append(items, bridge.MediaItem{
			Kind:           bridge.MediaSticker,
			FileID:         msg.Sticker.FileID,
			FileUniqueID:   msg.Sticker.FileUniqueID,
			Filename:       fmt.Sprintf("sticker_%s.webp", msg.Sticker.FileUniqueID),
			FileSize:       int64(msg.Sticker.FileSize),
			Emoji:          msg.Sticker.Emoji,
			StickerSetName: msg.Sticker.SetName,
			Animated:       msg.Sticker.IsAnimated,
			VideoSticker:   msg.Sticker.IsVideo,
		})
	}

	return items
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SendText relays a text payload into a Telegram chat.
func (c *TelegramChannel) SendText(ctx context.Context, chatID int64, text string, opts bridge.SendOptions) (string, error) {
	params := &telego.SendMessageParams{
		ChatID:          tu.ID(chatID),
		Text:            text,
		MessageThreadID: int(opts.ThreadID),
		ReplyParameters: telegramReplyParams(opts.ReplyToMessageID),
	}
	sent, err := retry.Do(ctx, "telegram.send_message", func() (*telego.Message, error) {
		return c.bot.SendMessage(ctx, params)
	}, classifyTelegramError, retry.WithSink(c.sink))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendMedia relays a media payload into a Telegram chat. The upload reader
// is rebuilt per attempt so retries resend the full body.
func (c *TelegramChannel) SendMedia(ctx context.Context, kind bridge.MediaKind, chatID int64, data []byte, opts bridge.MediaOptions) (string, error) {
	chat := tu.ID(chatID)
	threadID := int(opts.ThreadID)
	reply := telegramReplyParams(opts.ReplyToMessageID)
	filename := telegramUploadName(kind, opts.Filename)

	sent, err := retry.Do(ctx, "telegram.send_"+string(kind), func() (*telego.Message, error) {
		file := tu.File(tu.NameReader(bytes.NewReader(data), filename))
		switch kind {
		case bridge.MediaPhoto:
			return c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
				ChatID: chat, Photo: file, Caption: opts.Caption,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		case bridge.MediaVideo:
			return c.bot.SendVideo(ctx, &telego.SendVideoParams{
				ChatID: chat, Video: file, Caption: opts.Caption, Duration: opts.Duration,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		case bridge.MediaAnimation:
			return c.bot.SendAnimation(ctx, &telego.SendAnimationParams{
				ChatID: chat, Animation: file, Caption: opts.Caption, Duration: opts.Duration,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		case bridge.MediaAudio:
			return c.bot.SendAudio(ctx, &telego.SendAudioParams{
				ChatID: chat, Audio: file, Caption: opts.Caption, Duration: opts.Duration,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		case bridge.MediaVoice:
			return c.bot.SendVoice(ctx, &telego.SendVoiceParams{
				ChatID: chat, Voice: file, Caption: opts.Caption, Duration: opts.Duration,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		case bridge.MediaVideoNote:
			return c.bot.SendVideoNote(ctx, &telego.SendVideoNoteParams{
				ChatID: chat, VideoNote: file, Duration: opts.Duration,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		case bridge.MediaSticker:
			return c.bot.SendSticker(ctx, &telego.SendStickerParams{
				ChatID: chat, Sticker: file,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		default:
			return c.bot.SendDocument(ctx, &telego.SendDocumentParams{
				ChatID: chat, Document: file, Caption: opts.Caption,
				MessageThreadID: threadID, ReplyParameters: reply,
			})
		}
	}, classifyTelegramError, retry.WithSink(c.sink))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// DownloadByID fetches file content through the bot file API.
func (c *TelegramChannel) DownloadByID(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolve telegram file %q: %w", fileID, err)
	}
	data, err := tu.DownloadFile(c.bot.FileDownloadURL(file.FilePath))
	if err != nil {
		return nil, fmt.Errorf("download telegram file %q: %w", fileID, err)
	}
	return data, nil
}

func (c *TelegramChannel) DownloadByURL(ctx context.Context, url string) ([]byte, error) {
	data, err := tu.DownloadFile(url)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", url, err)
	}
	return data, nil
}

func telegramReplyParams(messageID string) *telego.ReplyParameters {
	if messageID == "" {
		return nil
	}
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return nil
	}
	return &telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}
}

func telegramUploadName(kind bridge.MediaKind, filename string) string {
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

// classifyTelegramError treats rate limits, server errors and transport
// failures as retryable. Every other API error is permanent.
func classifyTelegramError(err error) (bool, int) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode == http.StatusTooManyRequests || apiErr.ErrorCode >= 500 {
			return true, apiErr.ErrorCode
		}
		return false, apiErr.ErrorCode
	}
	return true, http.StatusServiceUnavailable
}
