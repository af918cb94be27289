package channels

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
)

func TestKindFromContentType(t *testing.T) {
	assert.Equal(t, bridge.MediaAnimation, kindFromContentType("image/gif"))
	assert.Equal(t, bridge.MediaPhoto, kindFromContentType("image/png"))
	assert.Equal(t, bridge.MediaPhoto, kindFromContentType("IMAGE/JPEG"))
	assert.Equal(t, bridge.MediaVideo, kindFromContentType("video/mp4"))
	assert.Equal(t, bridge.MediaAudio, kindFromContentType("audio/mpeg"))
	assert.Equal(t, bridge.MediaDocument, kindFromContentType("application/pdf"))
	assert.Equal(t, bridge.MediaDocument, kindFromContentType(""))
}

func TestDiscordDisplayName(t *testing.T) {
	user := &discordgo.User{Username: "handle", GlobalName: "Display"}
	assert.Equal(t, "Nick", discordDisplayName(user, &discordgo.Member{Nick: "Nick"}))
	assert.Equal(t, "Display", discordDisplayName(user, &discordgo.Member{}))
	assert.Equal(t, "Display", discordDisplayName(user, nil))
	assert.Equal(t, "handle", discordDisplayName(&discordgo.User{Username: "handle"}, nil))
}

func TestDiscordMedia_AttachmentsAndStickers(t *testing.T) {
	c := &DiscordChannel{}
	msg := &discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn/a.png", ContentType: "image/png", Filename: "a.png", Size: 12},
			{URL: "https://cdn/b.gif", ContentType: "image/gif", Filename: "b.gif", Size: 34},
		},
		StickerItems: []*discordgo.StickerItem{{ID: "9001", Name: "wave"}},
	}

	items := c.discordMedia(msg)
	require.Len(t, items, 3)

	assert.Equal(t, bridge.MediaPhoto, items[0].Kind)
	assert.Equal(t, "https://cdn/a.png", items[0].URL)
	assert.Equal(t, int64(12), items[0].FileSize)

	assert.Equal(t, bridge.MediaAnimation, items[1].Kind)

	assert.Equal(t, bridge.MediaSticker, items[2].Kind)
	assert.Equal(t, "https://media.discordapp.net/stickers/9001.png", items[2].URL)
	assert.Equal(t, "sticker_9001.png", items[2].Filename)
}

func TestDiscordReference(t *testing.T) {
	assert.Nil(t, discordReference("555", ""))

	ref := discordReference("555", "777")
	require.NotNil(t, ref)
	assert.Equal(t, "777", ref.MessageID)
	assert.Equal(t, "555", ref.ChannelID)
	require.NotNil(t, ref.FailIfNotExists)
	assert.False(t, *ref.FailIfNotExists)
}

func TestDiscordTargetChannel(t *testing.T) {
	c := &DiscordChannel{}
	assert.Equal(t, "555", c.targetChannel(555, 0))
	assert.Equal(t, "888", c.targetChannel(555, 888), "thread sends go to the thread channel")
}

func TestDiscordUploadName(t *testing.T) {
	assert.Equal(t, "clip.mov", discordUploadName(bridge.MediaVideo, "clip.mov"))
	assert.Equal(t, "video.mp4", discordUploadName(bridge.MediaAnimation, ""))
	assert.Equal(t, "sticker.webp", discordUploadName(bridge.MediaSticker, ""))
}
