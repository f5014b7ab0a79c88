package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// maxMessageLen is Discord's limit for message content.
const maxMessageLen = 2000

// Session is the part of the Discord API the command layer talks to.
// The bot adapts *discordgo.Session to it; tests use mock.Session.
type Session interface {
	// ChannelMessageSendReply posts content as a reply to reference.
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)

	// ChannelTyping shows the typing indicator in channelID.
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// UserVoiceChannel returns the voice channel userID sits in within
	// guildID, or "" if none.
	UserVoiceChannel(guildID, userID string) string

	// ChannelName returns the display name of channelID, falling back to the
	// ID when unknown.
	ChannelName(channelID string) string
}

// Reply sends content as a reply to m. Content longer than Discord allows is
// truncated. Failures are logged, not returned.
func Reply(s Session, m *discordgo.Message, content string) {
	if r := []rune(content); len(r) > maxMessageLen {
		content = string(r[:maxMessageLen-1]) + "…"
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		slog.Warn("discord: failed to send reply", "channel", m.ChannelID, "err", err)
	}
}

// Typing shows the typing indicator in the channel of m.
func Typing(s Session, m *discordgo.Message) {
	if err := s.ChannelTyping(m.ChannelID); err != nil {
		slog.Debug("discord: failed to send typing indicator", "channel", m.ChannelID, "err", err)
	}
}
