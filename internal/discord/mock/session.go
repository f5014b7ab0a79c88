// Package mock provides a test double for the discord.Session interface.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Reply records one ChannelMessageSendReply call.
type Reply struct {
	ChannelID string
	Content   string
	Reference *discordgo.MessageReference
}

// Session records replies and typing indicators and answers voice channel
// lookups from VoiceChannels.
type Session struct {
	mu sync.Mutex

	// VoiceChannels maps user IDs to the voice channel they sit in.
	VoiceChannels map[string]string

	// ChannelNames maps channel IDs to display names.
	ChannelNames map[string]string

	// Err is returned by ChannelMessageSendReply and ChannelTyping when
	// non-nil.
	Err error

	replies []Reply
	typing  []string
}

// ChannelMessageSendReply records the reply and returns a stub message.
func (m *Session) ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, Reply{ChannelID: channelID, Content: content, Reference: reference})
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-reply", ChannelID: channelID, Content: content}, nil
}

// ChannelTyping records the channel.
func (m *Session) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return m.Err
}

// UserVoiceChannel looks userID up in VoiceChannels.
func (m *Session) UserVoiceChannel(_, userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.VoiceChannels[userID]
}

// ChannelName looks channelID up in ChannelNames.
func (m *Session) ChannelName(channelID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.ChannelNames[channelID]; ok {
		return n
	}
	return channelID
}

// Replies returns a copy of the recorded replies.
func (m *Session) Replies() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reply, len(m.replies))
	copy(out, m.replies)
	return out
}

// LastReply returns the content of the most recent reply, or "".
func (m *Session) LastReply() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return ""
	}
	return m.replies[len(m.replies)-1].Content
}

// TypingCount returns how many typing indicators were sent.
func (m *Session) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.typing)
}

// Reset clears all recorded calls.
func (m *Session) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = nil
	m.typing = nil
}
