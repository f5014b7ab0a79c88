// Package discord provides the Discord bot layer for mimic. It owns the
// discordgo.Session lifecycle, routes prefix commands from chat messages to
// registered handlers, and checks admin permissions.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mimic/pkg/audio"
	discordaudio "github.com/MrWong99/mimic/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild the bot serves.
	GuildID string
}

// Bot owns the Discord gateway connection and feeds chat messages to a
// [Router].
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *Router
	ready     atomic.Bool
	closeOnce sync.Once
}

// New creates a Bot and registers its event handlers. The gateway is not
// opened until [Bot.Open].
func New(cfg Config, router *Router) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   router,
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onDisconnect)
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.router.Handle(gateway{s}, m)
	})

	return b, nil
}

// Open connects to the gateway. Messages are routed as soon as it returns.
func (b *Bot) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.ready.Store(true)
	slog.Info("discord: logged in", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
	status := b.router.Prefix() + "tts <text>"
	if err := s.UpdateListeningStatus(status); err != nil {
		slog.Warn("discord: failed to set status", "err", err)
	}
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.ready.Store(false)
	slog.Warn("discord: gateway disconnected")
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Ready reports whether the gateway is connected and the Ready event was
// received.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// Close disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.ready.Store(false)
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// gateway adapts *discordgo.Session to [Session] using the state cache.
type gateway struct {
	*discordgo.Session
}

func (g gateway) UserVoiceChannel(guildID, userID string) string {
	vs, err := g.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (g gateway) ChannelName(channelID string) string {
	ch, err := g.State.Channel(channelID)
	if err != nil || ch == nil || ch.Name == "" {
		return channelID
	}
	return ch.Name
}

var _ Session = gateway{}
