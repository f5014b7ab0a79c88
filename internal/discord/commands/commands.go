// Package commands implements the chat commands of mimic: speaking text in a
// cloned voice, joining and leaving voice channels, and managing voice
// profiles.
package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/MrWong99/mimic/internal/discord"
	"github.com/MrWong99/mimic/internal/playback"
	"github.com/MrWong99/mimic/internal/voice"
)

// typingInterval refreshes the typing indicator before Discord drops it.
const typingInterval = 8 * time.Second

// Speaker turns text into audio files. *speech.Generator implements it.
type Speaker interface {
	Synthesize(ctx context.Context, text, voiceName string) (string, error)
	ClearPrompts(names ...string)
}

// Player is the bot's voice channel presence. *playback.Session implements
// it.
type Player interface {
	Join(ctx context.Context, guildID, channelID string) (playback.Transition, error)
	Leave(ctx context.Context) error
	Play(ctx context.Context, path string, cleanup bool) error
	Stop() bool
	ChannelID() string
}

// Profiles lists and creates voice profiles. *voice.Store implements it.
type Profiles interface {
	List() ([]voice.Profile, error)
	Create(name string, audio []byte) (voice.Profile, bool, error)
	Default() string
	Suggest(name string, n int) []string
}

// Normalizer converts an uploaded sample into a mono reference WAV.
// transcode.Transcoder implements it.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte) ([]byte, error)
}

// Config holds the dependencies of the command handlers.
type Config struct {
	Speaker    Speaker
	Player     Player
	Profiles   Profiles
	Normalizer Normalizer

	// HTTPClient downloads attachments. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// MaxAttachmentSize defaults to [DefaultMaxAttachmentSize].
	MaxAttachmentSize int64
}

// Commands holds the handler set. Create it with [New] and attach it to a
// router with [Commands.Register].
type Commands struct {
	cfg    Config
	router *discord.Router
}

// New creates the command handlers.
func New(cfg Config) *Commands {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = DefaultMaxAttachmentSize
	}
	return &Commands{cfg: cfg}
}

// Register adds every command to router.
func (c *Commands) Register(router *discord.Router) {
	c.router = router
	router.Register(discord.Command{
		Name:          "tts",
		Usage:         "[voice:<name>] <text>",
		Description:   "Speak text in your voice channel",
		ArgName:       "text",
		RequiresVoice: true,
		Handler:       c.handleTTS,
	})
	router.Register(discord.Command{
		Name:          "join",
		Description:   "Join your voice channel",
		RequiresVoice: true,
		Handler:       c.handleJoin,
	})
	router.Register(discord.Command{
		Name:        "leave",
		Description: "Leave the voice channel",
		Handler:     c.handleLeave,
	})
	router.Register(discord.Command{
		Name:        "stop",
		Description: "Stop the current playback",
		Handler:     c.handleStop,
	})
	router.Register(discord.Command{
		Name:        "voices",
		Description: "List available voice profiles",
		Handler:     c.handleVoices,
	})
	router.Register(discord.Command{
		Name:        "clone",
		Usage:       "<name>",
		Description: "Create a voice profile from the attached audio (admin)",
		ArgName:     "name",
		AdminOnly:   true,
		Handler:     c.handleClone,
	})
	router.Register(discord.Command{
		Name:        "help",
		Description: "Show this help",
		Handler:     c.handleHelp,
	})
}

// keepTyping shows the typing indicator until the returned func is called.
func keepTyping(req *discord.Request) (stop func()) {
	req.Typing()
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(typingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				req.Typing()
			}
		}
	}()
	return func() { close(done) }
}
