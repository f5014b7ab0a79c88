package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/mimic/internal/discord"
	"github.com/MrWong99/mimic/internal/observe"
	"github.com/MrWong99/mimic/internal/playback"
	"github.com/MrWong99/mimic/internal/speech"
	"github.com/MrWong99/mimic/internal/voice"
)

// voicePrefix selects a profile for a single tts invocation.
const voicePrefix = "voice:"

// PlaybackRequest is one tts invocation: what to say, in which voice and
// where. It lives until the generated clip has been played and deleted.
type PlaybackRequest struct {
	// ID is the router's request ID, also present on every log line.
	ID   string
	Text string
	// Voice is the profile name; empty selects the default profile.
	Voice       string
	GuildID     string
	ChannelID   string
	RequestedBy string
}

// newPlaybackRequest reads a tts request. args may start with a
// "voice:<name>" token.
func newPlaybackRequest(req *discord.Request) PlaybackRequest {
	pr := PlaybackRequest{
		ID:        req.ID,
		Text:      req.Args,
		GuildID:   req.GuildID,
		ChannelID: req.VoiceChannelID,
	}
	if req.Message != nil && req.Message.Author != nil {
		pr.RequestedBy = req.Message.Author.ID
	}
	if strings.HasPrefix(pr.Text, voicePrefix) {
		first, rest, _ := strings.Cut(pr.Text, " ")
		pr.Voice = strings.TrimPrefix(first, voicePrefix)
		pr.Text = strings.TrimSpace(rest)
	}
	return pr
}

func (c *Commands) handleTTS(req *discord.Request) error {
	pr := newPlaybackRequest(req)
	if pr.Text == "" {
		return discord.UserErrorf("❌ Missing required argument: `text`")
	}

	if _, err := c.cfg.Player.Join(req.Ctx, pr.GuildID, pr.ChannelID); err != nil {
		return discord.WrapUserError(err, "❌ Could not connect to your voice channel.")
	}

	ctx := req.Ctx
	if pr.Voice != "" {
		ctx = observe.WithLogAttrs(ctx, "voice", pr.Voice)
	}
	stopTyping := keepTyping(req)
	path, err := c.cfg.Speaker.Synthesize(ctx, pr.Text, pr.Voice)
	stopTyping()
	if err != nil {
		return c.synthesisError(err, pr.Voice)
	}
	req.Reply("🔊 Generated! Playing now...")

	err = c.cfg.Player.Play(ctx, path, true)
	switch {
	case err == nil, errors.Is(err, playback.ErrStopped):
		return nil
	case errors.Is(err, playback.ErrNotConnected):
		return discord.WrapUserError(err, "❌ I left the voice channel before the audio could play.")
	default:
		return discord.WrapUserError(err, "❌ Audio playback failed.")
	}
}

func (c *Commands) synthesisError(err error, voiceName string) error {
	switch {
	case errors.Is(err, voice.ErrNotFound):
		if voiceName == "" {
			voiceName = c.cfg.Profiles.Default()
		}
		msg := fmt.Sprintf("❌ Voice profile **%s** was not found.", voiceName)
		if sugg := c.cfg.Profiles.Suggest(voiceName, 3); len(sugg) > 0 {
			msg += " Did you mean " + quoteList(sugg) + "?"
		}
		return discord.WrapUserError(err, msg)
	case errors.Is(err, speech.ErrNotLoaded):
		return discord.WrapUserError(err, "❌ The speech model is not loaded yet. Please try again in a moment.")
	case errors.Is(err, speech.ErrNoVoice):
		return discord.WrapUserError(err, "❌ No voice selected and no default voice is configured.")
	default:
		return fmt.Errorf("tts: %w", err)
	}
}

func (c *Commands) handleStop(req *discord.Request) error {
	if !c.cfg.Player.Stop() {
		return discord.UserErrorf("❌ Nothing is playing.")
	}
	req.Reply("⏹️ Playback stopped.")
	return nil
}

func quoteList(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = "**" + n + "**"
	}
	return strings.Join(q, ", ")
}
