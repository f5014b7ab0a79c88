package commands

import (
	"errors"

	"github.com/MrWong99/mimic/internal/discord"
	"github.com/MrWong99/mimic/internal/playback"
)

func (c *Commands) handleJoin(req *discord.Request) error {
	tr, err := c.cfg.Player.Join(req.Ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		return discord.WrapUserError(err, "❌ Could not join your voice channel.")
	}
	name := req.Session.ChannelName(req.VoiceChannelID)
	switch tr {
	case playback.AlreadyConnected:
		req.Replyf("✅ Already in **%s**.", name)
	case playback.Moved:
		req.Replyf("✅ Moved to **%s**!", name)
	default:
		req.Replyf("✅ Joined **%s**!", name)
	}
	return nil
}

func (c *Commands) handleLeave(req *discord.Request) error {
	channelID := c.cfg.Player.ChannelID()
	if err := c.cfg.Player.Leave(req.Ctx); err != nil {
		if errors.Is(err, playback.ErrNotConnected) {
			return discord.UserErrorf("❌ I'm not connected to a voice channel.")
		}
		return discord.WrapUserError(err, "❌ Could not leave the voice channel.")
	}
	req.Replyf("✅ Left **%s**.", req.Session.ChannelName(channelID))
	return nil
}
