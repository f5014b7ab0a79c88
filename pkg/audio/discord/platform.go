// Package discord plays PCM into Discord voice channels. Audio from the
// transcoders (48 kHz stereo, 16-bit) is cut into 20 ms frames, Opus encoded
// and handed to discordgo's voice sender. The bot joins self-deafened and
// never receives audio.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mimic/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// joinFunc matches (*discordgo.Session).ChannelVoiceJoin.
type joinFunc func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)

// ErrNoGuild is returned by Connect without a guild ID. Discord never answers
// a voice join that names no guild.
var ErrNoGuild = errors.New("discord: voice join needs a guild ID")

// Platform opens voice connections through one gateway session. It is safe
// for concurrent use.
type Platform struct {
	join joinFunc
}

// New returns a Platform that joins voice channels through session.
func New(session *discordgo.Session) *Platform {
	return &Platform{join: session.ChannelVoiceJoin}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins channelID of guildID. The voice handshake runs in the background; if
// ctx ends first Connect returns ctx's error and a connection that arrives
// late is disconnected.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if guildID == "" {
		return nil, ErrNoGuild
	}

	res := make(chan joinResult, 1)
	go func() {
		vc, err := p.join(guildID, channelID, false, true)
		res <- joinResult{vc, err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		return newConnection(r.vc, channelID), nil
	case <-ctx.Done():
		go func() {
			if r := <-res; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, context.Cause(ctx))
	}
}
