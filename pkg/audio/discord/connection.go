package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mimic/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// ErrClosed is returned by Play and Move after Disconnect.
var ErrClosed = errors.New("discord: connection closed")

// opusFrameBytes is the exact PCM input size for one Opus frame:
// 960 samples/channel × 2 channels × 2 bytes/sample = 3840 bytes.
const opusFrameBytes = opusFrameSize * opusChannels * 2

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface.
//
// Connection is safe for concurrent use; Play calls must not overlap.
type Connection struct {
	send chan<- []byte

	mu        sync.Mutex
	channelID string

	done      chan struct{}
	closeOnce sync.Once

	// The hooks below default to the wrapped voice connection's methods and
	// are overridden in tests.
	speaking      func(bool) error
	changeChannel func(channelID string) error
	disconnectVC  func() error
}

// newConnection wraps an already-joined voice connection.
func newConnection(vc *discordgo.VoiceConnection, channelID string) *Connection {
	return &Connection{
		send:      vc.OpusSend,
		channelID: channelID,
		done:      make(chan struct{}),
		speaking:  vc.Speaking,
		changeChannel: func(id string) error {
			return vc.ChangeChannel(id, false, true)
		},
		disconnectVC: vc.Disconnect,
	}
}

// ChannelID returns the voice channel the connection currently sits in.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Move switches to another voice channel of the same guild.
func (c *Connection) Move(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.changeChannel(channelID); err != nil {
		return fmt.Errorf("discord: move to voice channel %q: %w", channelID, err)
	}
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	return nil
}

// Play reads 48 kHz stereo PCM from pcm, encodes it into 20 ms Opus frames
// and hands them to discordgo, which paces the UDP sends. A short final frame
// is padded with silence. The speaking flag is raised for the duration.
func (c *Connection) Play(ctx context.Context, pcm io.Reader) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	enc, err := newFrameEncoder()
	if err != nil {
		return err
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	frame := make([]byte, opusFrameBytes)
	for {
		n, readErr := io.ReadFull(pcm, frame)
		if n == 0 {
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				return fmt.Errorf("discord: read pcm: %w", readErr)
			}
		}
		if n < len(frame) {
			clear(frame[n:])
		}

		packet, encErr := enc.encode(frame)
		if encErr != nil {
			slog.Warn("discord: opus encode error", "error", encErr)
		} else {
			select {
			case c.send <- packet:
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return ErrClosed
			}
		}

		switch {
		case readErr == nil:
		case errors.Is(readErr, io.ErrUnexpectedEOF), errors.Is(readErr, io.EOF):
			return nil
		default:
			return fmt.Errorf("discord: read pcm: %w", readErr)
		}
	}
}

// Disconnect leaves the voice channel and unblocks any running Play. It is
// safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if c.speaking == nil {
		return
	}
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
