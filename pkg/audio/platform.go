// Package audio defines the interfaces and helpers for voice-channel playback
// within mimic.
//
// The two primary abstractions are:
//
//   - [Platform] connects to a voice channel and returns a [Connection].
//   - [Connection] is an active session on that channel that can be moved to
//     another channel and can play a PCM stream.
//
// All PCM handled by this package is signed 16-bit little-endian, interleaved.
// [Connection.Play] expects [PlaybackFormat] (48 kHz stereo, the Discord voice
// format); the transcode sub-package produces it from files on disk.
package audio

import (
	"context"
	"io"
)

// PlaybackFormat is the PCM layout accepted by [Connection.Play].
var PlaybackFormat = Format{SampleRate: 48000, Channels: 2}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called.
//
// Implementations must be safe for concurrent use, but only one Play call may
// be active at a time; callers serialise playback themselves.
type Connection interface {
	// ChannelID returns the voice channel the connection currently sits in.
	ChannelID() string

	// Move switches the connection to another voice channel of the same guild
	// without tearing it down.
	Move(ctx context.Context, channelID string) error

	// Play streams pcm ([PlaybackFormat]) into the channel and blocks until
	// the reader is exhausted, ctx is cancelled or the connection is closed.
	// It returns nil when the whole stream was sent.
	Play(ctx context.Context, pcm io.Reader) error

	// Disconnect leaves the voice channel. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins voice channel channelID of guild guildID and returns an
	// active [Connection]. ctx governs the connection attempt only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
