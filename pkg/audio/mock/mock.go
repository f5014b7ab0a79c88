// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	platform := &mock.Platform{}
//	conn, err := platform.Connect(ctx, "guild-1", "channel-42")
//	// ... later
//	calls := platform.Connections()[0].PlayCalls()
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/mimic/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported fields before use; inspect the recorded calls after.
type Connection struct {
	// PlayDelay is slept (or until ctx is done) after the PCM has been read.
	PlayDelay time.Duration

	// PlayGate, when non-nil, blocks Play until it is closed or ctx is done.
	PlayGate chan struct{}

	// PlayError is returned by Play after the PCM has been consumed.
	PlayError error

	// MoveError is returned by Move.
	MoveError error

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	mu                  sync.Mutex
	channelID           string
	plays               [][]byte
	moves               []string
	active              int
	maxActive           int
	callCountDisconnect int
	started             chan struct{}
}

// NewConnection returns a Connection sitting in channelID.
func NewConnection(channelID string) *Connection {
	return &Connection{channelID: channelID}
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Move implements [audio.Connection]. The channel only changes when
// MoveError is nil.
func (c *Connection) Move(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, channelID)
	if c.MoveError != nil {
		return c.MoveError
	}
	c.channelID = channelID
	return nil
}

// Play implements [audio.Connection]. It reads pcm to EOF, records the bytes,
// then honours PlayGate and PlayDelay before returning PlayError.
func (c *Connection) Play(ctx context.Context, pcm io.Reader) error {
	c.mu.Lock()
	c.active++
	c.maxActive = max(c.maxActive, c.active)
	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()

	data, err := io.ReadAll(pcm)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.plays = append(c.plays, data)
	c.mu.Unlock()

	if c.PlayGate != nil {
		select {
		case <-c.PlayGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.PlayDelay > 0 {
		select {
		case <-time.After(c.PlayDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.PlayError
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callCountDisconnect++
	return c.DisconnectError
}

// Started returns a channel that receives a value each time Play begins.
// It must be called before the Play calls it should observe.
func (c *Connection) Started() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started == nil {
		c.started = make(chan struct{}, 16)
	}
	return c.started
}

// PlayCalls returns a copy of the PCM payloads received by Play, in order.
func (c *Connection) PlayCalls() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.plays))
	copy(out, c.plays)
	return out
}

// MoveCalls returns the channel IDs passed to Move, in order.
func (c *Connection) MoveCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.moves))
	copy(out, c.moves)
	return out
}

// MaxConcurrentPlays returns the highest number of simultaneously running
// Play calls observed.
func (c *Connection) MaxConcurrentPlays() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

// CallCountDisconnect returns how many times Disconnect was called.
func (c *Connection) CallCountDisconnect() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	// ConnectResult, when set, is returned by every Connect call. Otherwise a
	// fresh [Connection] is created per call.
	ConnectResult *Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	mu       sync.Mutex
	guilds   []string
	channels []string
	conns    []*Connection
}

// Connect implements [audio.Platform]. Records the call and returns a
// connection or ConnectError.
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guilds = append(p.guilds, guildID)
	p.channels = append(p.channels, channelID)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	conn := p.ConnectResult
	if conn == nil {
		conn = NewConnection(channelID)
	} else {
		conn.mu.Lock()
		conn.channelID = channelID
		conn.mu.Unlock()
	}
	p.conns = append(p.conns, conn)
	return conn, nil
}

// ConnectCalls returns the channel IDs passed to Connect, in order.
func (p *Platform) ConnectCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.channels))
	copy(out, p.channels)
	return out
}

// ConnectGuilds returns the guild IDs passed to Connect, in order.
func (p *Platform) ConnectGuilds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.guilds))
	copy(out, p.guilds)
	return out
}

// Connections returns every connection handed out by Connect, in order.
func (p *Platform) Connections() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Connection, len(p.conns))
	copy(out, p.conns)
	return out
}

// Compile-time interface assertions.
var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)
