package discord

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

type fakeVC struct {
	mu       sync.Mutex
	speaking []bool
	moves    []string
}

// newTestConnection creates a Connection suitable for unit testing without
// a real Discord voice connection.
func newTestConnection(t *testing.T, buf int) (*Connection, chan []byte, *fakeVC) {
	t.Helper()
	send := make(chan []byte, buf)
	fake := &fakeVC{}
	c := &Connection{
		send:      send,
		channelID: "chan-1",
		done:      make(chan struct{}),
		speaking: func(b bool) error {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			fake.speaking = append(fake.speaking, b)
			return nil
		},
		changeChannel: func(id string) error {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			fake.moves = append(fake.moves, id)
			return nil
		},
		disconnectVC: func() error { return nil },
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, send, fake
}

// ─── Platform tests ──────────────────────────────────────────────────────────

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	if p := New(&discordgo.Session{}); p.join == nil {
		t.Error("join not wired to the session")
	}
}

func TestPlatform_ConnectCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(&discordgo.Session{}).Connect(ctx, "g", "c"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect: got %v, want context.Canceled", err)
	}
}

func TestPlatform_ConnectJoinArguments(t *testing.T) {
	t.Parallel()

	var gotGuild, gotChannel string
	var gotMute, gotDeaf bool
	p := &Platform{join: func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error) {
		gotGuild, gotChannel, gotMute, gotDeaf = guildID, channelID, mute, deaf
		return &discordgo.VoiceConnection{}, nil
	}}

	conn, err := p.Connect(context.Background(), "g1", "c1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := conn.ChannelID(); got != "c1" {
		t.Errorf("ChannelID = %q, want c1", got)
	}
	if gotGuild != "g1" || gotChannel != "c1" || gotMute || !gotDeaf {
		t.Errorf("join(%q, %q, mute=%v, deaf=%v)", gotGuild, gotChannel, gotMute, gotDeaf)
	}
}

func TestPlatform_ConnectRequiresGuild(t *testing.T) {
	t.Parallel()

	called := false
	p := &Platform{join: func(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
		called = true
		return nil, errors.New("unreachable")
	}}
	if _, err := p.Connect(context.Background(), "", "c"); !errors.Is(err, ErrNoGuild) {
		t.Fatalf("Connect: got %v, want ErrNoGuild", err)
	}
	if called {
		t.Error("voice join sent without a guild")
	}
}

func TestPlatform_ConnectJoinError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := &Platform{join: func(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
		return nil, boom
	}}
	if _, err := p.Connect(context.Background(), "g", "c"); !errors.Is(err, boom) {
		t.Fatalf("Connect: got %v, want boom", err)
	}
}

func TestPlatform_ConnectTimesOutDuringHandshake(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := &Platform{join: func(string, string, bool, bool) (*discordgo.VoiceConnection, error) {
		<-release
		return nil, errors.New("handshake aborted")
	}}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Connect(ctx, "g", "c"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect: got %v, want context.DeadlineExceeded", err)
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_PlayEncodesFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pcmBytes   int
		wantFrames int
	}{
		{name: "empty", pcmBytes: 0, wantFrames: 0},
		{name: "one full frame", pcmBytes: opusFrameBytes, wantFrames: 1},
		{name: "partial tail padded", pcmBytes: opusFrameBytes*2 + 100, wantFrames: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, send, fake := newTestConnection(t, 16)
			if err := c.Play(context.Background(), bytes.NewReader(make([]byte, tt.pcmBytes))); err != nil {
				t.Fatalf("Play: %v", err)
			}
			if got := len(send); got != tt.wantFrames {
				t.Errorf("frames sent = %d, want %d", got, tt.wantFrames)
			}
			for range len(send) {
				if pkt := <-send; len(pkt) == 0 {
					t.Error("received empty Opus packet")
				}
			}

			fake.mu.Lock()
			defer fake.mu.Unlock()
			if len(fake.speaking) != 2 || !fake.speaking[0] || fake.speaking[1] {
				t.Errorf("speaking calls = %v, want [true false]", fake.speaking)
			}
		})
	}
}

func TestConnection_PlayCancelled(t *testing.T) {
	t.Parallel()

	// Unbuffered send with no reader blocks until ctx is cancelled.
	c, _, _ := newTestConnection(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Play(ctx, bytes.NewReader(make([]byte, opusFrameBytes*4)))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Play: got %v, want context.DeadlineExceeded", err)
	}
}

func TestConnection_PlayUnblockedByDisconnect(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestConnection(t, 0)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Play(context.Background(), bytes.NewReader(make([]byte, opusFrameBytes*4)))
	}()

	time.Sleep(20 * time.Millisecond)
	_ = c.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Play: got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Disconnect")
	}
}

func TestConnection_Move(t *testing.T) {
	t.Parallel()

	c, _, fake := newTestConnection(t, 1)
	if err := c.Move(context.Background(), "chan-2"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := c.ChannelID(); got != "chan-2" {
		t.Errorf("ChannelID = %q, want chan-2", got)
	}
	fake.mu.Lock()
	if len(fake.moves) != 1 || fake.moves[0] != "chan-2" {
		t.Errorf("moves = %v, want [chan-2]", fake.moves)
	}
	fake.mu.Unlock()

	_ = c.Disconnect()
	if err := c.Move(context.Background(), "chan-3"); !errors.Is(err, ErrClosed) {
		t.Errorf("Move after Disconnect: got %v, want ErrClosed", err)
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestConnection(t, 1)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

// TestConnection_ConcurrentDisconnect exercises Disconnect from multiple
// goroutines (run with -race).
func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestConnection(t, 1)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}
