package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/audio/mock"
	"github.com/MrWong99/mimic/pkg/audio/transcode"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

var clipPCM = []byte{0x10, 0x00, 0x20, 0x00, 0x30, 0x00, 0x40, 0x00}

// writeClip writes a WAV in the playback format so the WAV transcoder passes
// the samples through unchanged.
func writeClip(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, audio.EncodeWAV(clipPCM, audio.PlaybackFormat), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSession(t *testing.T, conn *mock.Connection) (*Session, *mock.Platform) {
	t.Helper()
	p := &mock.Platform{ConnectResult: conn}
	s := New(p, transcode.NewWAV(1), WithCleanupDelay(10*time.Millisecond))
	return s, p
}

func connected(t *testing.T, conn *mock.Connection) *Session {
	t.Helper()
	s, _ := newTestSession(t, conn)
	if _, err := s.Join(context.Background(), "guild-1", "voice-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return s
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not start")
	}
}

// ─── Join / Leave ────────────────────────────────────────────────────────────

func TestJoin_Transitions(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	s, p := newTestSession(t, conn)
	ctx := context.Background()

	steps := []struct {
		channel string
		want    Transition
	}{
		{"voice-1", Joined},
		{"voice-1", AlreadyConnected},
		{"voice-2", Moved},
		{"voice-2", AlreadyConnected},
	}
	for i, st := range steps {
		got, err := s.Join(ctx, "guild-1", st.channel)
		if err != nil {
			t.Fatalf("step %d: Join(%s): %v", i, st.channel, err)
		}
		if got != st.want {
			t.Errorf("step %d: Join(%s) = %v, want %v", i, st.channel, got, st.want)
		}
	}

	if got := p.ConnectCalls(); !slices.Equal(got, []string{"voice-1"}) {
		t.Errorf("ConnectCalls = %v, want [voice-1]", got)
	}
	if got := conn.MoveCalls(); !slices.Equal(got, []string{"voice-2"}) {
		t.Errorf("MoveCalls = %v, want [voice-2]", got)
	}
	if s.ChannelID() != "voice-2" {
		t.Errorf("ChannelID = %q, want voice-2", s.ChannelID())
	}
}

func TestJoin_Errors(t *testing.T) {
	t.Parallel()

	t.Run("connect", func(t *testing.T) {
		t.Parallel()
		p := &mock.Platform{ConnectError: errors.New("gateway down")}
		s := New(p, transcode.NewWAV(1))
		if _, err := s.Join(context.Background(), "guild-1", "voice-1"); err == nil {
			t.Fatal("expected error")
		}
		if s.Connected() {
			t.Error("Connected = true after failed connect")
		}
	})

	t.Run("move", func(t *testing.T) {
		t.Parallel()
		conn := mock.NewConnection("")
		conn.MoveError = errors.New("no permission")
		s := connected(t, conn)
		if _, err := s.Join(context.Background(), "guild-1", "voice-2"); err == nil {
			t.Fatal("expected error")
		}
		if s.ChannelID() != "voice-1" {
			t.Errorf("ChannelID = %q, want voice-1", s.ChannelID())
		}
	})
}

func TestJoin_OtherGuildReconnects(t *testing.T) {
	t.Parallel()

	p := &mock.Platform{}
	s := New(p, transcode.NewWAV(1), WithCleanupDelay(time.Millisecond))
	ctx := context.Background()

	if _, err := s.Join(ctx, "guild-1", "voice-1"); err != nil {
		t.Fatal(err)
	}
	first := p.Connections()[0]
	first.PlayGate = make(chan struct{})
	started := first.Started()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Play(ctx, writeClip(t, "clip.wav"), true) }()
	waitStarted(t, started)

	got, err := s.Join(ctx, "guild-2", "voice-9")
	if err != nil {
		t.Fatalf("Join(guild-2): %v", err)
	}
	if got != Moved {
		t.Errorf("Join(guild-2) = %v, want moved", got)
	}
	if err := <-errCh; !errors.Is(err, ErrStopped) {
		t.Errorf("Play in previous guild: got %v, want ErrStopped", err)
	}
	if first.CallCountDisconnect() != 1 || len(first.MoveCalls()) != 0 {
		t.Errorf("old connection: disconnects=%d moves=%v, want 1 and none",
			first.CallCountDisconnect(), first.MoveCalls())
	}
	if guilds := p.ConnectGuilds(); !slices.Equal(guilds, []string{"guild-1", "guild-2"}) {
		t.Errorf("ConnectGuilds = %v, want [guild-1 guild-2]", guilds)
	}
	if s.ChannelID() != "voice-9" {
		t.Errorf("ChannelID = %q, want voice-9", s.ChannelID())
	}

	if got, _ := s.Join(ctx, "guild-2", "voice-9"); got != AlreadyConnected {
		t.Errorf("repeat Join = %v, want already_connected", got)
	}
}

func TestLeave(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	s, _ := newTestSession(t, conn)
	ctx := context.Background()

	if err := s.Leave(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Leave while disconnected: got %v, want ErrNotConnected", err)
	}
	if _, err := s.Join(ctx, "guild-1", "voice-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if conn.CallCountDisconnect() != 1 {
		t.Errorf("Disconnect calls = %d, want 1", conn.CallCountDisconnect())
	}
	if s.Connected() || s.ChannelID() != "" {
		t.Error("session still connected after Leave")
	}
	if err := s.Leave(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Leave: got %v, want ErrNotConnected", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Errorf("Close while disconnected: %v", err)
	}
}

func TestTransition_String(t *testing.T) {
	t.Parallel()

	for tr, want := range map[Transition]string{
		Joined:           "joined",
		Moved:            "moved",
		AlreadyConnected: "already_connected",
		Transition(9):    "Transition(9)",
	} {
		if got := tr.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(tr), got, want)
		}
	}
}

// ─── Play ────────────────────────────────────────────────────────────────────

func TestPlay_StreamsAndCleansUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cleanup   bool
		wantExist bool
	}{
		{name: "cleanup", cleanup: true, wantExist: false},
		{name: "keep", cleanup: false, wantExist: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conn := mock.NewConnection("")
			s := connected(t, conn)
			path := writeClip(t, "clip.wav")

			if err := s.Play(context.Background(), path, tt.cleanup); err != nil {
				t.Fatalf("Play: %v", err)
			}
			plays := conn.PlayCalls()
			if len(plays) != 1 || !slices.Equal(plays[0], clipPCM) {
				t.Errorf("PlayCalls = %v, want one clip", plays)
			}
			if got := exists(path); got != tt.wantExist {
				t.Errorf("file exists = %v, want %v", got, tt.wantExist)
			}
			if s.Playing() {
				t.Error("Playing = true after Play returned")
			}
		})
	}
}

func TestPlay_NotConnected(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, nil)
	path := writeClip(t, "clip.wav")
	if err := s.Play(context.Background(), path, true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Play: got %v, want ErrNotConnected", err)
	}
	if exists(path) {
		t.Error("clip not removed")
	}
}

func TestPlay_MissingFile(t *testing.T) {
	t.Parallel()

	s := connected(t, mock.NewConnection(""))
	err := s.Play(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), true)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Play: got %v, want os.ErrNotExist", err)
	}
}

func TestPlay_ConnectionErrorStillCleansUp(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	conn.PlayError = errors.New("udp closed")
	s := connected(t, conn)
	path := writeClip(t, "clip.wav")

	if err := s.Play(context.Background(), path, true); err == nil {
		t.Fatal("expected error")
	}
	if exists(path) {
		t.Error("clip not removed after failed playback")
	}
}

func TestPlay_OneAtATime(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	conn.PlayGate = make(chan struct{})
	started := conn.Started()
	s := connected(t, conn)
	first := writeClip(t, "first.wav")
	second := writeClip(t, "second.wav")
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- s.Play(ctx, first, true) }()
	waitStarted(t, started)
	if !s.Playing() {
		t.Error("Playing = false during playback")
	}

	go func() { errs <- s.Play(ctx, second, true) }()
	select {
	case <-started:
		t.Fatal("second clip started while the first was playing")
	case <-time.After(50 * time.Millisecond):
	}

	close(conn.PlayGate)
	waitStarted(t, started)
	// The slot is released only after the first clip is deleted.
	if exists(first) {
		t.Error("second clip started before the first clip was removed")
	}

	for range 2 {
		if err := <-errs; err != nil {
			t.Errorf("Play: %v", err)
		}
	}
	if n := conn.MaxConcurrentPlays(); n != 1 {
		t.Errorf("MaxConcurrentPlays = %d, want 1", n)
	}
	if exists(second) {
		t.Error("second clip not removed")
	}
}

func TestPlay_WaitRespectsContext(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	conn.PlayGate = make(chan struct{})
	started := conn.Started()
	s := connected(t, conn)
	first := writeClip(t, "first.wav")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Play(context.Background(), first, true)
	}()
	t.Cleanup(func() {
		close(conn.PlayGate)
		<-done
	})
	waitStarted(t, started)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	waiting := writeClip(t, "waiting.wav")
	if err := s.Play(ctx, waiting, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Play: got %v, want context.DeadlineExceeded", err)
	}
	if exists(waiting) {
		t.Error("abandoned clip not removed")
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	conn.PlayGate = make(chan struct{})
	started := conn.Started()
	s := connected(t, conn)
	path := writeClip(t, "clip.wav")

	if s.Stop() {
		t.Error("Stop with nothing playing returned true")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Play(context.Background(), path, true) }()
	waitStarted(t, started)

	if !s.Stop() {
		t.Error("Stop during playback returned false")
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Play: got %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Stop")
	}
	if exists(path) {
		t.Error("clip not removed after Stop")
	}
	if !s.Connected() {
		t.Error("Stop must not disconnect")
	}
}

func TestLeave_StopsPlayback(t *testing.T) {
	t.Parallel()

	conn := mock.NewConnection("")
	conn.PlayGate = make(chan struct{})
	started := conn.Started()
	s := connected(t, conn)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Play(context.Background(), writeClip(t, "clip.wav"), true) }()
	waitStarted(t, started)

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := <-errCh; !errors.Is(err, ErrStopped) {
		t.Errorf("Play: got %v, want ErrStopped", err)
	}
}
