// Package playback owns the bot's single voice channel connection and plays
// generated clips into it one at a time.
//
// A [Session] is either disconnected or connected to exactly one channel.
// [Session.Play] holds a one-slot semaphore for the whole lifetime of a clip,
// including the delayed deletion of the clip file, so a second request waits
// until the first clip is gone from disk.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/mimic/internal/observe"
	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/audio/transcode"
)

var (
	// ErrNotConnected is returned by Leave and Play while the session has no
	// voice connection.
	ErrNotConnected = errors.New("playback: not connected to a voice channel")

	// ErrStopped is returned by Play when the clip was cut short by Stop or
	// Leave.
	ErrStopped = errors.New("playback: stopped")
)

// DefaultCleanupDelay is how long a finished clip stays on disk before it is
// deleted.
const DefaultCleanupDelay = 500 * time.Millisecond

// Transition describes what Join did.
type Transition int

const (
	// Joined means a new connection was opened.
	Joined Transition = iota
	// Moved means the session switched channels. Within a guild the
	// connection is kept; a different guild gets a new connection.
	Moved
	// AlreadyConnected means the session already sat in the channel.
	AlreadyConnected
)

// String returns the transition name.
func (t Transition) String() string {
	switch t {
	case Joined:
		return "joined"
	case Moved:
		return "moved"
	case AlreadyConnected:
		return "already_connected"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// Option is a functional option for [New].
type Option func(*Session)

// WithCleanupDelay sets the pause between the end of a clip and the deletion
// of its file.
func WithCleanupDelay(d time.Duration) Option {
	return func(s *Session) {
		s.cleanupDelay = d
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is the bot's single voice presence. It sits in at most one channel
// of one guild at a time. It is safe for concurrent use.
type Session struct {
	platform     audio.Platform
	transcoder   transcode.Transcoder
	cleanupDelay time.Duration
	metrics      *observe.Metrics

	// mu guards conn and guildID. Join and Leave hold it across the
	// platform call so state changes are serialised.
	mu      sync.Mutex
	conn    audio.Connection
	guildID string

	slot *semaphore.Weighted

	// playMu guards the in-flight playback's cancel func.
	playMu  sync.Mutex
	cancel  context.CancelCauseFunc
	playing bool
}

// New returns a disconnected Session.
func New(platform audio.Platform, transcoder transcode.Transcoder, opts ...Option) *Session {
	s := &Session{
		platform:     platform,
		transcoder:   transcoder,
		cleanupDelay: DefaultCleanupDelay,
		slot:         semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Join makes sure the session sits in channelID of guildID. It connects when
// disconnected, moves when connected elsewhere in the guild and does nothing
// when already there. A request from another guild stops any playback and
// reconnects there.
func (s *Session) Join(ctx context.Context, guildID, channelID string) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := observe.Logger(ctx).With("guild", guildID, "channel", channelID)
	if s.conn == nil {
		if err := s.connect(ctx, guildID, channelID); err != nil {
			return 0, err
		}
		log.Info("playback: joined voice channel")
		return Joined, nil
	}

	from := s.conn.ChannelID()
	if s.guildID != guildID {
		fromGuild := s.guildID
		if err := s.dropLocked(ctx); err != nil {
			log.Warn("playback: leaving previous guild", "err", err)
		}
		if err := s.connect(ctx, guildID, channelID); err != nil {
			return 0, err
		}
		log.Info("playback: moved to another guild", "from_guild", fromGuild, "from", from)
		return Moved, nil
	}

	if from == channelID {
		return AlreadyConnected, nil
	}
	if err := s.conn.Move(ctx, channelID); err != nil {
		return 0, fmt.Errorf("playback: move to %s: %w", channelID, err)
	}
	log.Info("playback: moved voice channel", "from", from)
	return Moved, nil
}

// connect opens a connection; s.mu must be held and s.conn nil.
func (s *Session) connect(ctx context.Context, guildID, channelID string) error {
	conn, err := s.platform.Connect(ctx, guildID, channelID)
	if err != nil {
		return fmt.Errorf("playback: connect to %s: %w", channelID, err)
	}
	s.conn, s.guildID = conn, guildID
	s.metrics.VoiceConnections.Add(ctx, 1)
	return nil
}

// dropLocked stops playback and disconnects; s.mu must be held and s.conn
// set. The session is disconnected afterwards even when an error is returned.
func (s *Session) dropLocked(ctx context.Context) error {
	s.Stop()
	conn := s.conn
	s.conn, s.guildID = nil, ""
	s.metrics.VoiceConnections.Add(ctx, -1)
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("playback: disconnect: %w", err)
	}
	return nil
}

// Leave stops any playback and disconnects. It returns [ErrNotConnected]
// when there is nothing to leave.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	channelID := s.conn.ChannelID()
	if err := s.dropLocked(ctx); err != nil {
		return err
	}
	observe.Logger(ctx).Info("playback: left voice channel", "channel", channelID)
	return nil
}

// Close leaves the channel if connected. It is meant for shutdown.
func (s *Session) Close(ctx context.Context) error {
	if err := s.Leave(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// ChannelID returns the channel the session sits in, or "" when
// disconnected.
func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ChannelID()
}

// Connected reports whether the session holds a voice connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Playing reports whether a clip is streaming right now.
func (s *Session) Playing() bool {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	return s.playing
}

// Stop cuts the in-flight clip short. It reports whether anything was
// playing.
func (s *Session) Stop() bool {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel(ErrStopped)
	return true
}

// Play streams the audio file at path into the voice channel and blocks until
// the clip has finished. If another clip is playing, Play first waits for it
// (or for ctx). When cleanup is set the file is deleted cleanupDelay after
// the clip ended, whatever the outcome, and the playback slot is released
// only after that.
func (s *Session) Play(ctx context.Context, path string, cleanup bool) (err error) {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	if !s.Connected() {
		s.discard(ctx, path, cleanup)
		return ErrNotConnected
	}

	if err := s.slot.Acquire(ctx, 1); err != nil {
		s.discard(ctx, path, cleanup)
		return fmt.Errorf("playback: wait for slot: %w", err)
	}
	defer s.slot.Release(1)
	defer s.discardAfter(ctx, path, cleanup)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, span := observe.StartSpan(ctx, "playback.Play", trace.WithAttributes(
		attribute.String("channel", conn.ChannelID()),
	))
	defer span.End()

	playCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.setPlaying(cancel)
	defer s.setPlaying(nil)

	start := time.Now()
	defer func() {
		s.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
		s.metrics.Playbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", playStatus(err))))
		if !errors.Is(err, ErrStopped) {
			observe.SpanError(span, err)
		}
	}()

	pcm, err := s.transcoder.Open(playCtx, path)
	if err != nil {
		return fmt.Errorf("playback: open %s: %w", path, err)
	}

	done := make(chan error, 1)
	go func() {
		perr := conn.Play(playCtx, pcm)
		done <- errors.Join(perr, pcm.Close())
	}()

	observe.Logger(ctx).Info("playback: playing", "path", path, "channel", conn.ChannelID())
	err = <-done
	if cause := context.Cause(playCtx); errors.Is(cause, ErrStopped) {
		observe.Logger(ctx).Info("playback: stopped", "path", path)
		return ErrStopped
	}
	if err != nil {
		return fmt.Errorf("playback: play %s: %w", path, err)
	}
	observe.Logger(ctx).Info("playback: finished", "path", path, "took", time.Since(start))
	return nil
}

func (s *Session) setPlaying(cancel context.CancelCauseFunc) {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	s.cancel = cancel
	s.playing = cancel != nil
}

// discardAfter waits cleanupDelay and then removes path.
func (s *Session) discardAfter(ctx context.Context, path string, cleanup bool) {
	if !cleanup {
		return
	}
	if s.cleanupDelay > 0 {
		time.Sleep(s.cleanupDelay)
	}
	s.discard(ctx, path, cleanup)
}

func (s *Session) discard(ctx context.Context, path string, cleanup bool) {
	if !cleanup {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		observe.Logger(ctx).Warn("playback: remove clip", "path", path, "err", err)
		return
	}
	observe.Logger(ctx).Debug("playback: clip removed", "path", path)
}

func playStatus(err error) string {
	if errors.Is(err, ErrStopped) {
		return "stopped"
	}
	return observe.Status(err)
}
