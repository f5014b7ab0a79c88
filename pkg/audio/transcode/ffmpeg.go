package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/mimic/pkg/audio"
)

// Compile-time interface assertion.
var _ Transcoder = (*FFmpeg)(nil)

// FFmpeg transcodes through an external ffmpeg process.
type FFmpeg struct {
	path   string
	volume gain
}

// NewFFmpeg returns an FFmpeg transcoder. An empty path resolves "ffmpeg"
// through $PATH when a stream is opened.
func NewFFmpeg(path string, volume float64) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	f := &FFmpeg{path: path}
	f.volume.set(volume)
	return f
}

// SetVolume implements [Transcoder].
func (f *FFmpeg) SetVolume(v float64) { f.volume.set(v) }

// Open implements [Transcoder]. The ffmpeg process is killed when ctx is
// cancelled.
func (f *FFmpeg) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("transcode: open %q: %w", path, err)
	}

	pf := audio.PlaybackFormat
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", path,
		"-vn",
		"-af", "volume=" + strconv.FormatFloat(f.volume.get(), 'f', 3, 64),
		"-f", "s16le",
		"-ar", strconv.Itoa(pf.SampleRate),
		"-ac", strconv.Itoa(pf.Channels),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.path, args...)
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcode: start ffmpeg: %w", err)
	}
	return &ffmpegStream{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Normalize implements [Transcoder] by piping data through ffmpeg.
func (f *FFmpeg) Normalize(ctx context.Context, data []byte) ([]byte, error) {
	rf := ReferenceFormat
	cmd := exec.CommandContext(ctx, f.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-ac", strconv.Itoa(rf.Channels),
		"-ar", strconv.Itoa(rf.SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: 4096}
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg normalize: %w: %s", err, stderr.String())
	}

	// ffmpeg writes an unknown data size when its output is not seekable;
	// re-encode so the header is exact.
	pcm, format, err := audio.DecodeWAV(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg normalize: %w", err)
	}
	return audio.EncodeWAV(pcm, format), nil
}

// ffmpegStream is the stdout of a running ffmpeg process.
type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close stops ffmpeg if it is still running and waits for it to exit, so the
// input file is no longer held open once Close returns.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		// Drain stdout so ffmpeg can exit on its own.
		_, _ = io.Copy(io.Discard, s.stdout)
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(s.stderr.String())
			s.closeErr = fmt.Errorf("transcode: ffmpeg exited: %w: %s", err, msg)
			return
		}
		if err != nil {
			s.closeErr = fmt.Errorf("transcode: ffmpeg wait: %w", err)
		}
	})
	return s.closeErr
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
