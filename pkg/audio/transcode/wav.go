package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/mimic/pkg/audio"
)

var _ Transcoder = (*WAV)(nil)

// ErrUnsupportedChannels is returned by the WAV transcoder for files that are
// neither mono nor stereo.
var ErrUnsupportedChannels = errors.New("transcode: only mono and stereo WAV is supported")

// WAV decodes 16-bit RIFF/WAVE files in process. Other containers are
// rejected with an error wrapping [audio.ErrInvalidWAV].
type WAV struct {
	volume gain
}

// NewWAV returns a native WAV transcoder.
func NewWAV(volume float64) *WAV {
	w := &WAV{}
	w.volume.set(volume)
	return w
}

// SetVolume implements [Transcoder].
func (w *WAV) SetVolume(v float64) { w.volume.set(v) }

// Open implements [Transcoder]. The whole file is read and converted up
// front, so the file handle is already released when Open returns.
func (w *WAV) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcode: open %q: %w", path, err)
	}
	pcm, format, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("transcode: decode %q: %w", path, err)
	}
	// pcm aliases data, which nothing else references, so gain is applied
	// in place.
	out := audio.ApplyGain(audio.Convert(pcm, format, audio.PlaybackFormat), w.volume.get())
	return io.NopCloser(bytes.NewReader(out)), nil
}

// Normalize implements [Transcoder]. Only WAV input is accepted.
func (w *WAV) Normalize(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pcm, format, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("transcode: normalize: %w", err)
	}
	return audio.EncodeWAV(audio.Convert(pcm, format, ReferenceFormat), ReferenceFormat), nil
}

// decodeWAV is [audio.DecodeWAV] restricted to the layouts [audio.Convert]
// can remix.
func decodeWAV(data []byte) ([]byte, audio.Format, error) {
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, audio.Format{}, err
	}
	if format.Channels != 1 && format.Channels != 2 {
		return nil, audio.Format{}, fmt.Errorf("%w: got %d channels", ErrUnsupportedChannels, format.Channels)
	}
	return pcm, format, nil
}
