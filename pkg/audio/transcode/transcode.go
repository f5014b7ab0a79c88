// Package transcode turns audio files into the raw PCM stream expected by an
// [audio.Connection] (16-bit little-endian, 48 kHz, stereo) and normalises
// uploaded reference samples into mono WAV files.
//
// Two implementations exist: [FFmpeg], which shells out to an ffmpeg binary
// and accepts any format ffmpeg understands, and [WAV], which decodes
// RIFF/WAVE files natively and needs no external process.
package transcode

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/MrWong99/mimic/pkg/audio"
)

// ReferenceFormat is the format uploaded voice samples are normalised to.
var ReferenceFormat = audio.Format{SampleRate: 24000, Channels: 1}

// Transcoder converts audio files for playback.
//
// Implementations must be safe for concurrent use.
type Transcoder interface {
	// Open starts decoding the file at path. The returned reader yields
	// [audio.PlaybackFormat] PCM. Close must be called; it releases every
	// handle held on path before returning.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Normalize converts an encoded audio sample into a mono 16-bit WAV in
	// [ReferenceFormat].
	Normalize(ctx context.Context, data []byte) ([]byte, error)

	// SetVolume changes the gain applied to streams opened afterwards.
	SetVolume(v float64)
}

// New returns the transcoder registered under name ("ffmpeg" or "wav").
func New(name, ffmpegPath string, volume float64) (Transcoder, error) {
	switch name {
	case "", "ffmpeg":
		return NewFFmpeg(ffmpegPath, volume), nil
	case "wav":
		return NewWAV(volume), nil
	default:
		return nil, fmt.Errorf("transcode: unknown transcoder %q", name)
	}
}

// gain is an atomically updated float64.
type gain struct {
	bits atomic.Uint64
}

func (g *gain) set(v float64) {
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	g.bits.Store(math.Float64bits(v))
}

func (g *gain) get() float64 {
	return math.Float64frombits(g.bits.Load())
}
