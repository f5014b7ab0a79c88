package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Discord voice is 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50 // samples per channel in 20 ms

	// maxOpusPacket caps one encoded frame; 20 ms never comes close.
	maxOpusPacket = 4000
)

// frameEncoder turns fixed-size PCM frames into Opus packets. It is not safe
// for concurrent use; each Play owns one.
type frameEncoder struct {
	enc     *gopus.Encoder
	samples []int16
}

func newFrameEncoder() (*frameEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}
	return &frameEncoder{enc: enc, samples: make([]int16, opusFrameSize*opusChannels)}, nil
}

// encode converts one frame of interleaved little-endian 16-bit PCM. frame
// must be exactly opusFrameBytes long.
func (e *frameEncoder) encode(frame []byte) ([]byte, error) {
	for i := range e.samples {
		e.samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	packet, err := e.enc.Encode(e.samples, opusFrameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
