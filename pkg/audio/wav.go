package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned when a byte slice is not a RIFF/WAVE container
// this package can read.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

const wavFormatPCM = 1

// WAVInfo holds the metadata extracted from a RIFF/WAVE header.
type WAVInfo struct {
	DataOffset    int // byte offset of the first PCM sample
	DataSize      int // length of the PCM payload in bytes
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Format returns the sample rate and channel count of the file.
func (w WAVInfo) Format() Format {
	return Format{SampleRate: w.SampleRate, Channels: w.Channels}
}

// ParseWAV walks the RIFF chunks of wav and returns the format of the "fmt "
// chunk and the location of the "data" chunk. The fmt chunk size may vary, so
// no fixed 44-byte header is assumed. A data chunk size that overruns the
// buffer (common for streamed WAVs) is clipped to the available bytes.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var info WAVInfo
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidWAV)
			}
			if tag := binary.LittleEndian.Uint16(wav[body : body+2]); tag != wavFormatPCM && tag != 0xFFFE {
				return WAVInfo{}, fmt.Errorf("%w: unsupported format tag %d", ErrInvalidWAV, tag)
			}
			info.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			info.DataOffset = body
			info.DataSize = min(size, len(wav)-body)
			return info, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// DecodeWAV returns the 16-bit PCM payload of wav together with its format.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return nil, Format{}, err
	}
	if info.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("%w: %d bits per sample, want 16", ErrInvalidWAV, info.BitsPerSample)
	}
	return wav[info.DataOffset : info.DataOffset+info.DataSize], info.Format(), nil
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const headerSize = 44
	blockAlign := f.Channels * 2
	le := binary.LittleEndian

	buf := make([]byte, headerSize+len(pcm))
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], wavFormatPCM)
	le.PutUint16(buf[22:24], uint16(f.Channels))
	le.PutUint32(buf[24:28], uint32(f.SampleRate))
	le.PutUint32(buf[28:32], uint32(f.SampleRate*blockAlign))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[headerSize:], pcm)
	return buf
}
