package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/mimic/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{1, -2, 3, -4})
	f := audio.Format{SampleRate: 12000, Channels: 1}

	wav := audio.EncodeWAV(pcm, f)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}

	got, gotFmt, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFmt != f {
		t.Errorf("format = %v, want %v", gotFmt, f)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}
}

func TestParseWAV_SkipsExtraChunks(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV(samplesToBytes([]int16{9, 9}), audio.Format{SampleRate: 22050, Channels: 2})

	// Splice a LIST chunk with an odd size (padded) between fmt and data.
	list := []byte("LIST")
	list = binary.LittleEndian.AppendUint32(list, 3)
	list = append(list, 'a', 'b', 'c', 0)
	spliced := append([]byte{}, wav[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...)

	info, err := audio.ParseWAV(spliced)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.DataOffset != 36+len(list)+8 {
		t.Errorf("DataOffset = %d, want %d", info.DataOffset, 36+len(list)+8)
	}
	if info.SampleRate != 22050 || info.Channels != 2 || info.BitsPerSample != 16 {
		t.Errorf("info = %+v", info)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()

	valid := audio.EncodeWAV(nil, audio.PlaybackFormat)
	tests := map[string][]byte{
		"too short":    []byte("RIFF"),
		"not riff":     append([]byte("RIFX"), valid[4:]...),
		"no data":      valid[:36],
		"empty buffer": nil,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.ParseWAV(in); !errors.Is(err, audio.ErrInvalidWAV) {
				t.Errorf("err = %v, want ErrInvalidWAV", err)
			}
		})
	}
}

func TestDecodeWAV_RejectsNon16Bit(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV([]byte{1, 2, 3, 4}, audio.Format{SampleRate: 8000, Channels: 1})
	binary.LittleEndian.PutUint16(wav[34:36], 8)
	if _, _, err := audio.DecodeWAV(wav); !errors.Is(err, audio.ErrInvalidWAV) {
		t.Errorf("err = %v, want ErrInvalidWAV", err)
	}
}
