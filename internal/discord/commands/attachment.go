package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DefaultMaxAttachmentSize bounds downloaded voice samples.
const DefaultMaxAttachmentSize = 25 << 20 // 25 MB

// AudioFormat identifies the detected file format of an uploaded sample.
type AudioFormat int

const (
	// FormatUnknown means the file extension was not recognised.
	FormatUnknown AudioFormat = iota

	// FormatWAV indicates a .wav file.
	FormatWAV

	// FormatMP3 indicates a .mp3 file.
	FormatMP3

	// FormatOGG indicates a .ogg file.
	FormatOGG
)

// String returns a human-readable label for the format.
func (f AudioFormat) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	case FormatOGG:
		return "ogg"
	default:
		return "unknown"
	}
}

// DetectFormat returns the AudioFormat based on a filename's extension.
func DetectFormat(filename string) AudioFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".ogg":
		return FormatOGG
	default:
		return FormatUnknown
	}
}

// FirstAttachment returns the first attachment of m, or nil.
func FirstAttachment(m *discordgo.Message) *discordgo.MessageAttachment {
	if m == nil || len(m.Attachments) == 0 {
		return nil
	}
	return m.Attachments[0]
}

// DownloadAttachment fetches attachment with client. Bodies larger than
// maxSize bytes are rejected.
func DownloadAttachment(ctx context.Context, client *http.Client, attachment *discordgo.MessageAttachment, maxSize int64) ([]byte, error) {
	if attachment == nil {
		return nil, fmt.Errorf("attachment is nil")
	}
	if attachment.Size > 0 && int64(attachment.Size) > maxSize {
		return nil, fmt.Errorf("attachment %q is %d bytes, limit is %d", attachment.Filename, attachment.Size, maxSize)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("attachment %q exceeds %d bytes", attachment.Filename, maxSize)
	}
	return data, nil
}
