package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MrWong99/mimic/internal/discord"
	"github.com/MrWong99/mimic/internal/voice"
)

func (c *Commands) handleVoices(req *discord.Request) error {
	profiles, err := c.cfg.Profiles.List()
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}
	if len(profiles) == 0 {
		return discord.UserErrorf("❌ No voice profiles are available.")
	}

	var b strings.Builder
	b.WriteString("🎙️ **Available voice profiles:**")
	for _, p := range profiles {
		fmt.Fprintf(&b, "\n• **%s**", p.Name)
		if p.Default {
			b.WriteString(" ⭐")
		}
	}
	req.Reply(b.String())
	return nil
}

func (c *Commands) handleClone(req *discord.Request) error {
	name, _, _ := strings.Cut(req.Args, " ")
	if err := voice.ValidateName(name); err != nil {
		return discord.WrapUserError(err, fmt.Sprintf("❌ `%s` cannot be used as a voice name.", name))
	}

	att := FirstAttachment(req.Message)
	if att == nil {
		return discord.UserErrorf("❌ Please attach an audio file! (WAV, at least 3 seconds)")
	}
	if DetectFormat(att.Filename) == FormatUnknown {
		return discord.UserErrorf("❌ Supported file types: .wav, .mp3, .ogg")
	}

	stopTyping := keepTyping(req)
	defer stopTyping()

	data, err := DownloadAttachment(req.Ctx, c.cfg.HTTPClient, att, c.cfg.MaxAttachmentSize)
	if err != nil {
		return discord.WrapUserError(err, "❌ Could not download the attachment.")
	}
	if c.cfg.Normalizer != nil {
		if data, err = c.cfg.Normalizer.Normalize(req.Ctx, data); err != nil {
			return discord.WrapUserError(err, "❌ Could not decode the attached audio.")
		}
	}

	profile, needsTranscript, err := c.cfg.Profiles.Create(name, data)
	if err != nil {
		if errors.Is(err, voice.ErrInvalidName) {
			return discord.WrapUserError(err, fmt.Sprintf("❌ `%s` cannot be used as a voice name.", name))
		}
		return fmt.Errorf("clone %q: %w", name, err)
	}
	c.cfg.Speaker.ClearPrompts(profile.Name)
	req.Logger().Info("voice profile created", "voice", profile.Name, "bytes", len(data))

	msg := fmt.Sprintf("✅ Voice profile **%s** created!", profile.Name)
	if needsTranscript {
		rel := filepath.Join(filepath.Base(filepath.Dir(profile.Dir)), profile.Name, voice.TranscriptFile)
		msg += fmt.Sprintf("\n📝 Edit `%s` and enter the words spoken in the sample.", filepath.ToSlash(rel))
	}
	req.Reply(msg)
	return nil
}
