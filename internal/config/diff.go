package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DefaultVoiceChanged bool
	NewDefaultVoice     string

	AdminsChanged bool
	NewAdminIDs   []string

	PrefixChanged bool
	NewPrefix     string

	VolumeChanged bool
	NewVolume     float64

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DefaultVoiceChanged || d.AdminsChanged ||
		d.PrefixChanged || d.VolumeChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voices.Default != new.Voices.Default {
		d.DefaultVoiceChanged = true
		d.NewDefaultVoice = new.Voices.Default
	}
	if !slices.Equal(old.Discord.AdminIDs, new.Discord.AdminIDs) {
		d.AdminsChanged = true
		d.NewAdminIDs = slices.Clone(new.Discord.AdminIDs)
	}
	if old.Discord.Prefix != new.Discord.Prefix {
		d.PrefixChanged = true
		d.NewPrefix = new.Discord.Prefix
	}
	if old.Audio.Volume != new.Audio.Volume {
		d.VolumeChanged = true
		d.NewVolume = new.Audio.Volume
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID != new.Discord.GuildID)
	restart("discord.admin_role_id", old.Discord.AdminRoleID != new.Discord.AdminRoleID)
	restart("voices.dir", old.Voices.Dir != new.Voices.Dir)
	restart("audio.temp_dir", old.Audio.TempDir != new.Audio.TempDir)
	restart("audio.transcoder", old.Audio.Transcoder != new.Audio.Transcoder)
	restart("audio.ffmpeg_path", old.Audio.FFmpegPath != new.Audio.FFmpegPath)
	restart("audio.cleanup_delay", old.Audio.CleanupDelay != new.Audio.CleanupDelay)
	restart("model", !reflect.DeepEqual(old.Model, new.Model))

	return d
}
