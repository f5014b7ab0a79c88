// Package config provides the configuration schema, loader, hot-reload
// watcher and speech backend registry for mimic.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for mimic.
// It is typically built by [Load], which layers a YAML file, a .env file and
// the process environment over [Defaults].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Voices  VoicesConfig  `yaml:"voices"`
	Audio   AudioConfig   `yaml:"audio"`
	Model   ModelConfig   `yaml:"model"`
}

// ServerConfig holds logging and the optional HTTP endpoint for health
// checks and metrics.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot credentials and command surface settings.
type DiscordConfig struct {
	// Token is the bot token without the "Bot " prefix.
	Token string `yaml:"token"`

	// GuildID restricts the bot to a single guild. Empty accepts every guild
	// the bot is in.
	GuildID string `yaml:"guild_id"`

	// Prefix starts every command. Defaults to "!".
	Prefix string `yaml:"prefix"`

	// AdminIDs lists the user IDs allowed to run admin commands.
	AdminIDs []string `yaml:"admin_ids"`

	// AdminRoleID optionally grants admin rights to members with this role.
	AdminRoleID string `yaml:"admin_role_id"`
}

// VoicesConfig locates the voice profiles.
type VoicesConfig struct {
	// Dir holds one subdirectory per profile.
	Dir string `yaml:"dir"`

	// Default is the profile used when a request names none.
	Default string `yaml:"default"`
}

// AudioConfig controls generated clips and their playback.
type AudioConfig struct {
	// TempDir receives generated clips until they have been played.
	TempDir string `yaml:"temp_dir"`

	// Transcoder selects how clips are decoded for playback: "ffmpeg" or
	// "wav".
	Transcoder string `yaml:"transcoder"`

	// FFmpegPath is the ffmpeg binary used by the ffmpeg transcoder.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Volume is the playback gain, 1.0 meaning unchanged.
	Volume float64 `yaml:"volume"`

	// CleanupDelay is the pause between the end of a clip and the deletion
	// of its file.
	CleanupDelay time.Duration `yaml:"cleanup_delay"`
}

// ModelConfig selects and configures the speech model backend.
type ModelConfig struct {
	// Backend selects a registered backend ("qwen", "coqui", "elevenlabs").
	Backend string `yaml:"backend"`

	// URL is the backend's base URL. Leave empty for the backend default.
	URL string `yaml:"url"`

	// APIKey authenticates against the backend if it needs one.
	APIKey string `yaml:"api_key"`

	// Name overrides the model name derived from Size.
	Name string `yaml:"name"`

	// Size selects the model variant, e.g. "0.6B" or "1.7B".
	Size string `yaml:"size"`

	// Device is the accelerator the model runs on, e.g. "cuda:0" or "cpu".
	Device string `yaml:"device"`

	// Language is passed to the model with every request. Empty selects the
	// backend default.
	Language string `yaml:"language"`

	// Timeout bounds a single model invocation. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Defaults returns a Config holding every default value.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Discord: DiscordConfig{
			Prefix: "!",
		},
		Voices: VoicesConfig{
			Dir:     "voices",
			Default: "jonghun",
		},
		Audio: AudioConfig{
			TempDir:      "temp",
			Transcoder:   "ffmpeg",
			FFmpegPath:   "ffmpeg",
			Volume:       1.0,
			CleanupDelay: 500 * time.Millisecond,
		},
		Model: ModelConfig{
			Backend: "qwen",
			Size:    "1.7B",
			Device:  "cuda:0",
		},
	}
}
