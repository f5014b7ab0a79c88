package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/mimic/internal/voice"
)

// ValidBackends lists the speech model backends that ship with mimic. Used by
// [Validate] to warn about unrecognised names.
var ValidBackends = []string{"qwen", "coqui", "elevenlabs"}

// validTranscoders lists the accepted audio.transcoder values.
var validTranscoders = []string{"ffmpeg", "wav"}

// Volume bounds accepted by [Validate].
const (
	minVolume = 0.0
	maxVolume = 4.0
)

// LookupFunc looks up an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration: [Defaults], overlaid by the YAML file at
// path (skipped when path is empty), overlaid by environment variables. The
// environment is first extended with the .env files in envFiles; missing
// .env files are ignored and never override variables that are already set.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from each existing file into the process
// environment without overriding variables that are already set.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", f, err)
		}
		slog.Debug("config: loaded env file", "path", f)
	}
	return nil
}

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. The environment is not consulted. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// parse decodes data over the defaults, applies env overrides when lookup is
// non-nil and validates.
func parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg := Defaults()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables below. Unset
// variables leave the current value alone; set but empty ones clear string
// fields.
//
//	DISCORD_TOKEN, GUILD_ID, COMMAND_PREFIX, ADMIN_IDS (comma separated),
//	ADMIN_ROLE_ID, DEFAULT_VOICE, VOICES_DIR, TEMP_DIR, TRANSCODER,
//	FFMPEG_PATH, VOLUME, CLEANUP_DELAY, MODEL_BACKEND, MODEL_URL,
//	MODEL_API_KEY, MODEL_NAME, MODEL_SIZE, DEVICE, MODEL_LANGUAGE,
//	MODEL_TIMEOUT, LOG_LEVEL, LISTEN_ADDR
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("env %s: %w", key, err))
			return
		}
		*dst = d
	}

	str("DISCORD_TOKEN", &cfg.Discord.Token)
	str("GUILD_ID", &cfg.Discord.GuildID)
	str("COMMAND_PREFIX", &cfg.Discord.Prefix)
	str("ADMIN_ROLE_ID", &cfg.Discord.AdminRoleID)
	if v, ok := lookup("ADMIN_IDS"); ok {
		cfg.Discord.AdminIDs = splitList(v)
	}

	str("DEFAULT_VOICE", &cfg.Voices.Default)
	str("VOICES_DIR", &cfg.Voices.Dir)

	str("TEMP_DIR", &cfg.Audio.TempDir)
	str("TRANSCODER", &cfg.Audio.Transcoder)
	str("FFMPEG_PATH", &cfg.Audio.FFmpegPath)
	if v, ok := lookup("VOLUME"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("env VOLUME: %w", err))
		} else {
			cfg.Audio.Volume = f
		}
	}
	dur("CLEANUP_DELAY", &cfg.Audio.CleanupDelay)

	str("MODEL_BACKEND", &cfg.Model.Backend)
	str("MODEL_URL", &cfg.Model.URL)
	str("MODEL_API_KEY", &cfg.Model.APIKey)
	str("MODEL_NAME", &cfg.Model.Name)
	str("MODEL_SIZE", &cfg.Model.Size)
	str("DEVICE", &cfg.Model.Device)
	str("MODEL_LANGUAGE", &cfg.Model.Language)
	dur("MODEL_TIMEOUT", &cfg.Model.Timeout)

	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(strings.TrimSpace(v)))
	}
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)

	return errors.Join(errs...)
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// The Discord token is not required here; commands that connect to Discord
// check it themselves.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if strings.ContainsFunc(cfg.Discord.Prefix, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }) {
		errs = append(errs, fmt.Errorf("discord.prefix %q must not contain whitespace", cfg.Discord.Prefix))
	}
	for i, id := range cfg.Discord.AdminIDs {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("discord.admin_ids[%d] %q is not a Discord user ID", i, id))
		}
	}

	// Voices
	if cfg.Voices.Dir == "" {
		errs = append(errs, errors.New("voices.dir is required"))
	}
	if cfg.Voices.Default != "" {
		if err := voice.ValidateName(cfg.Voices.Default); err != nil {
			errs = append(errs, fmt.Errorf("voices.default: %w", err))
		}
	} else {
		slog.Warn("voices.default is empty; tts requests must name a voice")
	}

	// Audio
	if cfg.Audio.TempDir == "" {
		errs = append(errs, errors.New("audio.temp_dir is required"))
	}
	if cfg.Audio.Transcoder != "" && !slices.Contains(validTranscoders, cfg.Audio.Transcoder) {
		errs = append(errs, fmt.Errorf("audio.transcoder %q is invalid; valid values: %s", cfg.Audio.Transcoder, strings.Join(validTranscoders, ", ")))
	}
	if cfg.Audio.Volume < minVolume || cfg.Audio.Volume > maxVolume {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [%.0f, %.0f]", cfg.Audio.Volume, minVolume, maxVolume))
	}
	if cfg.Audio.CleanupDelay < 0 {
		errs = append(errs, fmt.Errorf("audio.cleanup_delay %s must not be negative", cfg.Audio.CleanupDelay))
	}

	// Model
	if cfg.Model.Backend == "" {
		errs = append(errs, errors.New("model.backend is required"))
	} else if !slices.Contains(ValidBackends, cfg.Model.Backend) {
		slog.Warn("unknown model backend, may be a typo or third-party backend",
			"backend", cfg.Model.Backend,
			"known", ValidBackends,
		)
	}
	if cfg.Model.Timeout < 0 {
		errs = append(errs, fmt.Errorf("model.timeout %s must not be negative", cfg.Model.Timeout))
	}
	if cfg.Model.Backend == "elevenlabs" && cfg.Model.APIKey == "" {
		errs = append(errs, errors.New("model.api_key is required for the elevenlabs backend"))
	}

	return errors.Join(errs...)
}
