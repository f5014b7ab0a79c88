package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/mimic/internal/config"
	"github.com/MrWong99/mimic/pkg/provider/tts"
	"github.com/MrWong99/mimic/pkg/provider/tts/coqui"
	"github.com/MrWong99/mimic/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/mimic/pkg/provider/tts/qwen"
)

// Server addresses used when model.url is empty.
const (
	defaultQwenURL  = "http://localhost:8880"
	defaultCoquiURL = "http://localhost:8000"
)

// registerBuiltinProviders wires the speech backends that ship with mimic.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("qwen", func(mc config.ModelConfig) (tts.Provider, error) {
		model := mc.Name
		if model == "" {
			model = qwen.ModelName(mc.Size)
		}
		opts := []qwen.Option{qwen.WithModel(model), qwen.WithTimeout(mc.Timeout)}
		if mc.Device != "" {
			opts = append(opts, qwen.WithDevice(mc.Device))
		}
		if mc.Language != "" {
			opts = append(opts, qwen.WithLanguage(mc.Language))
		}
		if mc.APIKey != "" {
			opts = append(opts, qwen.WithAPIKey(mc.APIKey))
		}
		return qwen.New(orDefault(mc.URL, defaultQwenURL), opts...)
	})

	reg.RegisterTTS("coqui", func(mc config.ModelConfig) (tts.Provider, error) {
		var opts []coqui.Option
		if mc.Language != "" {
			opts = append(opts, coqui.WithLanguage(mc.Language))
		}
		if mc.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(mc.Timeout))
		}
		return coqui.New(orDefault(mc.URL, defaultCoquiURL), opts...)
	})

	reg.RegisterTTS("elevenlabs", func(mc config.ModelConfig) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if mc.Name != "" {
			opts = append(opts, elevenlabs.WithModel(mc.Name))
		}
		if f := optString(mc.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if mc.URL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(mc.URL))
		}
		return elevenlabs.New(mc.APIKey, opts...)
	})

	for _, name := range reg.TTSBackends() {
		slog.Debug("registered speech backend", "name", name)
	}
}

// buildProvider creates the configured speech backend.
func buildProvider(cfg *config.Config, reg *config.Registry) (tts.Provider, error) {
	p, err := reg.CreateTTS(cfg.Model)
	if errors.Is(err, config.ErrBackendNotRegistered) {
		return nil, fmt.Errorf("unknown model backend %q (available: %v)", cfg.Model.Backend, reg.TTSBackends())
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Model.Backend, err)
	}
	slog.Info("speech backend created", "backend", cfg.Model.Backend)
	return p, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// optString extracts a string value from model.options. Returns "" if the
// map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
