package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mimic/internal/config"
	"github.com/MrWong99/mimic/internal/speech"
	"github.com/MrWong99/mimic/internal/voice"
	"github.com/MrWong99/mimic/pkg/provider/tts"
)

func newSayCmd(opts *rootOptions) *cobra.Command {
	var voiceName, out string
	cmd := &cobra.Command{
		Use:   "say [flags] <text>",
		Short: "Synthesize text to a WAV file without connecting to Discord",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			newLogger(cfg.Server.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			provider, err := buildProvider(cfg, reg)
			if err != nil {
				return err
			}
			path, err := say(ctx, cfg, provider, strings.Join(args, " "), voiceName, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&voiceName, "voice", "", "voice profile (default: voices.default)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output WAV path (default: a new file in audio.temp_dir)")
	return cmd
}

// say loads the model, renders text once and unloads. It returns the path of
// the written WAV file.
func say(ctx context.Context, cfg *config.Config, provider tts.Provider, text, voiceName, out string) (path string, err error) {
	store, err := voice.NewStore(cfg.Voices.Dir, cfg.Voices.Default)
	if err != nil {
		return "", err
	}
	gen, err := speech.New(provider, store, cfg.Audio.TempDir,
		speech.WithProviderName(cfg.Model.Backend),
		speech.WithTimeout(cfg.Model.Timeout),
	)
	if err != nil {
		return "", err
	}
	if err := gen.Load(ctx); err != nil {
		return "", fmt.Errorf("load model: %w", err)
	}
	defer func() {
		if uerr := gen.Unload(context.WithoutCancel(ctx)); uerr != nil && err == nil {
			err = fmt.Errorf("unload model: %w", uerr)
		}
	}()

	path, err = gen.Synthesize(ctx, text, voiceName)
	if err != nil {
		return "", err
	}
	if out == "" {
		return path, nil
	}
	if err := moveFile(path, out); err != nil {
		return "", err
	}
	return out, nil
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return os.Remove(src)
}
