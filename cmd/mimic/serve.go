package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mimic/internal/app"
	"github.com/MrWong99/mimic/internal/config"
	"github.com/MrWong99/mimic/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, path, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return errors.New("DISCORD_TOKEN is not set (discord.token in config)")
	}

	logLevel := newLogger(cfg.Server.LogLevel)
	slog.Info("mimic starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := buildProvider(cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cmd, cfg)

	appOpts := []app.Option{
		app.WithLogLevel(logLevel),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
	if path != "" {
		appOpts = append(appOpts, app.WithConfigWatch(path))
	}
	application, err := app.New(ctx, cfg, provider, appOpts...)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)
	if runErr == nil {
		slog.Info("shutdown signal received, stopping…")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := application.Shutdown(shutdownCtx)

	if runErr != nil {
		return runErr
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	slog.Info("goodbye")
	return nil
}

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	w := cmd.OutOrStdout()
	row := func(label, value string) {
		if value == "" {
			value = "(not set)"
		}
		if len([]rune(value)) > 24 {
			value = string([]rune(value)[:23]) + "…"
		}
		fmt.Fprintf(w, "║  %-14s : %-24s ║\n", label, value)
	}
	fmt.Fprintln(w, "╔════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           mimic — startup summary          ║")
	fmt.Fprintln(w, "╠════════════════════════════════════════════╣")
	row("Backend", cfg.Model.Backend)
	row("Device", cfg.Model.Device)
	row("Default voice", cfg.Voices.Default)
	row("Voices dir", cfg.Voices.Dir)
	row("Transcoder", cfg.Audio.Transcoder)
	row("Prefix", cfg.Discord.Prefix)
	row("Guild", cfg.Discord.GuildID)
	row("Admins", fmt.Sprintf("%d", len(cfg.Discord.AdminIDs)))
	row("Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚════════════════════════════════════════════╝")
}
