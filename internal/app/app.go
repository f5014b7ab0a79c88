// Package app wires the mimic subsystems into a running bot.
//
// The App owns every lifetime: New constructs the voice store, speech
// generator, transcoder, command router, Discord gateway and channel
// session; Run loads the model, opens the gateway and serves HTTP until the
// context is cancelled; Shutdown tears everything down in order.
//
// Tests inject doubles through functional options ([WithGateway],
// [WithTranscoder], [WithMetrics]).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mimic/internal/config"
	"github.com/MrWong99/mimic/internal/discord"
	"github.com/MrWong99/mimic/internal/discord/commands"
	"github.com/MrWong99/mimic/internal/health"
	"github.com/MrWong99/mimic/internal/observe"
	"github.com/MrWong99/mimic/internal/playback"
	"github.com/MrWong99/mimic/internal/speech"
	"github.com/MrWong99/mimic/internal/voice"
	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/audio/transcode"
	"github.com/MrWong99/mimic/pkg/provider/tts"
)

// Gateway is the chat connection the bot serves. *discord.Bot implements it.
type Gateway interface {
	Platform() audio.Platform
	Open(ctx context.Context) error
	Ready() bool
	Close() error
}

// GatewayFactory creates the gateway after the router has all commands.
type GatewayFactory func(cfg discord.Config, router *discord.Router) (Gateway, error)

func discordGateway(cfg discord.Config, router *discord.Router) (Gateway, error) {
	bot, err := discord.New(cfg, router)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	logLevel *slog.LevelVar
	metrics  *observe.Metrics

	provider   tts.Provider
	store      *voice.Store
	generator  *speech.Generator
	transcoder transcode.Transcoder
	perms      *discord.PermissionChecker
	router     *discord.Router
	gateway    Gateway
	session    *playback.Session

	newGateway     GatewayFactory
	metricsHandler http.Handler
	configPath     string
	server         *http.Server
	listener       net.Listener

	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithGateway replaces the Discord gateway factory.
func WithGateway(f GatewayFactory) Option {
	return func(a *App) { a.newGateway = f }
}

// WithTranscoder injects a transcoder instead of building one from config.
func WithTranscoder(t transcode.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler. Defaults to the Prometheus
// default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets hot reload adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigWatch enables hot reload of the YAML file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New wires the subsystems. The provider comes from the config registry. No
// network connection is made; see [App.Run].
func New(ctx context.Context, cfg *config.Config, provider tts.Provider, opts ...Option) (*App, error) {
	if provider == nil {
		return nil, errors.New("app: speech provider is required")
	}
	a := &App{
		cfg:        cfg,
		provider:   provider,
		newGateway: discordGateway,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.logLevel == nil {
		a.logLevel = new(slog.LevelVar)
	}

	var err error
	if a.store, err = voice.NewStore(cfg.Voices.Dir, cfg.Voices.Default); err != nil {
		return nil, fmt.Errorf("app: voice store: %w", err)
	}
	if a.transcoder == nil {
		if a.transcoder, err = transcode.New(cfg.Audio.Transcoder, cfg.Audio.FFmpegPath, cfg.Audio.Volume); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	a.generator, err = speech.New(provider, a.store, cfg.Audio.TempDir,
		speech.WithMetrics(a.metrics),
		speech.WithProviderName(cfg.Model.Backend),
		speech.WithTimeout(cfg.Model.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("app: speech generator: %w", err)
	}

	a.perms = discord.NewPermissionChecker(cfg.Discord.AdminIDs, cfg.Discord.AdminRoleID)
	a.router = discord.NewRouter(cfg.Discord.Prefix, a.perms,
		discord.WithGuild(cfg.Discord.GuildID),
		discord.WithMetrics(a.metrics),
		discord.WithBaseContext(ctx),
	)

	a.gateway, err = a.newGateway(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, a.router)
	if err != nil {
		return nil, fmt.Errorf("app: gateway: %w", err)
	}

	a.session = playback.New(a.gateway.Platform(), a.transcoder,
		playback.WithCleanupDelay(cfg.Audio.CleanupDelay),
		playback.WithMetrics(a.metrics),
	)

	commands.New(commands.Config{
		Speaker:    a.generator,
		Player:     a.session,
		Profiles:   a.store,
		Normalizer: a.transcoder,
	}).Register(a.router)

	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return a, nil
}

// Handler returns the HTTP mux: health endpoints plus Prometheus metrics,
// wrapped in the tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New([]health.Checker{
		health.Flag("model", a.generator.Loaded),
		health.Flag("discord", a.gateway.Ready),
	}, health.WithStatus(a.status)).Register(mux)
	metrics := a.metricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) status() map[string]any {
	return map[string]any{
		"backend":       a.cfg.Model.Backend,
		"default_voice": a.store.Default(),
		"prefix":        a.router.Prefix(),
		"channel":       a.session.ChannelID(),
		"playing":       a.session.Playing(),
		"cached_voices": a.generator.CachedVoices(),
	}
}

// Router returns the command router.
func (a *App) Router() *discord.Router { return a.router }

// Session returns the channel session.
func (a *App) Session() *playback.Session { return a.session }

// Generator returns the speech generator.
func (a *App) Generator() *speech.Generator { return a.generator }

// Run loads the model, opens the gateway and blocks until ctx is cancelled
// or a startup step fails. The HTTP server, when configured, is up before
// the model finishes loading so /readyz can report progress.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.listener = ln
		slog.Info("http server listening", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		start := time.Now()
		slog.Info("loading speech model", "backend", a.cfg.Model.Backend)
		if err := a.generator.Load(gctx); err != nil {
			return fmt.Errorf("app: load model: %w", err)
		}
		slog.Info("speech model loaded", "backend", a.cfg.Model.Backend, "elapsed", time.Since(start).Round(time.Millisecond))
		a.checkDefaultVoice()

		if err := a.gateway.Open(gctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		if a.configPath != "" {
			w, err := config.NewWatcher(a.configPath, a.applyReload)
			if err != nil {
				return err
			}
			g.Go(func() error { return w.Run(gctx) })
		}
		slog.Info("bot ready", "prefix", a.router.Prefix(), "default_voice", a.store.Default())
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Addr returns the bound HTTP address once Run is listening.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) checkDefaultVoice() {
	name := a.store.Default()
	if name == "" {
		slog.Warn("no default voice configured; speak commands must name a voice")
		return
	}
	if _, err := a.store.Read(name); err != nil {
		slog.Warn("default voice profile is not usable", "voice", name, "err", err)
	}
}

// applyReload is the watcher callback for a changed config file.
func (a *App) applyReload(old, cur *config.Config) {
	d := config.Diff(old, cur)
	if d.LogLevelChanged {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level", "level", d.NewLogLevel)
	}
	if d.DefaultVoiceChanged {
		a.store.SetDefault(d.NewDefaultVoice)
		slog.Info("config reload: default voice", "voice", d.NewDefaultVoice)
		a.checkDefaultVoice()
	}
	if d.AdminsChanged {
		a.perms.SetAdmins(d.NewAdminIDs)
		slog.Info("config reload: admins", "count", len(d.NewAdminIDs))
	}
	if d.PrefixChanged {
		a.router.SetPrefix(d.NewPrefix)
		slog.Info("config reload: prefix", "prefix", d.NewPrefix)
	}
	if d.VolumeChanged {
		a.transcoder.SetVolume(d.NewVolume)
		slog.Info("config reload: volume", "volume", d.NewVolume)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "fields", d.RestartRequired)
	}
}

// Shutdown disconnects from the voice channel, closes the gateway and
// unloads the model, in that order. Steps left when ctx expires are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		steps := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"voice session", a.session.Close},
			{"gateway", func(context.Context) error { return a.gateway.Close() }},
			{"speech model", a.generator.Unload},
		}
		for i, s := range steps {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(steps)-i)
				errs = append(errs, err)
				return
			}
			if err := s.fn(ctx); err != nil {
				slog.Warn("shutdown step failed", "step", s.name, "err", err)
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// SlogLevel maps a config log level to slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
