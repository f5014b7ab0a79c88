package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/mimic/internal/app"
	"github.com/MrWong99/mimic/internal/config"
	"github.com/MrWong99/mimic/internal/discord"
	discordmock "github.com/MrWong99/mimic/internal/discord/mock"
	"github.com/MrWong99/mimic/internal/observe"
	"github.com/MrWong99/mimic/pkg/audio"
	audiomock "github.com/MrWong99/mimic/pkg/audio/mock"
	"github.com/MrWong99/mimic/pkg/audio/transcode"
	"github.com/MrWong99/mimic/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mimic/pkg/provider/tts/mock"
)

// fakeGateway records lifecycle calls into a shared event log.
type fakeGateway struct {
	platform *audiomock.Platform
	openErr  error

	mu     sync.Mutex
	events *[]string
	ready  bool
	opened chan struct{}
}

func (g *fakeGateway) Platform() audio.Platform { return g.platform }

func (g *fakeGateway) Open(context.Context) error {
	if g.openErr != nil {
		return g.openErr
	}
	g.mu.Lock()
	g.ready = true
	*g.events = append(*g.events, "gateway.open")
	g.mu.Unlock()
	close(g.opened)
	return nil
}

func (g *fakeGateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = false
	*g.events = append(*g.events, "gateway.close")
	return nil
}

type harness struct {
	app      *app.App
	provider *ttsmock.Provider
	gateway  *fakeGateway
	conn     *audiomock.Connection
	events   []string
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Voices.Dir = t.TempDir()
	cfg.Audio.TempDir = filepath.Join(t.TempDir(), "out")
	cfg.Audio.Transcoder = "wav"
	cfg.Audio.CleanupDelay = 0
	cfg.Discord.GuildID = "guild-1"

	dir := filepath.Join(cfg.Voices.Dir, cfg.Voices.Default)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	wav := audio.EncodeWAV(make([]byte, 4800), audio.Format{SampleRate: 24000, Channels: 1})
	if err := os.WriteFile(filepath.Join(dir, "reference.wav"), wav, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "reference.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, provider *ttsmock.Provider) *harness {
	t.Helper()
	h := &harness{provider: provider, conn: audiomock.NewConnection("voice-1")}
	h.gateway = &fakeGateway{
		platform: &audiomock.Platform{ConnectResult: h.conn},
		events:   &h.events,
		opened:   make(chan struct{}),
	}
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	a, err := app.New(context.Background(), cfg, provider,
		app.WithGateway(func(dc discord.Config, _ *discord.Router) (app.Gateway, error) {
			if dc.GuildID != cfg.Discord.GuildID {
				t.Errorf("gateway guild = %q, want %q", dc.GuildID, cfg.Discord.GuildID)
			}
			return h.gateway, nil
		}),
		app.WithTranscoder(transcode.NewWAV(1)),
		app.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	h.app = a
	return h
}

func TestNew_RegistersCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t), &ttsmock.Provider{})

	var names []string
	for _, c := range h.app.Router().Commands() {
		names = append(names, c.Name)
	}
	want := []string{"tts", "join", "leave", "stop", "voices", "clone", "help"}
	if !slices.Equal(names, want) {
		t.Errorf("commands = %v, want %v", names, want)
	}
	if h.provider.LoadCalls != 0 {
		t.Error("New must not load the model")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(t), nil); err == nil {
		t.Error("expected error for nil provider")
	}

	gwErr := errors.New("bad token")
	_, err := app.New(context.Background(), testConfig(t), &ttsmock.Provider{},
		app.WithGateway(func(discord.Config, *discord.Router) (app.Gateway, error) { return nil, gwErr }),
		app.WithTranscoder(transcode.NewWAV(1)),
	)
	if !errors.Is(err, gwErr) {
		t.Errorf("New: got %v, want gateway error", err)
	}
}

func TestTTS_EndToEnd(t *testing.T) {
	t.Parallel()

	// No guild configured: the bot answers in whatever guild it is used.
	cfg := testConfig(t)
	cfg.Discord.GuildID = ""
	provider := &ttsmock.Provider{SynthesizeResult: tts.Audio{
		PCM:    make([]byte, 4800),
		Format: audio.Format{SampleRate: 24000, Channels: 1},
	}}
	h := newHarness(t, cfg, provider)
	if err := h.app.Generator().Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	chat := &discordmock.Session{
		VoiceChannels: map[string]string{"u1": "voice-7"},
		ChannelNames:  map[string]string{"voice-7": "Lounge"},
	}
	h.app.Router().Handle(chat, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "text-1",
		GuildID:   "g1",
		Content:   "!tts 안녕",
		Author:    &discordgo.User{ID: "u1"},
	}})

	if got := h.gateway.platform.ConnectGuilds(); !slices.Equal(got, []string{"g1"}) {
		t.Errorf("voice join guilds = %v, want [g1]", got)
	}
	if got := h.gateway.platform.ConnectCalls(); !slices.Equal(got, []string{"voice-7"}) {
		t.Errorf("voice join channels = %v, want [voice-7]", got)
	}
	if n := provider.SynthesizeCallCount(); n != 1 || provider.SynthesizeCalls[0].Text != "안녕" {
		t.Errorf("synthesize calls = %+v, want one for 안녕", provider.SynthesizeCalls)
	}

	var generated bool
	for _, r := range chat.Replies() {
		if strings.Contains(r.Content, "Generated") {
			generated = true
		}
	}
	if !generated {
		t.Errorf("replies = %+v, want a Generated acknowledgement", chat.Replies())
	}

	plays := h.conn.PlayCalls()
	if len(plays) != 1 || len(plays[0]) == 0 {
		t.Fatalf("play calls = %d, want one non-empty clip", len(plays))
	}
	// 4800 bytes of 24 kHz mono become 48 kHz stereo: four times the bytes.
	if len(plays[0]) != 4*4800 {
		t.Errorf("played %d bytes, want %d", len(plays[0]), 4*4800)
	}

	entries, err := os.ReadDir(cfg.Audio.TempDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir still holds %d file(s) after playback", len(entries))
	}
}

func TestRun_LifecycleAndShutdownOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t), &ttsmock.Provider{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx) }()

	select {
	case <-h.gateway.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway was not opened")
	}
	if !h.app.Generator().Loaded() {
		t.Error("model not loaded before the gateway opened")
	}
	if _, err := h.app.Session().Join(context.Background(), "guild-1", "voice-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := h.app.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.conn.CallCountDisconnect() != 1 {
		t.Errorf("voice disconnects = %d, want 1", h.conn.CallCountDisconnect())
	}
	if h.app.Session().Connected() {
		t.Error("session still connected")
	}
	if !slices.Equal(h.events, []string{"gateway.open", "gateway.close"}) {
		t.Errorf("events = %v", h.events)
	}
	if h.provider.UnloadCalls != 1 {
		t.Errorf("UnloadCalls = %d, want 1", h.provider.UnloadCalls)
	}

	// Idempotent.
	if err := h.app.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if h.provider.UnloadCalls != 1 {
		t.Errorf("UnloadCalls after second Shutdown = %d, want 1", h.provider.UnloadCalls)
	}
}

func TestRun_ModelLoadFailure(t *testing.T) {
	t.Parallel()
	loadErr := errors.New("cuda out of memory")
	h := newHarness(t, testConfig(t), &ttsmock.Provider{LoadErr: loadErr})

	err := h.app.Run(context.Background())
	if !errors.Is(err, loadErr) {
		t.Fatalf("Run: got %v, want load error", err)
	}
	if h.gateway.Ready() {
		t.Error("gateway opened although the model failed to load")
	}
}

func TestRun_GatewayFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t), &ttsmock.Provider{})
	h.gateway.openErr = errors.New("invalid token")

	if err := h.app.Run(context.Background()); !errors.Is(err, h.gateway.openErr) {
		t.Fatalf("Run: got %v, want open error", err)
	}
}

func TestHandler_HealthEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(t), &ttsmock.Provider{})
	srv := httptest.NewServer(h.app.Handler())
	t.Cleanup(srv.Close)

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before load = %d, want 503", code)
	}

	if err := h.app.Generator().Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.gateway.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if code := get("/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after load = %d, want 200", code)
	}
	if code := get("/statusz"); code != http.StatusOK {
		t.Errorf("/statusz = %d", code)
	}
	if code := get("/metrics"); code != http.StatusOK {
		t.Errorf("/metrics = %d", code)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]string{
		config.LogDebug: "DEBUG",
		config.LogInfo:  "INFO",
		config.LogWarn:  "WARN",
		config.LogError: "ERROR",
		"":              "INFO",
	}
	for in, want := range tests {
		if got := app.SlogLevel(in).String(); got != want {
			t.Errorf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
