package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/mimic/internal/config"
	"github.com/MrWong99/mimic/internal/discord"
	"github.com/MrWong99/mimic/internal/observe"
	"github.com/MrWong99/mimic/pkg/audio"
	audiomock "github.com/MrWong99/mimic/pkg/audio/mock"
	"github.com/MrWong99/mimic/pkg/audio/transcode"
	ttsmock "github.com/MrWong99/mimic/pkg/provider/tts/mock"
)

type stubGateway struct{ platform audio.Platform }

func (g stubGateway) Platform() audio.Platform { return g.platform }
func (stubGateway) Open(context.Context) error { return nil }
func (stubGateway) Ready() bool                { return true }
func (stubGateway) Close() error               { return nil }

// volumeSpy records SetVolume calls.
type volumeSpy struct {
	*transcode.WAV
	volume float64
}

func (v *volumeSpy) SetVolume(f float64) { v.volume = f }

func TestApplyReload(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Voices.Dir = t.TempDir()
	cfg.Audio.TempDir = t.TempDir()
	cfg.Discord.AdminIDs = []string{"1"}

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	spy := &volumeSpy{WAV: transcode.NewWAV(1)}
	lv := new(slog.LevelVar)
	a, err := New(context.Background(), cfg, &ttsmock.Provider{},
		WithGateway(func(discord.Config, *discord.Router) (Gateway, error) {
			return stubGateway{platform: &audiomock.Platform{}}, nil
		}),
		WithTranscoder(spy),
		WithMetrics(metrics),
		WithLogLevel(lv),
	)
	if err != nil {
		t.Fatal(err)
	}

	cur := config.Defaults()
	cur.Voices.Dir = cfg.Voices.Dir
	cur.Audio.TempDir = cfg.Audio.TempDir
	cur.Server.LogLevel = config.LogDebug
	cur.Voices.Default = "minsu"
	cur.Discord.AdminIDs = []string{"2"}
	cur.Discord.Prefix = "?"
	cur.Audio.Volume = 0.25
	cur.Model.Device = "cpu"

	a.applyReload(cfg, cur)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	if got := a.store.Default(); got != "minsu" {
		t.Errorf("default voice = %q, want minsu", got)
	}
	if a.perms.IsAdmin("1", nil) || !a.perms.IsAdmin("2", &discordgo.Member{}) {
		t.Error("admin list not swapped")
	}
	if got := a.router.Prefix(); got != "?" {
		t.Errorf("prefix = %q, want ?", got)
	}
	if spy.volume != 0.25 {
		t.Errorf("volume = %v, want 0.25", spy.volume)
	}
}
