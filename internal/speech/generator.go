// Package speech turns text into WAV files spoken in a cloned voice.
//
// The [Generator] sits between the chat commands and a [tts.Provider]. It
// resolves voice profiles, keeps one voice-conditioning prompt per profile
// for the lifetime of the process and writes every utterance to a fresh file
// in the temp directory. Deleting that file is the caller's job.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/mimic/internal/observe"
	"github.com/MrWong99/mimic/internal/voice"
	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/provider/tts"
)

var (
	// ErrNotLoaded is returned by Synthesize before Load succeeded or after
	// Unload.
	ErrNotLoaded = errors.New("speech: model not loaded")

	// ErrEmptyText is returned by Synthesize for blank text.
	ErrEmptyText = errors.New("speech: text is empty")

	// ErrNoVoice is returned when no voice is given and no default is set.
	ErrNoVoice = errors.New("speech: no voice selected and no default voice configured")
)

// maxNameAttempts bounds the numeric suffixes tried when two files are
// created in the same millisecond.
const maxNameAttempts = 1000

// ProfileReader resolves voice profiles. *voice.Store implements it.
type ProfileReader interface {
	Read(name string) (voice.Profile, error)
	Default() string
}

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithProviderName sets the provider label used on metrics.
func WithProviderName(name string) Option {
	return func(g *Generator) {
		g.providerName = name
	}
}

// WithTimeout bounds each model invocation. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		g.timeout = d
	}
}

// WithClock overrides the time source used to name output files.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// Generator produces speech files from text. It is safe for concurrent use.
type Generator struct {
	provider     tts.Provider
	providerName string
	profiles     ProfileReader
	tempDir      string
	metrics      *observe.Metrics
	timeout      time.Duration
	now          func() time.Time

	// loadMu serialises Load and Unload; loaded is read under it by
	// Synthesize.
	loadMu sync.RWMutex
	loaded bool

	cacheMu sync.Mutex
	prompts map[string]tts.Prompt
	// gen is bumped by ClearPrompts so builds that started before a clear do
	// not repopulate the cache with a stale prompt.
	gen uint64

	builds singleflight.Group
}

// New creates a Generator writing output files to tempDir, which is created
// if missing.
func New(provider tts.Provider, profiles ProfileReader, tempDir string, opts ...Option) (*Generator, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("speech: create temp dir %q: %w", tempDir, err)
	}
	g := &Generator{
		provider:     provider,
		providerName: "tts",
		profiles:     profiles,
		tempDir:      tempDir,
		now:          time.Now,
		prompts:      make(map[string]tts.Prompt),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g, nil
}

// TempDir returns the directory output files are written to.
func (g *Generator) TempDir() string { return g.tempDir }

// Load loads the model. Calling Load on a loaded generator is a no-op.
func (g *Generator) Load(ctx context.Context) error {
	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	if g.loaded {
		observe.Logger(ctx).Info("speech: model already loaded")
		return nil
	}

	start := time.Now()
	observe.Logger(ctx).Info("speech: loading model", "provider", g.providerName)
	if err := g.provider.Load(ctx); err != nil {
		g.metrics.RecordProviderError(ctx, g.providerName, "load")
		return fmt.Errorf("speech: load model: %w", err)
	}
	g.loaded = true
	observe.Logger(ctx).Info("speech: model loaded", "provider", g.providerName, "took", time.Since(start))
	return nil
}

// Unload releases the model and drops all cached prompts. It is a no-op when
// nothing is loaded.
func (g *Generator) Unload(ctx context.Context) error {
	g.loadMu.Lock()
	defer g.loadMu.Unlock()
	if !g.loaded {
		return nil
	}
	g.loaded = false
	g.ClearPrompts()
	if err := g.provider.Unload(ctx); err != nil {
		g.metrics.RecordProviderError(ctx, g.providerName, "unload")
		return fmt.Errorf("speech: unload model: %w", err)
	}
	observe.Logger(ctx).Info("speech: model unloaded")
	return nil
}

// Loaded reports whether the model is ready for synthesis.
func (g *Generator) Loaded() bool {
	g.loadMu.RLock()
	defer g.loadMu.RUnlock()
	return g.loaded
}

// Synthesize speaks text in the voice profile voiceName (the default profile
// when empty), writes the result to a new WAV file in the temp directory and
// returns its path. A missing profile fails with [voice.ErrNotFound] before
// the model is touched. The model is invoked exactly once per call.
func (g *Generator) Synthesize(ctx context.Context, text, voiceName string) (string, error) {
	g.loadMu.RLock()
	defer g.loadMu.RUnlock()
	if !g.loaded {
		return "", ErrNotLoaded
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if voiceName == "" {
		voiceName = g.profiles.Default()
	}
	if voiceName == "" {
		return "", ErrNoVoice
	}

	ctx, span := observe.StartSpan(ctx, "speech.Synthesize", trace.WithAttributes(
		attribute.String("voice", voiceName),
		attribute.Int("text.length", len(text)),
	))
	defer span.End()

	profile, err := g.profiles.Read(voiceName)
	if err != nil {
		observe.SpanError(span, err)
		return "", fmt.Errorf("speech: %w", err)
	}

	prompt, err := g.prompt(ctx, profile)
	if err != nil {
		observe.SpanError(span, err)
		return "", err
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	observe.Logger(ctx).Info("speech: generating", "voice", voiceName, "text", preview(text, 50))
	start := time.Now()
	out, err := g.provider.Synthesize(callCtx, text, prompt)
	g.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("voice", voiceName)))
	g.metrics.RecordProviderRequest(ctx, g.providerName, "synthesize", observe.Status(err))
	if err != nil {
		g.metrics.RecordProviderError(ctx, g.providerName, "synthesize")
		observe.SpanError(span, err)
		return "", fmt.Errorf("speech: synthesize with voice %q: %w", voiceName, err)
	}
	if len(out.PCM) == 0 {
		return "", fmt.Errorf("speech: synthesize with voice %q: model returned no audio", voiceName)
	}

	path, err := g.writeOutput(audio.EncodeWAV(out.PCM, out.Format))
	if err != nil {
		observe.SpanError(span, err)
		return "", err
	}
	observe.Logger(ctx).Info("speech: audio saved", "path", path, "format", out.Format.String())
	return path, nil
}

// ClearPrompts drops the cached prompts of the given voices, or of every
// voice when called without arguments. The next request for a cleared voice
// rebuilds its prompt.
func (g *Generator) ClearPrompts(names ...string) {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	g.gen++
	if len(names) == 0 {
		clear(g.prompts)
		return
	}
	for _, n := range names {
		delete(g.prompts, n)
	}
}

// CachedVoices returns the names of voices with a cached prompt, sorted.
func (g *Generator) CachedVoices() []string {
	g.cacheMu.Lock()
	defer g.cacheMu.Unlock()
	out := make([]string, 0, len(g.prompts))
	for n := range g.prompts {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// prompt returns the cached prompt for profile or builds it. Concurrent
// builds for the same voice share one provider call.
func (g *Generator) prompt(ctx context.Context, profile voice.Profile) (tts.Prompt, error) {
	g.cacheMu.Lock()
	p, ok := g.prompts[profile.Name]
	gen := g.gen
	g.cacheMu.Unlock()
	g.metrics.RecordPromptCache(ctx, profile.Name, ok)
	if ok {
		return p, nil
	}

	key := profile.Name + "\x00" + strconv.FormatUint(gen, 10)
	v, err, shared := g.builds.Do(key, func() (any, error) {
		ctx, span := observe.StartSpan(ctx, "speech.BuildPrompt",
			trace.WithAttributes(attribute.String("voice", profile.Name)))
		defer span.End()

		start := time.Now()
		p, err := g.provider.BuildPrompt(ctx, tts.Reference{
			Name:       profile.Name,
			AudioPath:  profile.AudioPath,
			Transcript: profile.Transcript,
		})
		g.metrics.PromptBuildDuration.Record(ctx, time.Since(start).Seconds())
		g.metrics.RecordProviderRequest(ctx, g.providerName, "build_prompt", observe.Status(err))
		if err != nil {
			g.metrics.RecordProviderError(ctx, g.providerName, "build_prompt")
			observe.SpanError(span, err)
			return nil, fmt.Errorf("speech: build prompt for voice %q: %w", profile.Name, err)
		}

		g.cacheMu.Lock()
		if g.gen == gen {
			g.prompts[profile.Name] = p
		}
		g.cacheMu.Unlock()
		observe.Logger(ctx).Info("speech: prompt cached", "voice", profile.Name, "took", time.Since(start))
		return p, nil
	})
	if err != nil {
		return tts.Prompt{}, err
	}
	if shared {
		observe.Logger(ctx).Debug("speech: joined in-flight prompt build", "voice", profile.Name)
	}
	return v.(tts.Prompt), nil
}

// writeOutput stores wav as output_<unix millis>.wav in the temp directory.
// The file is created exclusively; a numeric suffix is appended if another
// request got the same millisecond.
func (g *Generator) writeOutput(wav []byte) (string, error) {
	stamp := strconv.FormatInt(g.now().UnixMilli(), 10)
	for i := range maxNameAttempts {
		name := "output_" + stamp + ".wav"
		if i > 0 {
			name = "output_" + stamp + "_" + strconv.Itoa(i) + ".wav"
		}
		path := filepath.Join(g.tempDir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("speech: create output file: %w", err)
		}
		_, werr := f.Write(wav)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return "", fmt.Errorf("speech: write output file: %w", werr)
		}
		return path, nil
	}
	return "", fmt.Errorf("speech: no free output file name for timestamp %s", stamp)
}

// preview shortens s to at most n runes for logging.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
