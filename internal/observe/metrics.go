// Package observe wires OpenTelemetry metrics and traces into mimic and
// ties them to slog and the HTTP server. [InitProvider] exports metrics in
// Prometheus format for /metrics. Components default to [DefaultMetrics];
// tests pass their own meter provider to [NewMetrics].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/mimic"

// Metrics holds the OpenTelemetry instruments mimic records to. The
// instruments synchronise themselves.
type Metrics struct {
	// SynthesisDuration is one model invocation, prompt build excluded.
	// Attribute: voice.
	SynthesisDuration metric.Float64Histogram
	// PromptBuildDuration is building a voice-conditioning prompt.
	PromptBuildDuration metric.Float64Histogram
	// PlaybackDuration is the time a clip spent streaming into a channel.
	PlaybackDuration metric.Float64Histogram
	// HTTPRequestDuration is set by [Middleware]. Attributes: method, route, code.
	HTTPRequestDuration metric.Float64Histogram

	// ProviderRequests counts backend calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter
	// ProviderErrors counts failed backend calls. Attributes: provider, kind.
	ProviderErrors    metric.Int64Counter
	PromptCacheHits   metric.Int64Counter
	PromptCacheMisses metric.Int64Counter
	// Commands counts chat commands. Attributes: command, status.
	Commands metric.Int64Counter
	// Playbacks counts finished playbacks. Attribute: status.
	Playbacks metric.Int64Counter

	VoiceConnections metric.Int64UpDownCounter
}

// latencyBuckets (seconds) span a short prompt build up to a minute-long clip.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error

	histogram := func(name, desc string, buckets ...float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	met := &Metrics{
		SynthesisDuration:   histogram("mimic.synthesis.duration", "Latency of one speech model invocation.", latencyBuckets...),
		PromptBuildDuration: histogram("mimic.prompt_build.duration", "Latency of building a voice-conditioning prompt.", latencyBuckets...),
		PlaybackDuration:    histogram("mimic.playback.duration", "Time spent streaming a clip into the voice channel.", latencyBuckets...),
		HTTPRequestDuration: histogram("mimic.http.request.duration", "HTTP request latency by method, route and code."),

		ProviderRequests:  counter("mimic.provider.requests", "Model backend requests by provider, kind and status."),
		ProviderErrors:    counter("mimic.provider.errors", "Model backend errors by provider and kind."),
		PromptCacheHits:   counter("mimic.prompt_cache.hits", "Synthesis requests that reused a cached prompt."),
		PromptCacheMisses: counter("mimic.prompt_cache.misses", "Synthesis requests that had to build a prompt."),
		Commands:          counter("mimic.commands", "Chat commands by command and status."),
		Playbacks:         counter("mimic.playbacks", "Finished playbacks by status."),
	}
	var err error
	met.VoiceConnections, err = meter.Int64UpDownCounter("mimic.voice_connections",
		metric.WithDescription("Open voice channel connections."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on [otel.GetMeterProvider],
// created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Status maps an error to the "status" attribute value used by counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}

// RecordPromptCache records a prompt cache lookup for voice.
func (m *Metrics) RecordPromptCache(ctx context.Context, voice string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("voice", voice))
	if hit {
		m.PromptCacheHits.Add(ctx, 1, attrs)
		return
	}
	m.PromptCacheMisses.Add(ctx, 1, attrs)
}
