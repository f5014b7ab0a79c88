// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio and to verify which references and
// texts reach the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: tts.Audio{PCM: pcm, Format: audio.Format{SampleRate: 24000, Channels: 1}},
//	}
//	gen := speech.New(p, store, tempDir)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/mimic/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Prompt is the prompt passed to Synthesize.
	Prompt tts.Prompt
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// LoadErr, if non-nil, is returned from Load.
	LoadErr error

	// UnloadErr, if non-nil, is returned from Unload.
	UnloadErr error

	// BuildPromptErr, if non-nil, is returned from BuildPrompt.
	BuildPromptErr error

	// BuildPromptDelay is slept (or until ctx is done) inside BuildPrompt.
	BuildPromptDelay time.Duration

	// SynthesizeResult is returned by Synthesize.
	SynthesizeResult tts.Audio

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// --- Call records ---

	// LoadCalls counts calls to Load.
	LoadCalls int

	// UnloadCalls counts calls to Unload.
	UnloadCalls int

	// BuildPromptCalls records every reference passed to BuildPrompt in order.
	BuildPromptCalls []tts.Reference

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Load implements tts.Provider.
func (p *Provider) Load(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadCalls++
	return p.LoadErr
}

// Unload implements tts.Provider.
func (p *Provider) Unload(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UnloadCalls++
	return p.UnloadErr
}

// BuildPrompt implements tts.Provider. The returned prompt carries the
// reference transcript in ID so tests can tell prompts apart.
func (p *Provider) BuildPrompt(ctx context.Context, ref tts.Reference) (tts.Prompt, error) {
	p.mu.Lock()
	p.BuildPromptCalls = append(p.BuildPromptCalls, ref)
	delay, err := p.BuildPromptDelay, p.BuildPromptErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tts.Prompt{}, ctx.Err()
		}
	}
	if err != nil {
		return tts.Prompt{}, err
	}
	return tts.Prompt{Voice: ref.Name, ID: ref.Transcript}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, text string, prompt tts.Prompt) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Prompt: prompt})
	if p.SynthesizeErr != nil {
		return tts.Audio{}, p.SynthesizeErr
	}
	return p.SynthesizeResult, nil
}

// BuildPromptCallCount returns the number of BuildPrompt calls so far.
func (p *Provider) BuildPromptCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.BuildPromptCalls)
}

// SynthesizeCallCount returns the number of Synthesize calls so far.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadCalls = 0
	p.UnloadCalls = 0
	p.BuildPromptCalls = nil
	p.SynthesizeCalls = nil
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)
