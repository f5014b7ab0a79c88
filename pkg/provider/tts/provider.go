// Package tts defines the Provider interface for voice-cloning text-to-speech
// backends.
//
// A provider wraps a speech model hosted outside this process (a local model
// server or a cloud API). Synthesis is a two-step affair: a voice-conditioning
// [Prompt] is built once from a reference recording and its transcript, then
// reused for every utterance spoken in that voice. Building the prompt is the
// expensive part, so callers are expected to cache it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MrWong99/mimic/pkg/audio"
)

// ErrEmptyText is returned by Synthesize when text is blank.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Reference is the input for a voice-conditioning prompt: a short recording of
// the target speaker and what is said in it.
type Reference struct {
	// Name is the voice profile name. Backends that register voices remotely
	// use it as the display name.
	Name string

	// AudioPath is the path of the reference WAV file.
	AudioPath string

	// Transcript is the text spoken in the reference recording.
	Transcript string
}

// Prompt is a backend-specific voice-conditioning prompt. Callers treat it as
// opaque and hand it back to the provider that built it.
type Prompt struct {
	// Voice is the profile name the prompt was built from.
	Voice string

	// ID is a server-side handle for the prompt, if the backend keeps one.
	ID string

	// Data carries an inline conditioning payload, if the backend returns one.
	Data json.RawMessage
}

// Audio is one synthesised utterance as 16-bit little-endian PCM.
type Audio struct {
	PCM    []byte
	Format audio.Format
}

// Provider is the abstraction over any voice-cloning TTS backend.
type Provider interface {
	// Load makes the model ready for synthesis. For self-hosted backends this
	// loads the weights onto the configured device, which may take minutes.
	Load(ctx context.Context) error

	// Unload releases the model and any server-side state created by this
	// process. It is called once on shutdown.
	Unload(ctx context.Context) error

	// BuildPrompt derives a voice-conditioning prompt from ref.
	BuildPrompt(ctx context.Context, ref Reference) (Prompt, error)

	// Synthesize speaks text in the voice described by p. It invokes the
	// model exactly once.
	Synthesize(ctx context.Context, text string, p Prompt) (Audio, error)
}
