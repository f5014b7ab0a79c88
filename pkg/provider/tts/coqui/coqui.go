// Package coqui provides a tts.Provider backed by a Coqui XTTS v2 streaming
// server (github.com/coqui-ai/xtts-streaming-server).
//
// XTTS conditions on speaker latents rather than a server-side handle, so the
// prompt built by BuildPrompt carries the latents inline and they are sent
// back with every synthesis request:
//
//	GET  /languages       reachability check used by Load
//	POST /clone_speaker   multipart wav_file → {"gpt_cond_latent": ..., "speaker_embedding": ...}
//	POST /tts             {"text", "language", "speaker_embedding", "gpt_cond_latent", "add_wav_header"} → base64 WAV
//
// XTTS ignores reference transcripts.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:8000",
//	    coqui.WithLanguage("ko"),
//	    coqui.WithTimeout(60*time.Second),
//	)
package coqui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 120 * time.Second

	languagesEndpoint    = "/languages"
	cloneSpeakerEndpoint = "/clone_speaker"
	ttsEndpoint          = "/tts"

	// errorBodyLimit bounds how much of a failed response ends up in errors.
	errorBodyLimit = 512
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the XTTS language code, such as "ko". Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP call. Default 120s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// Provider talks to one XTTS streaming server. It is safe for concurrent use.
type Provider struct {
	baseURL  string
	language string
	client   *http.Client
}

// New returns a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// latents are the conditioning tensors /clone_speaker returns, kept as raw
// JSON and echoed back to /tts.
type latents struct {
	GPTCondLatent    json.RawMessage `json:"gpt_cond_latent"`
	SpeakerEmbedding json.RawMessage `json:"speaker_embedding"`
}

type ttsRequest struct {
	Text             string          `json:"text"`
	Language         string          `json:"language"`
	SpeakerEmbedding json.RawMessage `json:"speaker_embedding"`
	GPTCondLatent    json.RawMessage `json:"gpt_cond_latent"`
	AddWAVHeader     bool            `json:"add_wav_header"`
}

// Load verifies the server answers and offers the configured language. The
// server loads its model on startup.
func (p *Provider) Load(ctx context.Context) error {
	var langs []string
	if err := p.call(ctx, http.MethodGet, languagesEndpoint, "", nil, &langs); err != nil {
		return err
	}
	if !slices.Contains(langs, p.language) {
		return fmt.Errorf("coqui: server does not offer language %q (has %v)", p.language, langs)
	}
	return nil
}

// Unload does nothing; prompts are self-contained and the server keeps its
// model.
func (p *Provider) Unload(context.Context) error { return nil }

// BuildPrompt uploads the reference clip and stores the returned latents as
// the prompt payload.
func (p *Provider) BuildPrompt(ctx context.Context, ref tts.Reference) (tts.Prompt, error) {
	body, contentType, err := referenceForm(ref.AudioPath)
	if err != nil {
		return tts.Prompt{}, err
	}
	var raw json.RawMessage
	if err := p.call(ctx, http.MethodPost, cloneSpeakerEndpoint, contentType, body, &raw); err != nil {
		return tts.Prompt{}, err
	}
	var l latents
	if err := json.Unmarshal(raw, &l); err != nil {
		return tts.Prompt{}, fmt.Errorf("coqui: decode latents: %w", err)
	}
	if len(l.GPTCondLatent) == 0 || len(l.SpeakerEmbedding) == 0 {
		return tts.Prompt{}, errors.New("coqui: clone_speaker returned no latents")
	}
	return tts.Prompt{Voice: ref.Name, Data: raw}, nil
}

// referenceForm reads the clip at path into a multipart body with a single
// wav_file part.
func referenceForm(path string) (io.Reader, string, error) {
	wav, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: read reference audio: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("wav_file", filepath.Base(path))
	if err == nil {
		_, err = part.Write(wav)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("coqui: build upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// Synthesize renders text with the latents in prompt. The server answers
// with a JSON string holding a base64 WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, prompt tts.Prompt) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	var l latents
	if err := json.Unmarshal(prompt.Data, &l); err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: prompt for %q holds no XTTS latents: %w", prompt.Voice, err)
	}
	payload, err := json.Marshal(ttsRequest{
		Text:             text,
		Language:         p.language,
		SpeakerEmbedding: l.SpeakerEmbedding,
		GPTCondLatent:    l.GPTCondLatent,
		AddWAVHeader:     true,
	})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: encode request: %w", err)
	}

	var encoded string
	if err := p.call(ctx, http.MethodPost, ttsEndpoint, "application/json", bytes.NewReader(payload), &encoded); err != nil {
		return tts.Audio{}, err
	}
	wav, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: decode base64 audio: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: %w", err)
	}
	return tts.Audio{PCM: pcm, Format: format}, nil
}

// call sends one request and decodes a 200 JSON answer into out. Other
// statuses become errors carrying the start of the response body.
func (p *Provider) call(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("coqui: %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("coqui: %s %s: status %d: %s", method, endpoint, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coqui: %s %s: decode response: %w", method, endpoint, err)
	}
	return nil
}
