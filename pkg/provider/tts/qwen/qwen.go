// Package qwen provides a tts.Provider backed by a Qwen3-TTS model server.
//
// The model runs in a sidecar process that owns the GPU; this package talks to
// it over a small JSON/HTTP API:
//
//	POST /v1/model/load    {"model": "...", "device": "cuda:0"}
//	POST /v1/prompts       multipart: audio (WAV), transcript, name → {"prompt_id": "..."}
//	POST /v1/generate      {"text": "...", "prompt_id": "...", "language": "Korean"} → audio/wav
//	POST /v1/model/unload
//
// Typical usage:
//
//	p, err := qwen.New("http://localhost:8880",
//	    qwen.WithModel(qwen.ModelName("1.7B")),
//	    qwen.WithDevice("cuda:0"),
//	)
//	err = p.Load(ctx)
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultSize     = "1.7B"
	defaultDevice   = "cuda:0"
	defaultLanguage = "Korean"

	loadEndpoint     = "/v1/model/load"
	unloadEndpoint   = "/v1/model/unload"
	promptsEndpoint  = "/v1/prompts"
	generateEndpoint = "/v1/generate"

	// maxErrorBody bounds how much of an error response is quoted in errors.
	maxErrorBody = 512
)

// ModelName returns the Hugging Face model ID of the base voice-clone model of
// the given size ("0.6B" or "1.7B").
func ModelName(size string) string {
	if size == "" {
		size = defaultSize
	}
	return "Qwen/Qwen3-TTS-12Hz-" + size + "-Base"
}

// ---- options ----

// Option is a functional option for configuring a Qwen Provider.
type Option func(*Provider)

// WithModel sets the model ID loaded by the server. Defaults to
// ModelName("1.7B").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithDevice sets the torch device the server loads the model on.
func WithDevice(device string) Option {
	return func(p *Provider) {
		p.device = device
	}
}

// WithLanguage sets the language hint sent with every generate request.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout. Zero, the default, means no
// timeout: model loads and long utterances can take minutes.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// ---- Provider ----

// Provider implements tts.Provider against a Qwen3-TTS model server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	device     string
	language   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider targeting the model server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("qwen: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		model:      ModelName(defaultSize),
		device:     defaultDevice,
		language:   defaultLanguage,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Model returns the configured model ID.
func (p *Provider) Model() string { return p.model }

// ---- internal request/response types ----

type loadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

type generateRequest struct {
	Text     string `json:"text"`
	PromptID string `json:"prompt_id"`
	Language string `json:"language,omitempty"`
}

// ---- Provider methods ----

// Load asks the server to load the configured model onto the device. The
// server treats a repeated load of the same model as a no-op.
func (p *Provider) Load(ctx context.Context) error {
	resp, err := p.postJSON(ctx, loadEndpoint, loadRequest{Model: p.model, Device: p.device})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Unload asks the server to free the model and every prompt built with it.
func (p *Provider) Unload(ctx context.Context) error {
	resp, err := p.postJSON(ctx, unloadEndpoint, struct{}{})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// BuildPrompt uploads the reference recording and transcript and returns the
// server-side prompt handle.
func (p *Provider) BuildPrompt(ctx context.Context, ref tts.Reference) (tts.Prompt, error) {
	wav, err := os.ReadFile(ref.AudioPath)
	if err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: read reference audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", filepath.Base(ref.AudioPath))
	if err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: write form file: %w", err)
	}
	if err := mw.WriteField("transcript", ref.Transcript); err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: write transcript field: %w", err)
	}
	if err := mw.WriteField("name", ref.Name); err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: write name field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: close multipart writer: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, promptsEndpoint, mw.FormDataContentType(), &body)
	if err != nil {
		return tts.Prompt{}, err
	}
	defer resp.Body.Close()

	var pr promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return tts.Prompt{}, fmt.Errorf("qwen: decode prompt response: %w", err)
	}
	if pr.PromptID == "" {
		return tts.Prompt{}, errors.New("qwen: prompt response missing prompt_id")
	}
	return tts.Prompt{Voice: ref.Name, ID: pr.PromptID}, nil
}

// Synthesize generates one utterance and returns its PCM at the model's native
// sample rate.
func (p *Provider) Synthesize(ctx context.Context, text string, prompt tts.Prompt) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	if prompt.ID == "" {
		return tts.Audio{}, errors.New("qwen: prompt has no prompt_id")
	}

	resp, err := p.postJSON(ctx, generateEndpoint, generateRequest{
		Text:     text,
		PromptID: prompt.ID,
		Language: p.language,
	})
	if err != nil {
		return tts.Audio{}, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("qwen: read WAV response: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("qwen: decode WAV response: %w", err)
	}
	return tts.Audio{PCM: pcm, Format: format}, nil
}

// ---- helpers ----

func (p *Provider) postJSON(ctx context.Context, endpoint string, v any) (*http.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("qwen: marshal %s request: %w", endpoint, err)
	}
	return p.do(ctx, http.MethodPost, endpoint, "application/json", bytes.NewReader(data))
}

// do sends a request and returns the response if the status is 2xx. The
// caller closes the body.
func (p *Provider) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.serverURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("qwen: create %s request: %w", endpoint, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: %s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("qwen: %s %s returned status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
