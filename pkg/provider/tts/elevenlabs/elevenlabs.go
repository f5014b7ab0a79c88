// Package elevenlabs provides an ElevenLabs-backed tts.Provider. Reference
// recordings are registered as instant voice clones and utterances are
// synthesised over the streaming WebSocket API.
package elevenlabs

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
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/mimic/pkg/audio"
	"github.com/MrWong99/mimic/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "pcm_24000"

	voicesPath   = "/v1/voices"
	addVoicePath = "/v1/voices/add"
	streamPath   = "/v1/text-to-speech/%s/stream-input"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_24000",
// "pcm_44100"). Only pcm_* formats are supported.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the API base URL. The WebSocket URL is derived from
// it by swapping the scheme.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	httpClient   *http.Client

	mu      sync.Mutex
	created []string // voice IDs added by this process
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := parseOutputFormat(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// ---- Load / Unload ----

// Load verifies the API key by listing voices.
func (p *Provider) Load(ctx context.Context) error {
	req, err := p.newRequest(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Unload deletes every voice this process added so clones do not pile up in
// the account. All deletions are attempted; failures are joined.
func (p *Provider) Unload(ctx context.Context) error {
	p.mu.Lock()
	ids := p.created
	p.created = nil
	p.mu.Unlock()

	var errs []error
	for _, id := range ids {
		req, err := p.newRequest(ctx, http.MethodDelete, p.baseURL+voicesPath+"/"+url.PathEscape(id), nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("elevenlabs: delete voice %s: %w", id, err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			errs = append(errs, fmt.Errorf("elevenlabs: delete voice %s: unexpected status %d", id, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}

// ---- BuildPrompt ----

// BuildPrompt registers the reference recording as an instant voice clone and
// returns its voice ID.
func (p *Provider) BuildPrompt(ctx context.Context, ref tts.Reference) (tts.Prompt, error) {
	wav, err := os.ReadFile(ref.AudioPath)
	if err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: read reference audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", ref.Name); err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: write name field: %w", err)
	}
	if ref.Transcript != "" {
		if err := mw.WriteField("description", ref.Transcript); err != nil {
			return tts.Prompt{}, fmt.Errorf("elevenlabs: write description field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("files", filepath.Base(ref.AudioPath))
	if err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, p.baseURL+addVoicePath, &body)
	if err != nil {
		return tts.Prompt{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: add voice HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: add voice: unexpected status %d", resp.StatusCode)
	}

	var av addVoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&av); err != nil {
		return tts.Prompt{}, fmt.Errorf("elevenlabs: add voice decode: %w", err)
	}
	if av.VoiceID == "" {
		return tts.Prompt{}, errors.New("elevenlabs: add voice response missing voice_id")
	}

	p.mu.Lock()
	p.created = append(p.created, av.VoiceID)
	p.mu.Unlock()

	return tts.Prompt{Voice: ref.Name, ID: av.VoiceID}, nil
}

// ---- Synthesize ----

// Synthesize opens a stream-input WebSocket for the prompt's voice, sends
// text followed by a flush and collects PCM until the final message.
func (p *Provider) Synthesize(ctx context.Context, text string, prompt tts.Prompt) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	if prompt.ID == "" {
		return tts.Audio{}, errors.New("elevenlabs: prompt has no voice_id")
	}
	format, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return tts.Audio{}, err
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(prompt.ID), nil)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(8 << 20)

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	msgs := []any{
		// ElevenLabs requires a non-empty first text value.
		boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: marshal message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	var pcm bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && pcm.Len() > 0 {
				break
			}
			return tts.Audio{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return tts.Audio{}, fmt.Errorf("elevenlabs: stream error: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Audio{}, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
			}
			pcm.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}
	return tts.Audio{PCM: pcm.Bytes(), Format: format}, nil
}

// ---- helpers ----

func (p *Provider) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	return req, nil
}

// streamURL builds the stream-input WebSocket URL for a voice.
func (p *Provider) streamURL(voiceID string) string {
	base := p.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return base + fmt.Sprintf(streamPath, url.PathEscape(voiceID)) + "?" + q.Encode()
}

// parseOutputFormat maps "pcm_<rate>" to a mono PCM format.
func parseOutputFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: invalid sample rate in output format %q", s)
	}
	return audio.Format{SampleRate: n, Channels: 1}, nil
}
