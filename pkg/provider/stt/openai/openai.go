// Package openai provides a speech-to-text gateway backed by the OpenAI audio
// transcription API (or any server implementing it).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/interpreta/pkg/audio"
	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "whisper-1"

var (
	_ stt.Provider               = (*Provider)(nil)
	_ provider.CredentialChecker = (*Provider)(nil)
)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	apiKey string
	model  oai.AudioModel
	prompt string
}

type config struct {
	baseURL string
	timeout time.Duration
	prompt  string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithPrompt sets a prompt that biases recognition toward its vocabulary.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// New constructs a Provider. An empty apiKey is accepted here and reported by
// CheckCredentials so the pipeline can refuse to start.
func New(apiKey, model string, opts ...Option) *Provider {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		apiKey: apiKey,
		model:  oai.AudioModel(model),
		prompt: cfg.prompt,
	}
}

// CheckCredentials implements provider.CredentialChecker.
func (p *Provider) CheckCredentials() error {
	if p.apiKey == "" {
		return provider.MissingCredential("openai transcription")
	}
	return nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, seg audio.Segment, lang string) (string, error) {
	data, mime := seg.Data, seg.MIME
	if mime != audio.MIMEWAV {
		data, mime = audio.EncodeWAV(seg.Data, seg.Format), audio.MIMEWAV
	}

	params := oai.AudioTranscriptionNewParams{
		File:        oai.File(bytes.NewReader(data), "segment.wav", mime),
		Model:       p.model,
		Temperature: oai.Float(0),
	}
	if lang != "" {
		params.Language = oai.String(primaryTag(lang))
	}
	if p.prompt != "" {
		params.Prompt = oai.String(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// primaryTag reduces a BCP-47 tag such as "en-US" to the ISO 639-1 code the
// transcription endpoint expects.
func primaryTag(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
