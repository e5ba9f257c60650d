// Package anyllm provides a translation gateway backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllm.WithAPIKey("sk-ant-..."))
//	out, err := p.Translate(ctx, "Guten Morgen.", "German", "English")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/interpreta/pkg/provider"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
)

var (
	_ translate.Provider         = (*Provider)(nil)
	_ provider.CredentialChecker = (*Provider)(nil)
)

// keyEnv lists the environment variables any-llm-go falls back to for hosted
// backends. Local backends need no key and are absent.
var keyEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"deepseek":  {"DEEPSEEK_API_KEY"},
	"mistral":   {"MISTRAL_API_KEY"},
	"groq":      {"GROQ_API_KEY"},
}

// Provider implements translate.Provider by wrapping any-llm-go.
type Provider struct {
	backend     anyllmlib.Provider
	name        string
	model       string
	apiKey      string
	temperature float64
}

type config struct {
	apiKey      string
	baseURL     string
	temperature float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the API key. Without it the backend's environment variable
// is used.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithBaseURL overrides the backend's endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTemperature sets the sampling temperature. The default is 0.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// New creates a Provider backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
func New(providerName, model string, opts ...Option) (*Provider, error) {
	if providerName == "" {
		return nil, errors.New("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	var libOpts []anyllmlib.Option
	if cfg.apiKey != "" {
		libOpts = append(libOpts, anyllmlib.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		libOpts = append(libOpts, anyllmlib.WithBaseURL(cfg.baseURL))
	}

	name := strings.ToLower(providerName)
	p := &Provider{
		name:        name,
		model:       model,
		apiKey:      cfg.apiKey,
		temperature: cfg.temperature,
	}
	// A hosted backend without a key cannot be constructed; leave it nil and
	// let CheckCredentials report it before the session starts.
	if p.CheckCredentials() != nil {
		return p, nil
	}

	backend, err := createBackend(name, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	p.backend = backend
	return p, nil
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch providerName {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// CheckCredentials implements provider.CredentialChecker. Local backends
// always pass.
func (p *Provider) CheckCredentials() error {
	envs, hosted := keyEnv[p.name]
	if !hosted || p.apiKey != "" {
		return nil
	}
	for _, e := range envs {
		if os.Getenv(e) != "" {
			return nil
		}
	}
	return provider.MissingCredential(p.name + " translation")
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	if p.backend == nil {
		return "", fmt.Errorf("anyllm: %w", p.CheckCredentials())
	}
	temp := p.temperature
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: translate.Instructions(src, tgt)},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temp,
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("anyllm: empty choices in response")
	}
	return translate.Clean(resp.Choices[0].Message.ContentString()), nil
}
