package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/interpreta/internal/app"
	"github.com/MrWong99/interpreta/internal/config"
	"github.com/MrWong99/interpreta/pkg/provider/stt"
	oaistt "github.com/MrWong99/interpreta/pkg/provider/stt/openai"
	"github.com/MrWong99/interpreta/pkg/provider/stt/whisper"
	"github.com/MrWong99/interpreta/pkg/provider/translate"
	"github.com/MrWong99/interpreta/pkg/provider/translate/anyllm"
	oaitranslate "github.com/MrWong99/interpreta/pkg/provider/translate/openai"
)

// registerBuiltinProviders registers every provider factory shipped with the
// binary.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Speech-to-text ───────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(entry.Timeout))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oaistt.WithPrompt(prompt))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...), nil
	})

	// ── Translation ──────────────────────────────────────────────────────────
	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []oaitranslate.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranslate.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaitranslate.WithOrganization(org))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaitranslate.WithTimeout(entry.Timeout))
		}
		return oaitranslate.New(entry.APIKey, entry.Model, opts...), nil
	})

	// Everything else goes through any-llm-go.
	for _, name := range []string{
		"anthropic", "gemini", "ollama", "deepseek",
		"mistral", "groq", "llamacpp", "llamafile",
	} {
		providerName := name
		reg.RegisterTranslate(providerName, func(entry config.ProviderEntry) (translate.Provider, error) {
			var opts []anyllm.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
			}
			if t, ok := optFloat(entry.Options, "temperature"); ok {
				opts = append(opts, anyllm.WithTemperature(t))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}
}

// buildProviders instantiates the providers named in cfg. Both kinds are
// required.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, providerError("stt", cfg.Providers.STT.Name, reg, err)
	}
	ps.STT = sttProvider
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	trProvider, err := reg.CreateTranslate(cfg.Providers.Translate)
	if err != nil {
		closeProviders(ps)
		return nil, providerError("translate", cfg.Providers.Translate.Name, reg, err)
	}
	ps.Translate = trProvider
	slog.Info("provider created", "kind", "translate", "name", cfg.Providers.Translate.Name)

	return ps, nil
}

func providerError(kind, name string, reg *config.Registry, err error) error {
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return fmt.Errorf("%s provider %q is not available (known: %v)", kind, name, reg.Names()[kind])
	}
	return fmt.Errorf("create %s provider %q: %w", kind, name, err)
}

// optString extracts a string option from a provider's Options map.
// Returns "" if the key is missing or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a numeric option. YAML decodes whole numbers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
