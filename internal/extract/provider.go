// Package extract turns a normalized receipt image (or its OCR text) into a
// typed extraction record via interchangeable providers.
//
// Providers implement one interface and register a name; selection happens
// once at startup from configuration, never per request and never by
// inspecting content. Transport, auth and rate-limit failures are fatal for
// the job: the service does not silently fall back to a different provider,
// so behavior stays predictable and auditable.
package extract

import (
	"context"
	"fmt"

	"github.com/veridoc/receipt-ocr-service/internal/models"
)

// Provider is the uniform extraction capability.
type Provider interface {
	// Name identifies the variant in logs and persisted results.
	Name() string

	// NeedsText reports whether the variant consumes OCR text. Vision
	// variants return false and the orchestrator skips the OCR stage
	// entirely for them.
	NeedsText() bool

	// Parse produces a schema-valid extraction from the normalized image
	// and, for text variants, the OCR text. Implementations either return
	// a fully-typed result or an error; partially-typed data never
	// escapes.
	Parse(ctx context.Context, image []byte, text string) (*models.ExtractionResult, error)
}

// ProviderUnavailableError reports a transport, authentication or rate-limit
// failure talking to a provider. Fatal: operators must reconfigure and
// resubmit.
type ProviderUnavailableError struct {
	Provider string
	Cause    error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Cause)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Cause }

// SchemaError reports provider output that does not conform to the reply
// schema. Fatal rather than guessed at, to avoid persisting wrong data.
type SchemaError struct {
	Provider string
	Cause    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("provider %s returned non-conforming output: %v", e.Provider, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// New builds the configured provider. The lookup is static: unknown names are
// a startup error, not a runtime fallback.
func New(cfg models.AIConfig) (Provider, error) {
	textMode := cfg.Mode == "text"
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		return NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, textMode), nil
	case "gemini":
		return NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "ollama":
		return NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model, textMode), nil
	case "fallback", "":
		return NewFallback(), nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", cfg.Provider)
	}
}
