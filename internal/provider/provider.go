// Package provider abstracts the text-generation backends used for grouping
// and learning analysis. Every backend normalizes its own response envelope
// down to plain JSON text before returning it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers successfully but with
// no usable content (refusal, empty candidate list, blank text).
var ErrEmptyResponse = errors.New("provider returned empty content")

// StatusError is a non-success HTTP response from a backend.
type StatusError struct {
	Backend string
	Code    int
	Status  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", e.Backend, e.Code, e.Status)
}

// Provider generates text for a prompt. Cancellation travels through the
// context. Neither method retries; the caller decides whether to surface or
// cancel.
type Provider interface {
	// Generate answers a grouping prompt. The returned string is always a
	// JSON-encoded array of plan entries, never the backend's raw envelope.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateJSON answers a free-form prompt whose expected output is a
	// JSON document of the caller's choosing (used by the learning
	// analyzer). The backend envelope and any code fences are stripped,
	// but the document is returned as-is.
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Config selects and parameterizes the active backend. It is resolved once
// per call so a configuration change takes effect on the next run.
type Config struct {
	Backend string       `json:"backend"` // "openai", "gemini", "ollama"
	OpenAI  OpenAIConfig `json:"openai"`
	Gemini  GeminiConfig `json:"gemini"`
	Ollama  OllamaConfig `json:"ollama"`
}

type OpenAIConfig struct {
	Token string `json:"token"`
	Model string `json:"model"`
}

type GeminiConfig struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

type OllamaConfig struct {
	Host  string `json:"host"`
	Model string `json:"model"`
}

// DefaultConfig returns the configuration written back when none exists.
func DefaultConfig() Config {
	return Config{
		Backend: "openai",
		OpenAI:  OpenAIConfig{Model: "gpt-4o"},
		Gemini:  GeminiConfig{Model: "gemini-2.5-flash"},
		Ollama:  OllamaConfig{Host: "http://localhost:11434", Model: "llama3.2"},
	}
}

// Resolve returns the backend named by the config.
func Resolve(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case "", "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("openai: no API token configured")
		}
		return NewOpenAI(cfg.OpenAI.Token, cfg.OpenAI.Model), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("gemini: no API key configured")
		}
		return NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model), nil
	case "ollama":
		return NewOllama(cfg.Ollama.Host, cfg.Ollama.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider backend %q", cfg.Backend)
	}
}

// Factory resolves a Provider at call time. The orchestrator and analyzer
// hold a Factory, not a Provider, so config changes apply per run.
type Factory func(ctx context.Context) (Provider, error)

// stripFences removes markdown code-fence wrappers that generative backends
// like to add around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
