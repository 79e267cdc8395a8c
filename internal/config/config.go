// Package config persists user-editable settings: the active provider and
// its credentials, grouping behavior toggles, and prompt customizations.
// Missing keys are filled with defaults and written back. Concurrent
// writers are not reconciled; last write wins.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lotas/tabgruppen/internal/provider"
	"github.com/lotas/tabgruppen/internal/types"
)

// Config is the on-disk document at ~/.config/tabgruppen/config.json.
type Config struct {
	Port         int             `json:"port"`
	Provider     provider.Config `json:"provider"`
	Settings     types.Settings  `json:"settings"`
	Instructions string          `json:"customInstructions"`
}

// DefaultPort is where the bridge listens for the extension.
const DefaultPort = 8674

func defaults() Config {
	return Config{
		Port:     DefaultPort,
		Provider: provider.DefaultConfig(),
		Settings: types.DefaultSettings(),
	}
}

// File reads and writes one config document. Every read hits the disk so
// edits from another process take effect on the next run.
type File struct {
	path string
}

// DefaultPath returns ~/.config/tabgruppen/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tabgruppen", "config.json"), nil
}

// Open binds to a config path without touching the disk yet.
func Open(path string) *File {
	return &File{path: path}
}

// Load reads the document, creating it with defaults if absent. Unknown
// fields are preserved only until the next write.
func (f *File) Load() (Config, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		cfg := defaults()
		if err := f.Save(cfg); err != nil {
			return Config{}, err
		}
		return applyEnv(cfg), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return applyEnv(cfg), nil
}

// Save writes the document, creating parent directories as needed.
func (f *File) Save(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, append(raw, '\n'), 0o600)
}

// applyEnv lets the environment override credentials and hosts, which
// keeps secrets out of the config file when preferred.
func applyEnv(cfg Config) Config {
	if v := os.Getenv("TABGRUPPEN_BACKEND"); v != "" {
		cfg.Provider.Backend = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Provider.OpenAI.Token = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Provider.Gemini.APIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Provider.Ollama.Host = v
	}
	if v := os.Getenv("TABGRUPPEN_MODEL"); v != "" {
		switch cfg.Provider.Backend {
		case "openai":
			cfg.Provider.OpenAI.Model = v
		case "gemini":
			cfg.Provider.Gemini.Model = v
		default:
			cfg.Provider.Ollama.Model = v
		}
	}
	return cfg
}

// Behavior returns the grouping behavior settings.
func (f *File) Behavior() (types.Settings, error) {
	cfg, err := f.Load()
	if err != nil {
		return types.Settings{}, err
	}
	return cfg.Settings, nil
}

// PromptInstructions returns the user's extra prompt text, if any.
func (f *File) PromptInstructions() (string, error) {
	cfg, err := f.Load()
	if err != nil {
		return "", err
	}
	return cfg.Instructions, nil
}

// ProviderConfig returns the provider selection and credentials.
func (f *File) ProviderConfig() (provider.Config, error) {
	cfg, err := f.Load()
	if err != nil {
		return provider.Config{}, err
	}
	return cfg.Provider, nil
}

// UpdateSettings replaces the behavior settings.
func (f *File) UpdateSettings(s types.Settings) error {
	cfg, err := f.Load()
	if err != nil {
		return err
	}
	cfg.Settings = s
	return f.Save(cfg)
}
