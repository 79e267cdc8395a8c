package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Ollama calls a local Ollama instance. Like Gemini it is a generative-style
// backend: free text out, fences and wrappers stripped here.
type Ollama struct {
	host  string
	model string
}

func NewOllama(host, model string) *Ollama {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &Ollama{host: host, model: model}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (p *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	content, err := p.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return normalizePlanJSON(content)
}

func (p *Ollama) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	content, err := p.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return stripFences(content), nil
}

func (p *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Backend: "ollama", Code: resp.StatusCode, Status: resp.Status}
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}

	if strings.TrimSpace(result.Response) == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}

	return result.Response, nil
}
